package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/keygate/keygate/internal/core"
)

// PoolView is the read-only side of the credential rotator.
type PoolView interface {
	Size() int
	Limit() int
	Window() time.Duration
	Snapshot() []core.CredentialStatus
}

// PoolResponse is the body of GET /pool. Secrets only appear masked.
type PoolResponse struct {
	Size        int                     `json:"size"`
	Limit       int                     `json:"limit"`
	Window      string                  `json:"window"`
	Available   int                     `json:"available"`
	Exhausted   int                     `json:"exhausted"`
	Timestamp   time.Time               `json:"timestamp"`
	Credentials []core.CredentialStatus `json:"credentials"`
}

// BuildPoolResponse summarizes a pool snapshot.
func BuildPoolResponse(pool PoolView) PoolResponse {
	snapshot := pool.Snapshot()
	resp := PoolResponse{
		Size:        pool.Size(),
		Limit:       pool.Limit(),
		Window:      pool.Window().String(),
		Timestamp:   time.Now().UTC(),
		Credentials: snapshot,
	}
	for _, status := range snapshot {
		if status.Exhausted {
			resp.Exhausted++
		} else {
			resp.Available++
		}
	}
	return resp
}

// PoolHandler serves the current quota usage of every credential.
func PoolHandler(pool PoolView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			respondWithError(w, r, notConfiguredError("credential pool not configured"))
			return
		}
		writeJSON(w, http.StatusOK, BuildPoolResponse(pool))
	}
}

// PoolChecker fails when the pool has no credentials to hand out.
func PoolChecker(pool PoolView) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		if pool == nil || pool.Size() == 0 {
			return fmt.Errorf("credential pool is empty")
		}
		return nil
	})
}

// UpstreamChecker dials the upstream host. It checks reachability only; no
// credential is spent.
func UpstreamChecker(baseURL string) HealthChecker {
	return CheckerFunc(func(ctx context.Context) error {
		addr, err := upstreamAddr(baseURL)
		if err != nil {
			return err
		}
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("upstream %s unreachable: %w", addr, err)
		}
		return conn.Close()
	})
}

func upstreamAddr(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid upstream URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("upstream URL %q has no host", baseURL)
	}
	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		default:
			return "", fmt.Errorf("unsupported upstream scheme %q", parsed.Scheme)
		}
	}
	return net.JoinHostPort(parsed.Hostname(), port), nil
}
