// Package proxy forwards inbound requests to the configured upstream API,
// attaching a credential drawn from the rotation pool to each one.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keygate/keygate/internal/core"
	apperrors "github.com/keygate/keygate/internal/errors"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/observability"
)

// Defaults applied when Options leaves a field empty.
const (
	DefaultPrefix     = "/proxy/"
	DefaultTimeout    = 180 * time.Second
	DefaultAuthHeader = "Authorization"
)

// flushInterval is how often streamed bodies are flushed to the client.
const flushInterval = 100 * time.Millisecond

// CredentialSource hands out one credential per call, blocking until one is
// available. *engine.Rotator satisfies it.
type CredentialSource interface {
	Acquire() core.Credential
}

// Options configures a Forwarder.
type Options struct {
	// BaseURL is the upstream root; the remainder of the inbound path is appended to it.
	BaseURL string

	// Prefix is stripped from the inbound path. Defaults to DefaultPrefix.
	Prefix string

	Timeout time.Duration

	// AuthHeader receives "<AuthScheme> <credential>", or the bare credential
	// when AuthScheme is empty.
	AuthHeader string
	AuthScheme string

	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client

	// BodyReadTimeout bounds reading the inbound body once a credential has
	// been granted. Zero leaves the read unbounded.
	BodyReadTimeout time.Duration
}

// Forwarder is an http.Handler that relays requests to a single upstream.
type Forwarder struct {
	source     CredentialSource
	baseURL    string
	prefix     string
	authHeader string
	authScheme string
	client     *http.Client

	bodyReadTimeout time.Duration
}

// New validates opts and returns a Forwarder drawing credentials from source.
func New(source CredentialSource, opts Options) (*Forwarder, error) {
	if source == nil {
		return nil, errors.New("proxy: credential source is required")
	}

	base := strings.TrimSpace(opts.BaseURL)
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("proxy: invalid base URL: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("proxy: base URL must be absolute http(s), got %q", opts.BaseURL)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	header := strings.TrimSpace(opts.AuthHeader)
	if header == "" {
		header = DefaultAuthHeader
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{
			Timeout: timeout,
			// Redirects are the caller's business; relay them unchanged.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return &Forwarder{
		source:     source,
		baseURL:    strings.TrimRight(base, "/"),
		prefix:     prefix,
		authHeader: header,
		authScheme: strings.TrimSpace(opts.AuthScheme),
		client:     client,

		bodyReadTimeout: opts.BodyReadTimeout,
	}, nil
}

// TargetURL joins the base URL with rest and appends rawQuery when present.
func (f *Forwarder) TargetURL(rest, rawQuery string) string {
	target := f.baseURL + "/" + strings.TrimPrefix(rest, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// authValue formats the credential for the auth header.
func (f *Forwarder) authValue(cred core.Credential) string {
	if f.authScheme == "" {
		return cred.String()
	}
	return f.authScheme + " " + cred.String()
}

// ServeHTTP acquires a credential (blocking while the pool is exhausted),
// forwards the request and relays the upstream response unchanged.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.EscapedPath(), strings.TrimSuffix(f.prefix, "/"))
	target := f.TargetURL(rest, r.URL.RawQuery)

	// The server's read deadline runs from the first byte of the request.
	// Waiting for quota must not consume it before the body is read.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})

	cred := f.source.Acquire()

	if f.bodyReadTimeout > 0 {
		_ = rc.SetReadDeadline(time.Now().Add(f.bodyReadTimeout))
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		env := apperrors.WrapInternal(r.Context(), err, "Unable to construct upstream request")
		apperrors.RespondWithEnvelope(w, r, env)
		return
	}
	outReq.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		outReq.Body = http.NoBody
	}
	copyHeaders(outReq.Header, r.Header)
	outReq.Header.Set(f.authHeader, f.authValue(cred))

	if observability.ServerLogger != nil {
		observability.ServerLogger.Debug("Forwarding request",
			zap.String("method", r.Method),
			zap.String("upstream_host", outReq.URL.Host),
			zap.String("upstream_path", outReq.URL.Path),
			zap.String("credential", cred.ID()))
	}

	start := time.Now()
	resp, err := f.client.Do(outReq)
	if err != nil {
		f.handleTransportError(w, r, cred, err)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	metrics.RecordUpstreamRequest(r.Method, resp.StatusCode, time.Since(start))

	// Headers the upstream sets replace any the gateway already put on the
	// response (the request ID, for one).
	for name := range resp.Header {
		w.Header().Del(name)
	}
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if err := copyBody(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to relay upstream response body",
			zap.String("upstream_path", outReq.URL.Path),
			zap.String("credential", cred.ID()),
			zap.Error(err))
	}
}

func (f *Forwarder) handleTransportError(w http.ResponseWriter, r *http.Request, cred core.Credential, err error) {
	errorType := classifyError(err)
	metrics.RecordUpstreamError(errorType)

	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Upstream request failed",
			zap.String("method", r.Method),
			zap.String("error_type", errorType),
			zap.String("credential", cred.ID()),
			zap.Error(err))
	}

	switch errorType {
	case "canceled":
		// Client went away; nobody is left to read a response.
		return
	case "timeout":
		apperrors.RespondWithEnvelope(w, r, apperrors.WrapTimeout(r.Context(), err, "Timed out contacting the target API"))
	default:
		apperrors.RespondWithEnvelope(w, r, apperrors.WrapExternalService(r.Context(), err, apperrors.MsgUpstreamUnreachable))
	}
}

func classifyError(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "transport"
}

// copyBody streams src to w, flushing periodically so event streams and
// long chunked responses are not held in the server's buffer.
func copyBody(w http.ResponseWriter, src io.Reader) error {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		_, err := io.Copy(w, src)
		return err
	}

	buf := make([]byte, 32*1024)
	lastFlush := time.Now()
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if time.Since(lastFlush) >= flushInterval {
				flusher.Flush()
				lastFlush = time.Now()
			}
		}
		if readErr == io.EOF {
			flusher.Flush()
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
