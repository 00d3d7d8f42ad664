package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/core/engine"
	apperrors "github.com/keygate/keygate/internal/errors"
	"github.com/keygate/keygate/internal/proxy"
	"github.com/keygate/keygate/internal/server/handlers"
)

func newGateway(t *testing.T, upstream http.Handler, keys ...string) (*Server, *engine.Rotator) {
	t.Helper()

	target := httptest.NewServer(upstream)
	t.Cleanup(target.Close)

	rotator, err := engine.NewRotator(keys, 100, time.Minute)
	require.NoError(t, err)

	forwarder, err := proxy.New(rotator, proxy.Options{BaseURL: target.URL})
	require.NoError(t, err)

	return New("127.0.0.1", 0, WithForwarder(forwarder), WithPool(rotator)), rotator
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestProxyRouteForwardsEveryAllowedMethod(t *testing.T) {
	var (
		mu       sync.Mutex
		seenAuth []string
	)
	srv, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenAuth = append(seenAuth, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Header().Set("X-Upstream-Method", r.Method)
		w.Header().Set("X-Upstream-Path", r.URL.RequestURI())
		w.WriteHeader(http.StatusAccepted)
	}), "key-a", "key-b")

	for _, method := range ProxyMethods {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, "/proxy/v1/things?x=1", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code, method)
		assert.Equal(t, method, rec.Header().Get("X-Upstream-Method"))
		assert.Equal(t, "/v1/things?x=1", rec.Header().Get("X-Upstream-Path"))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Bearer key-a", "Bearer key-b", "Bearer key-a", "Bearer key-b", "Bearer key-a"}, seenAuth)
}

func TestProxyRouteRejectsOtherMethods(t *testing.T) {
	var called atomic.Bool
	srv, rotator := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}), "key-a")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/proxy/v1/things", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, called.Load())
	assert.Equal(t, 0, rotator.Snapshot()[0].Count, "rejected requests must not consume quota")
}

func TestProxyRouteRelaysUpstreamBody(t *testing.T) {
	srv, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("echo:" + string(body)))
	}), "key-a")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/proxy/echo", strings.NewReader("hello")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo:hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestPoolRoute(t *testing.T) {
	srv, rotator := newGateway(t, http.NotFoundHandler(), "key-aaaaaaaaaaaa", "key-bbbbbbbbbbbb")
	rotator.Acquire()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pool", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.PoolResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Size)
	assert.Equal(t, 1, resp.Credentials[0].Count)
	assert.NotContains(t, rec.Body.String(), "key-aaaaaaaaaaaa")
}

func TestProxyRouteAbsentWithoutForwarder(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/anything", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartAndShutdown(t *testing.T) {
	srv, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), "key-a")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	require.Eventually(t, func() bool {
		if srv.Port() == 0 {
			return false
		}
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(srv.Port()) + "/proxy/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "ok"
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, http.ErrServerClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestProxyRouteRelaysUpstreamRequestIDUnchanged(t *testing.T) {
	inbound := make(chan http.Header, 1)
	srv, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inbound <- r.Header.Clone()
		w.Header().Set("X-Request-ID", "upstream-id")
		w.WriteHeader(http.StatusOK)
	}), "key-a")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy/items", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"upstream-id"}, rec.Header().Values("X-Request-ID"))
	assert.Empty(t, (<-inbound).Values("X-Request-ID"), "gateway must not add a request ID upstream")
}

func TestProxyRouteKeepsGatewayRequestIDWhenUpstreamHasNone(t *testing.T) {
	srv, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), "key-a")

	req := httptest.NewRequest(http.MethodGet, "/proxy/items", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, []string{"caller-id"}, rec.Header().Values("X-Request-ID"))
}

// startServer runs srv on a loopback port and shuts it down at cleanup.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	require.Eventually(t, func() bool { return srv.Port() != 0 }, 2*time.Second, 10*time.Millisecond)
	baseURL := "http://127.0.0.1:" + strconv.Itoa(srv.Port())
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return baseURL
}

func TestProxyRouteLargeBodySurvivesWaitForCredential(t *testing.T) {
	received := make(chan int, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		received <- int(n)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	window := 1200 * time.Millisecond
	rotator, err := engine.NewRotator([]string{"only-key"}, 1, window)
	require.NoError(t, err)
	rotator.Acquire() // spend the quota so the next request must wait

	forwarder, err := proxy.New(rotator, proxy.Options{
		BaseURL:         target.URL,
		BodyReadTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	srv := New("127.0.0.1", 0,
		WithForwarder(forwarder),
		WithPool(rotator),
		WithTimeouts(Timeouts{Read: 300 * time.Millisecond, Idle: time.Second}),
	)
	baseURL := startServer(t, srv)

	payload := strings.Repeat("x", 512*1024)
	start := time.Now()
	resp, err := http.Post(baseURL+"/proxy/v1/chat", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond, "request should have waited for the window")

	select {
	case n := <-received:
		assert.Equal(t, len(payload), n)
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never received the request")
	}
}
