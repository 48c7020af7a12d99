package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"eventsnap/pkg/logger"
)

func testHandler(cfg SecConfig) http.Handler {
	logger.Init()
	return Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Role", RoleFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	h := testHandler(SecConfig{
		BackendKeys: map[string]struct{}{"bk": {}},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestMiddlewareResolvesRoles(t *testing.T) {
	h := testHandler(SecConfig{
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer bk")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("X-Role") != "backend" {
		t.Fatalf("bearer backend key: code %d role %q", rr.Code, rr.Header().Get("X-Role"))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("X-API-Key", "fk")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("X-Role") != "frontend" {
		t.Fatalf("frontend key: code %d role %q", rr.Code, rr.Header().Get("X-Role"))
	}
}

func TestMiddlewareAllowUnauth(t *testing.T) {
	h := testHandler(SecConfig{AllowUnauth: true})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("X-Role") != "unauth" {
		t.Fatalf("unauth request: code %d role %q", rr.Code, rr.Header().Get("X-Role"))
	}
}

func TestMiddlewareHealthBypass(t *testing.T) {
	h := testHandler(SecConfig{
		BackendKeys: map[string]struct{}{"bk": {}},
	})
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("probe %s blocked: %d", path, rr.Code)
		}
	}
}

func TestMiddlewareRateLimit(t *testing.T) {
	h := testHandler(SecConfig{
		BackendKeys: map[string]struct{}{"bk": {}},
		RPS:         1,
		Burst:       2,
	})
	limited := false
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
		req.Header.Set("X-API-Key", "bk")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatalf("burst of requests was never rate limited")
	}
}

func TestLimiterPoolPerKey(t *testing.T) {
	p := &limiterPool{cfg: SecConfig{RPS: 1, Burst: 1}}
	if !p.Allow("a") {
		t.Fatalf("first request for key a should pass")
	}
	if p.Allow("a") {
		t.Fatalf("second immediate request for key a should be limited")
	}
	// a different key has its own bucket
	if !p.Allow("b") {
		t.Fatalf("first request for key b should pass")
	}
}
