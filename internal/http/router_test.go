package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/hivedesk/go-call-backend/internal/config"
	"github.com/hivedesk/go-call-backend/internal/http/handlers"
	"github.com/hivedesk/go-call-backend/internal/media"
	"github.com/hivedesk/go-call-backend/internal/push"
	"github.com/hivedesk/go-call-backend/internal/realtime"
	"github.com/hivedesk/go-call-backend/internal/repo"
)

func newTestConfig() config.Config {
	return config.Config{
		Port:        "0",
		GinMode:     "test",
		APIBasePath: "/api/v1",
		RateRPS:     1000,
		RateBurst:   1000,
		Media:       config.MediaConfig{TokenTTL: time.Hour},
		OTEL:        config.OTELConfig{ServiceName: "go-call-backend-test"},
	}
}

// newTestApp wires a complete engine against a throwaway SQLite file and
// unconfigured realtime/push adapters (their failures are swallowed by the
// service layer, which is exactly the production behavior when they are down).
func newTestApp(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "router_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	publisher, err := realtime.NewRedisPublisher(context.Background(), "")
	if err != nil {
		t.Fatalf("realtime: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, db, Deps{
		Tokens:   media.NewIssuer("test-app", "test-secret"),
		Realtime: publisher,
		Push:     push.NewHTTPNotifier("", "", zerolog.Nop()),
	}, newTestConfig())
	return r
}

func request(t *testing.T, r *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthAndFallbacks(t *testing.T) {
	r := newTestApp(t)

	if w := request(t, r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("/health: %d", w.Code)
	}

	w := request(t, r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route: %d", w.Code)
	}
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (body=%s)", err, w.Body.String())
	}
	if resp.Code != handlers.ErrCodeNotFound {
		t.Fatalf("code = %q", resp.Code)
	}

	if w := request(t, r, http.MethodDelete, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method fallback: %d", w.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	r := newTestApp(t)
	if w := request(t, r, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Fatalf("/metrics: %d", w.Code)
	}
}

func TestRouter_RequestIDPropagated(t *testing.T) {
	r := newTestApp(t)
	w := request(t, r, http.MethodGet, "/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID missing")
	}
}

func TestRouter_CORSDefaultAllowsAll(t *testing.T) {
	r := newTestApp(t)
	w := request(t, r, http.MethodGet, "/health", "", nil)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q, want *", got)
	}
}

// TestRouter_CallLifecycle drives a full call through the real stack: sync
// both directory entries, initiate, accept, end.
func TestRouter_CallLifecycle(t *testing.T) {
	r := newTestApp(t)

	for _, u := range []string{"alice", "bob"} {
		w := request(t, r, http.MethodPut, "/api/v1/users/"+u, "", gin.H{"display_name": u})
		if w.Code != http.StatusOK {
			t.Fatalf("sync %s: %d (body=%s)", u, w.Code, w.Body.String())
		}
	}

	w := request(t, r, http.MethodPost, "/api/v1/calls", "alice", gin.H{"callee_id": "bob"})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate: %d (body=%s)", w.Code, w.Body.String())
	}
	var grant handlers.CallGrantResponse
	if err := json.Unmarshal(w.Body.Bytes(), &grant); err != nil {
		t.Fatalf("decode grant: %v", err)
	}
	if grant.CallID == "" || grant.Token == "" {
		t.Fatalf("incomplete grant: %+v", grant)
	}

	// The callee can fetch the ringing call; the caller cannot.
	if w := request(t, r, http.MethodGet, "/api/v1/calls/"+grant.CallID, "bob", nil); w.Code != http.StatusOK {
		t.Fatalf("show to callee: %d (body=%s)", w.Code, w.Body.String())
	}
	if w := request(t, r, http.MethodGet, "/api/v1/calls/"+grant.CallID, "alice", nil); w.Code != http.StatusNotFound {
		t.Fatalf("show to caller: %d, want 404", w.Code)
	}

	w = request(t, r, http.MethodPost, "/api/v1/calls/"+grant.CallID+"/accept", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d (body=%s)", w.Code, w.Body.String())
	}

	// A second accept loses the state guard.
	if w := request(t, r, http.MethodPost, "/api/v1/calls/"+grant.CallID+"/accept", "bob", nil); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("double accept: %d, want 422", w.Code)
	}

	w = request(t, r, http.MethodPost, "/api/v1/calls/"+grant.CallID+"/end", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: %d (body=%s)", w.Code, w.Body.String())
	}

	// The finished call shows up in both histories.
	for _, u := range []string{"alice", "bob"} {
		w := request(t, r, http.MethodGet, "/api/v1/calls", u, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("history %s: %d", u, w.Code)
		}
		var hist handlers.CallHistoryResponse
		if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
			t.Fatalf("decode history: %v", err)
		}
		if hist.Pagination.Total != 1 || len(hist.Calls) != 1 {
			t.Fatalf("history %s: %+v", u, hist)
		}
		if hist.Calls[0].Call.ID != grant.CallID {
			t.Fatalf("history %s: wrong call %+v", u, hist.Calls[0])
		}
	}
}
