package bootstrap

import (
	"net/http"
	"strings"
	"testing"

	"github.com/dalemusser/invitegate/internal/app/system/auth"
	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/invitegate/internal/testutil"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// newTestRouter wires BuildHandler over a controller with no backends; the
// requests below are all answered before the controller is consulted.
func newTestRouter(t *testing.T, appCfg AppConfig) http.Handler {
	t.Helper()
	deps := DBDeps{Services: &Services{
		Controller: lifecycle.New(nil, nil, nil, nil, lifecycle.DefaultConfig(), zap.NewNop()),
	}}
	h, err := BuildHandler(&config.CoreConfig{Env: "dev"}, appCfg, deps, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildHandler failed: %v", err)
	}
	return h
}

func TestBuildHandler_RequiresServices(t *testing.T) {
	if _, err := BuildHandler(&config.CoreConfig{}, validAppConfig(), DBDeps{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing service graph")
	}
}

func TestBuildHandler_Routes(t *testing.T) {
	h := newTestRouter(t, validAppConfig())

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		header     map[string]string
		wantStatus int
		wantBody   string
	}{
		{"liveness", http.MethodGet, "/health", "", nil, http.StatusOK, "ok"},
		{"create without secret", http.MethodPost, "/api/invites", `{"userId":"u1"}`, nil, http.StatusUnauthorized, ""},
		{"create with wrong secret", http.MethodPost, "/api/invites", `{"userId":"u1"}`,
			map[string]string{auth.APISecretHeader: "nope"}, http.StatusUnauthorized, ""},
		{"create with secret but no user", http.MethodPost, "/api/invites", `{}`,
			map[string]string{auth.APISecretHeader: "s3cret"}, http.StatusBadRequest, ""},
		{"worker not mounted in local mode", http.MethodPost, "/internal/tasks/process-invite", `{"transactionId":"tx1"}`, nil, http.StatusNotFound, ""},
		{"webhook without chat_member", http.MethodPost, "/webhooks/telegram", `{"update_id":1}`, nil, http.StatusOK, "ignored"},
		{"unknown path", http.MethodGet, "/nope", "", nil, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.NewJSONRequest(t, tt.method, tt.target, tt.body)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := testutil.NewRecorder()
			h.ServeHTTP(rec, req)

			rec.AssertStatus(t, tt.wantStatus)
			if tt.wantBody != "" {
				rec.AssertBody(t, tt.wantBody)
			}
		})
	}
}

func TestBuildHandler_WorkerMountedInHTTPMode(t *testing.T) {
	cfg := validAppConfig()
	cfg.DispatchMode = DispatchHTTP
	h := newTestRouter(t, cfg)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/internal/tasks/process-invite", `{}`)
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, req)

	rec.AssertStatus(t, http.StatusOK)
	rec.AssertBody(t, "not_found")
}

func TestBuildHandler_RateLimitsCreation(t *testing.T) {
	cfg := validAppConfig()
	cfg.RateLimitPerMin = 1
	h := newTestRouter(t, cfg)

	send := func() int {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/invites", `{}`)
		req.Header.Set(auth.APISecretHeader, "s3cret")
		rec := testutil.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send(); got != http.StatusBadRequest {
		t.Fatalf("first request: got %d, want %d", got, http.StatusBadRequest)
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want %d", got, http.StatusTooManyRequests)
	}
}

func TestBuildHandler_UnauthorizedBody(t *testing.T) {
	h := newTestRouter(t, validAppConfig())
	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/invites", `{"userId":"u1"}`)
	rec := testutil.NewRecorder()
	h.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"unauthorized"`) {
		t.Errorf("body: got %q, want unauthorized error", rec.Body.String())
	}
}
