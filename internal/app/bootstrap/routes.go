// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"
	"time"

	chatwebhookfeature "github.com/dalemusser/invitegate/internal/app/features/chatwebhook"
	healthfeature "github.com/dalemusser/invitegate/internal/app/features/health"
	invitesfeature "github.com/dalemusser/invitegate/internal/app/features/invites"
	workerfeature "github.com/dalemusser/invitegate/internal/app/features/worker"
	"github.com/dalemusser/invitegate/internal/app/system/auth"
	"github.com/dalemusser/invitegate/internal/app/system/ratelimit"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. At this point you have access to:
//   - coreCfg: WAFFLE core configuration (ports, env, timeouts, etc.)
//   - appCfg: app-specific configuration defined in AppConfig
//   - deps: the Mongo handles and the wired service graph
//   - logger: the fully configured zap.Logger for this app
//
// invitegate exposes storefront invite creation behind the shared secret,
// the Telegram chat-member webhook and health probes. In http dispatch mode
// it also exposes the worker callback for the external task queue.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	if deps.Services == nil || deps.Services.Controller == nil {
		return nil, errors.New("service graph not initialized")
	}
	ctrl := deps.Services.Controller

	r := chi.NewRouter()

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Storefront invite creation. The limiter runs first so secret guessing
	// is throttled too.
	var createMW []func(http.Handler) http.Handler
	if appCfg.RateLimitPerMin > 0 {
		limiter := ratelimit.New(appCfg.RateLimitPerMin, time.Minute)
		createMW = append(createMW, ratelimit.Middleware(limiter, logger))
	}
	createMW = append(createMW, auth.RequireSharedSecret(auth.APISecretHeader, appCfg.APISecret, logger))

	invitesHandler := invitesfeature.NewHandler(ctrl, logger)
	r.Mount("/api/invites", invitesfeature.Routes(invitesHandler, createMW...))

	// Dispatcher callback. Only the external queue calls it; the local poller
	// invokes the controller in-process.
	if appCfg.DispatchMode == DispatchHTTP {
		workerHandler := workerfeature.NewHandler(ctrl, deps.Services.Signer, logger)
		r.Mount("/internal/tasks", workerfeature.Routes(workerHandler))
	}

	// Telegram chat_member updates
	webhookHandler := chatwebhookfeature.NewHandler(ctrl, appCfg.TelegramWebhookSecret, logger)
	r.Mount("/webhooks/telegram", chatwebhookfeature.Routes(webhookHandler))

	return r, nil
}
