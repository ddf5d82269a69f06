// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/invitegate/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It applies
// the configured third-party timeout and starts the local dispatch poller
// when the app queues its own work.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{External: appCfg.ExternalTimeout})

	if deps.Services != nil && deps.Services.Poller != nil {
		deps.Services.Poller.Start()
	}
	return nil
}
