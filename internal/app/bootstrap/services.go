// internal/app/bootstrap/services.go
package bootstrap

import (
	"fmt"

	"github.com/dalemusser/invitegate/internal/app/store/lookup"
	"github.com/dalemusser/invitegate/internal/app/store/tasks"
	"github.com/dalemusser/invitegate/internal/app/system/dispatch"
	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/invitegate/internal/app/system/marketing"
	"github.com/dalemusser/invitegate/internal/app/system/telegram"
	"github.com/dalemusser/invitegate/internal/app/system/workers"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Services is the wired service graph shared by the handlers and workers.
type Services struct {
	Controller *lifecycle.Controller
	Signer     *dispatch.Signer

	// Poller drains the Mongo-backed task queue. It is nil in http dispatch
	// mode, where the external queue calls the worker endpoint instead.
	Poller *workers.DispatchPoller
}

func newServices(appCfg AppConfig, db *mongo.Database, logger *zap.Logger) (*Services, error) {
	signer, err := dispatch.NewSigner(appCfg.TaskSigningSecret)
	if err != nil {
		return nil, fmt.Errorf("task signer: %w", err)
	}

	issuer := telegram.New(telegram.Config{
		APIBase:  appCfg.TelegramAPIBase,
		BotToken: appCfg.TelegramBotToken,
		ChatID:   appCfg.TelegramChatID,
		Timeout:  appCfg.ExternalTimeout,
	}, logger)

	notifier := marketing.New(marketing.Config{
		APIBase: appCfg.MarketingAPIBase,
		APIKey:  appCfg.MarketingAPIKey,
		Timeout: appCfg.ExternalTimeout,
	}, logger)
	if !notifier.Enabled() {
		logger.Info("marketing notifications disabled (no marketing_api_base)")
	}

	svc := &Services{Signer: signer}

	var dispatcher lifecycle.Dispatcher
	var taskStore *tasks.Store
	switch appCfg.DispatchMode {
	case DispatchHTTP:
		dispatcher = dispatch.NewHTTP(dispatch.HTTPConfig{
			QueueURL:     appCfg.DispatchQueueURL,
			TargetURL:    appCfg.DispatchTargetURL,
			ClientID:     appCfg.DispatchClientID,
			ClientSecret: appCfg.DispatchClientSecret,
			TokenURL:     appCfg.DispatchTokenURL,
			Timeout:      appCfg.ExternalTimeout,
		}, signer, logger)
	default:
		taskStore = tasks.New(db)
		dispatcher = dispatch.NewLocal(taskStore, logger)
	}

	svc.Controller = lifecycle.New(lookup.New(db, logger), issuer, notifier, dispatcher, lifecycleConfig(appCfg), logger)

	if taskStore != nil {
		// A task held longer than the processing lease belongs to a dead poller.
		svc.Poller = workers.NewDispatchPoller(taskStore, svc.Controller, logger,
			appCfg.DispatchPollInterval, appCfg.ProcessingLease)
	}

	logger.Info("invite lifecycle configured",
		zap.String("dispatch_mode", appCfg.DispatchMode),
		zap.Bool("sync_mode", appCfg.SyncMode),
		zap.Bool("track_joins", appCfg.TrackJoins),
		zap.Bool("task_signatures", signer.Enabled()),
	)
	return svc, nil
}
