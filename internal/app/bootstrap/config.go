// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// Dispatch modes.
const (
	DispatchLocal = "local"
	DispatchHTTP  = "http"
)

// appConfigKeys defines the configuration keys for invitegate.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, api_secret, etc.
//   - Environment variables: INVITEGATE_MONGO_URI, INVITEGATE_API_SECRET, etc.
//   - Command-line flags: --mongo_uri, --api_secret, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "invitegate", Desc: "MongoDB database name"},

	{Name: "api_secret", Default: "", Desc: "Shared secret the storefront sends in X-Api-Secret"},
	{Name: "rate_limit_per_minute", Default: 60, Desc: "Invite creation requests per client IP per minute (0 disables)"},

	// Telegram
	{Name: "telegram_bot_token", Default: "", Desc: "Telegram bot token"},
	{Name: "telegram_chat_id", Default: "", Desc: "Chat the invites grant access to"},
	{Name: "telegram_api_base", Default: "https://api.telegram.org", Desc: "Telegram Bot API base URL"},
	{Name: "telegram_webhook_secret", Default: "", Desc: "Webhook secret_token (blank disables the check)"},

	// Marketing platform
	{Name: "marketing_api_base", Default: "", Desc: "Marketing event API base URL (blank disables notifications)"},
	{Name: "marketing_api_key", Default: "", Desc: "Marketing event API bearer key"},
	{Name: "marketing_link_event", Default: "telegram_link_created", Desc: "Event fired when an invite is minted"},
	{Name: "marketing_join_event", Default: "telegram_joined", Desc: "Event fired when an invite is redeemed"},

	// Lifecycle policy
	{Name: "track_joins", Default: true, Desc: "Correlate chat joins back to transactions"},
	{Name: "sync_mode", Default: false, Desc: "Mint inside the creation request instead of dispatching"},
	{Name: "recipient_preference", Default: lifecycle.PreferRequestRecipient, Desc: "Recipient backfill: 'request' or 'join'"},
	{Name: "max_attempts", Default: 10, Desc: "Mint attempts before a transaction fails"},
	{Name: "retry_base_delay", Default: "2s", Desc: "Backoff base delay"},
	{Name: "retry_max_delay", Default: "10m", Desc: "Backoff cap"},
	{Name: "mint_pacing", Default: "250ms", Desc: "Pause before each mint call"},
	{Name: "processing_lease", Default: "2m", Desc: "How long a processing claim blocks redelivery"},
	{Name: "external_timeout", Default: "15s", Desc: "Timeout for each third-party API call"},

	// Work dispatch
	{Name: "dispatch_mode", Default: DispatchLocal, Desc: "Work dispatcher: 'local' or 'http'"},
	{Name: "dispatch_queue_url", Default: "", Desc: "Task-queue API endpoint (http mode)"},
	{Name: "dispatch_target_url", Default: "", Desc: "Public URL of /internal/tasks/process-invite (http mode)"},
	{Name: "dispatch_client_id", Default: "", Desc: "OAuth2 client ID for the task-queue API"},
	{Name: "dispatch_client_secret", Default: "", Desc: "OAuth2 client secret for the task-queue API"},
	{Name: "dispatch_token_url", Default: "", Desc: "OAuth2 token URL for the task-queue API"},
	{Name: "dispatch_poll_interval", Default: "1s", Desc: "Local queue poll interval"},
	{Name: "task_signing_secret", Default: "", Desc: "Secret for signing worker task payloads (blank disables)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles .env and config files,
// environment variables (WAFFLE_* for core, INVITEGATE_* for app) and
// command-line flags, merged with precedence flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "INVITEGATE", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:      appValues.String("mongo_uri"),
		MongoDatabase: appValues.String("mongo_database"),

		APISecret:       appValues.String("api_secret"),
		RateLimitPerMin: appValues.Int("rate_limit_per_minute"),

		TelegramBotToken:      appValues.String("telegram_bot_token"),
		TelegramChatID:        appValues.String("telegram_chat_id"),
		TelegramAPIBase:       appValues.String("telegram_api_base"),
		TelegramWebhookSecret: appValues.String("telegram_webhook_secret"),

		MarketingAPIBase:   appValues.String("marketing_api_base"),
		MarketingAPIKey:    appValues.String("marketing_api_key"),
		MarketingLinkEvent: appValues.String("marketing_link_event"),
		MarketingJoinEvent: appValues.String("marketing_join_event"),

		TrackJoins:          appValues.Bool("track_joins"),
		SyncMode:            appValues.Bool("sync_mode"),
		RecipientPreference: strings.ToLower(appValues.String("recipient_preference")),
		MaxAttempts:         appValues.Int("max_attempts"),
		RetryBaseDelay:      appValues.Duration("retry_base_delay", 2*time.Second),
		RetryMaxDelay:       appValues.Duration("retry_max_delay", 10*time.Minute),
		MintPacing:          appValues.Duration("mint_pacing", 250*time.Millisecond),
		ProcessingLease:     appValues.Duration("processing_lease", 2*time.Minute),
		ExternalTimeout:     appValues.Duration("external_timeout", 15*time.Second),

		DispatchMode:         strings.ToLower(appValues.String("dispatch_mode")),
		DispatchQueueURL:     appValues.String("dispatch_queue_url"),
		DispatchTargetURL:    appValues.String("dispatch_target_url"),
		DispatchClientID:     appValues.String("dispatch_client_id"),
		DispatchClientSecret: appValues.String("dispatch_client_secret"),
		DispatchTokenURL:     appValues.String("dispatch_token_url"),
		DispatchPollInterval: appValues.Duration("dispatch_poll_interval", time.Second),
		TaskSigningSecret:    appValues.String("task_signing_secret"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// All problems are reported together.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	var problems []string

	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		problems = append(problems, fmt.Sprintf("invalid MongoDB URI: %v", err))
	}
	if appCfg.APISecret == "" {
		problems = append(problems, "api_secret is required")
	}
	if appCfg.TelegramBotToken == "" {
		problems = append(problems, "telegram_bot_token is required")
	}
	if appCfg.TelegramChatID == "" {
		problems = append(problems, "telegram_chat_id is required")
	}

	switch appCfg.RecipientPreference {
	case lifecycle.PreferRequestRecipient, lifecycle.PreferJoinRecipient:
	default:
		problems = append(problems, fmt.Sprintf("recipient_preference must be %q or %q", lifecycle.PreferRequestRecipient, lifecycle.PreferJoinRecipient))
	}

	if appCfg.MaxAttempts < 1 {
		problems = append(problems, "max_attempts must be at least 1")
	}
	if appCfg.RetryBaseDelay <= 0 || appCfg.ProcessingLease <= 0 || appCfg.ExternalTimeout <= 0 {
		problems = append(problems, "retry_base_delay, processing_lease and external_timeout must be positive")
	}
	if appCfg.RetryMaxDelay < appCfg.RetryBaseDelay {
		problems = append(problems, "retry_max_delay must not be below retry_base_delay")
	}

	switch appCfg.DispatchMode {
	case DispatchLocal:
		if appCfg.DispatchPollInterval <= 0 {
			problems = append(problems, "dispatch_poll_interval must be positive")
		}
	case DispatchHTTP:
		if appCfg.DispatchQueueURL == "" || appCfg.DispatchTargetURL == "" {
			problems = append(problems, "dispatch_mode=http requires dispatch_queue_url and dispatch_target_url")
		}
		if appCfg.DispatchClientID != "" && appCfg.DispatchTokenURL == "" {
			problems = append(problems, "dispatch_client_id requires dispatch_token_url")
		}
		// The worker endpoint is reachable from outside in http mode.
		if coreCfg != nil && coreCfg.Env == "prod" && appCfg.TaskSigningSecret == "" {
			problems = append(problems, "dispatch_mode=http in prod requires task_signing_secret")
		}
	default:
		problems = append(problems, fmt.Sprintf("dispatch_mode must be %q or %q", DispatchLocal, DispatchHTTP))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// lifecycleConfig maps AppConfig onto the controller's policy.
func lifecycleConfig(appCfg AppConfig) lifecycle.Config {
	cfg := lifecycle.DefaultConfig()
	cfg.MaxAttempts = appCfg.MaxAttempts
	cfg.RetryBaseDelay = appCfg.RetryBaseDelay
	cfg.RetryMaxDelay = appCfg.RetryMaxDelay
	cfg.MintPacing = appCfg.MintPacing
	cfg.ProcessingLease = appCfg.ProcessingLease
	cfg.SyncMode = appCfg.SyncMode
	cfg.TrackJoins = appCfg.TrackJoins
	cfg.RecipientPreference = appCfg.RecipientPreference
	if appCfg.MarketingLinkEvent != "" {
		cfg.LinkCreatedEvent = appCfg.MarketingLinkEvent
	}
	if appCfg.MarketingJoinEvent != "" {
		cfg.JoinedEvent = appCfg.MarketingJoinEvent
	}
	return cfg
}
