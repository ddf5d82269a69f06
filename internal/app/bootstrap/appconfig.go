// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings (ports, TLS, logging, CORS); everything specific
// to the invite service lives here and is passed to the lifecycle hooks.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI      string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase string // Database name within MongoDB

	// Storefront authentication
	APISecret       string // Shared secret expected in X-Api-Secret
	RateLimitPerMin int    // Creation requests per client IP per minute (0 disables)

	// Telegram
	TelegramBotToken      string
	TelegramChatID        string
	TelegramAPIBase       string
	TelegramWebhookSecret string // Expected X-Telegram-Bot-Api-Secret-Token (blank disables)

	// Marketing platform
	MarketingAPIBase   string // Blank disables notifications
	MarketingAPIKey    string
	MarketingLinkEvent string
	MarketingJoinEvent string

	// Lifecycle policy
	TrackJoins          bool
	SyncMode            bool
	RecipientPreference string // "request" or "join"
	MaxAttempts         int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	MintPacing          time.Duration
	ProcessingLease     time.Duration
	ExternalTimeout     time.Duration // Per-call bound for Telegram, marketing, and queue APIs

	// Work dispatch
	DispatchMode         string // "local" (Mongo queue + poller) or "http" (external task queue)
	DispatchQueueURL     string
	DispatchTargetURL    string
	DispatchClientID     string
	DispatchClientSecret string
	DispatchTokenURL     string
	DispatchPollInterval time.Duration
	TaskSigningSecret    string // Blank disables task signatures
}
