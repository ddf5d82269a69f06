// internal/app/system/limits/limits.go
package limits

// Request body size limits for the JSON endpoints.
// Bodies beyond the limit are truncated and fail to decode.
const (
	// MaxCreateBody bounds storefront invite creation requests.
	MaxCreateBody = 64 << 10 // 64 KB

	// MaxTaskBody bounds dispatcher task callbacks.
	MaxTaskBody = 16 << 10 // 16 KB

	// MaxUpdateBody bounds Telegram webhook updates.
	MaxUpdateBody = 1 << 20 // 1 MB
)
