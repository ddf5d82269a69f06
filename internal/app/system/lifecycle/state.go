package lifecycle

import "github.com/dalemusser/invitegate/internal/domain/models"

// ValidTransition reports whether from → to is a legal status change.
// Joining is a flag on a done transaction and is not a status.
func ValidTransition(from, to string) bool {
	switch from {
	case models.StatusQueued:
		return to == models.StatusProcessing
	case models.StatusProcessing:
		// A stale processing record may be reclaimed after its lease.
		return to == models.StatusDone || to == models.StatusQueued ||
			to == models.StatusFailed || to == models.StatusProcessing
	case models.StatusDone, models.StatusFailed:
		return false
	}
	return false
}
