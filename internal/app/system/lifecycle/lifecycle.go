// Package lifecycle drives an invite transaction from request to join.
//
// A transaction moves queued → processing → {done | queued (retry) | failed};
// joined is a flag set once on a done transaction. The Controller keeps no
// state between calls: every invocation reloads the transaction from the
// Store, so the worker path may be retried or redelivered freely.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/invitegate/internal/domain/models"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRequest is returned for a creation request missing a user ID.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound is returned by a Store when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotClaimable is returned by Store.ClaimTransaction when the record is
	// terminal or another delivery holds it in processing.
	ErrNotClaimable = errors.New("transaction not claimable")
)

// Store is the durable lookup store for transactions and invite
// correlation records.
type Store interface {
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	// CreateTransaction inserts tx unless its ID exists; it then returns the
	// stored record and created=false.
	CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error)
	ClaimTransaction(ctx context.Context, id string, lease time.Duration, now time.Time) (models.Transaction, error)
	FailTransaction(ctx context.Context, id, reason string, now time.Time) error
	RequeueTransaction(ctx context.Context, id, lastErr string, now time.Time) error
	// CompleteIssuance writes the correlation record and then moves its
	// transaction to done, atomically where the backend allows.
	CompleteIssuance(ctx context.Context, rec models.InviteLink, now time.Time) error
	GetInviteLink(ctx context.Context, hash string) (models.InviteLink, error)
	// RecordJoin flips the transaction's joined flag if unset and mirrors
	// recipientID onto the correlation record. It reports whether this call
	// performed the flip.
	RecordJoin(ctx context.Context, txID, hash, recipientID string, at time.Time) (bool, error)
}

// Issuer mints a single-use invite link for a transaction.
type Issuer interface {
	Mint(ctx context.Context, transactionID string) (string, error)
}

// Notifier fires a marketing event. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, data map[string]any) bool
}

// Dispatcher schedules a later ProcessInvite call for a transaction.
type Dispatcher interface {
	Enqueue(ctx context.Context, transactionID string, delay time.Duration) error
}

// Recipient backfill preferences.
const (
	PreferRequestRecipient = "request"
	PreferJoinRecipient    = "join"
)

// Config holds the controller's policy knobs.
type Config struct {
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MintPacing      time.Duration
	ProcessingLease time.Duration

	// SyncMode mints inside RequestInvite instead of dispatching.
	SyncMode bool
	// TrackJoins enables the join correlation path.
	TrackJoins bool
	// RecipientPreference is PreferRequestRecipient or PreferJoinRecipient.
	RecipientPreference string

	LinkCreatedEvent string
	JoinedEvent      string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         10,
		RetryBaseDelay:      2 * time.Second,
		RetryMaxDelay:       10 * time.Minute,
		MintPacing:          250 * time.Millisecond,
		ProcessingLease:     2 * time.Minute,
		TrackJoins:          true,
		RecipientPreference: PreferRequestRecipient,
		LinkCreatedEvent:    "telegram_link_created",
		JoinedEvent:         "telegram_joined",
	}
}

// Controller orchestrates the store, issuer, notifier, and dispatcher.
type Controller struct {
	store      Store
	issuer     Issuer
	notifier   Notifier
	dispatcher Dispatcher
	cfg        Config
	log        *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// New constructs a Controller.
func New(store Store, issuer Issuer, notifier Notifier, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:      store,
		issuer:     issuer,
		notifier:   notifier,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        logger,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepCtx,
		newID:      NewTransactionID,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
