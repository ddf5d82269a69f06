package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/invitegate/internal/domain/models"
	"go.uber.org/zap"
)

// Outcome is the result of one worker-path invocation.
type Outcome string

const (
	OutcomeDone           Outcome = "done"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeFailed         Outcome = "failed"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeAlreadyDone    Outcome = "already_done"
)

// minFollowUpDelay is the earliest a follow-up for a leased record runs.
const minFollowUpDelay = time.Second

// ProcessInvite runs the worker path for one transaction. It is safe to
// call any number of times for the same ID: a done transaction is never
// minted again and a failed one is never retried.
//
// A non-nil error means the store could not be read or written; the caller
// should let its own delivery mechanism retry.
func (c *Controller) ProcessInvite(ctx context.Context, id string) (Outcome, error) {
	log := c.log.With(zap.String("transaction_id", id))

	tx, err := c.store.GetTransaction(ctx, id)
	if errors.Is(err, ErrNotFound) {
		log.Info("process invite: transaction not found")
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load transaction: %w", err)
	}
	if outcome, ok := settledOutcome(tx); ok {
		return outcome, nil
	}

	claimed, err := c.store.ClaimTransaction(ctx, id, c.cfg.ProcessingLease, c.now())
	if errors.Is(err, ErrNotClaimable) {
		return c.unclaimableOutcome(ctx, log, id)
	}
	if err != nil {
		return "", fmt.Errorf("claim transaction: %w", err)
	}
	log = log.With(zap.Int("attempt", claimed.Attempts))

	if claimed.Attempts > c.cfg.MaxAttempts {
		reason := fmt.Sprintf("max attempts exceeded (%d)", c.cfg.MaxAttempts)
		if claimed.LastError != "" {
			reason += ": " + claimed.LastError
		}
		if err := c.store.FailTransaction(ctx, id, reason, c.now()); err != nil {
			return "", fmt.Errorf("fail transaction: %w", err)
		}
		log.Warn("invite permanently failed", zap.String("last_error", claimed.LastError))
		return OutcomeFailed, nil
	}

	if err := c.sleep(ctx, c.cfg.MintPacing); err != nil {
		return "", err
	}

	link, err := c.issuer.Mint(ctx, id)
	if err != nil {
		return c.scheduleRetry(ctx, log, claimed, err)
	}

	now := c.now()
	rec := models.InviteLink{
		Hash:          Fingerprint(link),
		TransactionID: id,
		UserID:        claimed.UserID,
		RecipientID:   claimed.RecipientID,
		InviteLink:    link,
		CreatedAt:     now,
	}
	if err := c.store.CompleteIssuance(ctx, rec, now); err != nil {
		log.Error("invite minted but not persisted", zap.Error(err))
		return "", fmt.Errorf("complete issuance: %w", err)
	}
	log.Info("invite issued", zap.String("invite_hash", rec.Hash))

	c.notifier.Notify(ctx, claimed.UserID, c.cfg.LinkCreatedEvent, map[string]any{
		"transactionId": id,
		"inviteLink":    link,
		"recipientId":   claimed.RecipientID,
		"attempts":      claimed.Attempts,
	})
	return OutcomeDone, nil
}

func (c *Controller) scheduleRetry(ctx context.Context, log *zap.Logger, tx models.Transaction, mintErr error) (Outcome, error) {
	delay := RetryDelay(tx.Attempts, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)

	if err := c.store.RequeueTransaction(ctx, tx.ID, mintErr.Error(), c.now()); err != nil {
		return "", fmt.Errorf("requeue transaction: %w", err)
	}
	if err := c.dispatcher.Enqueue(ctx, tx.ID, delay); err != nil {
		return "", fmt.Errorf("schedule retry: %w", err)
	}

	log.Warn("invite mint failed; retry scheduled",
		zap.Error(mintErr),
		zap.Duration("delay", delay))
	return OutcomeRetryScheduled, nil
}

// unclaimableOutcome re-reads a record whose claim was refused to tell a
// concurrent completion apart from a live in-flight attempt.
//
// A live lease may belong to a delivery that already gave up after its
// claim, so the refused delivery hands off a follow-up timed for the lease
// to lapse. Every acknowledged delivery of an unsettled record leaves one
// pending delivery behind.
func (c *Controller) unclaimableOutcome(ctx context.Context, log *zap.Logger, id string) (Outcome, error) {
	tx, err := c.store.GetTransaction(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("reload transaction: %w", err)
	}
	if outcome, ok := settledOutcome(tx); ok {
		return outcome, nil
	}

	delay := tx.UpdatedAt.Add(c.cfg.ProcessingLease).Sub(c.now())
	if delay < minFollowUpDelay {
		delay = minFollowUpDelay
	}
	if err := c.dispatcher.Enqueue(ctx, id, delay); err != nil {
		return "", fmt.Errorf("schedule follow-up: %w", err)
	}
	log.Info("transaction leased by another delivery; follow-up scheduled",
		zap.String("status", tx.Status),
		zap.Duration("delay", delay))
	return OutcomeRetryScheduled, nil
}

// settledOutcome reports the outcome for a record that can no longer be
// claimed for minting.
func settledOutcome(tx models.Transaction) (Outcome, bool) {
	if ValidTransition(tx.Status, models.StatusProcessing) {
		return "", false
	}
	if tx.Status == models.StatusDone {
		return OutcomeAlreadyDone, true
	}
	return OutcomeFailed, true
}
