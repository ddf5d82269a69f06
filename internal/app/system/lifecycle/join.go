package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// JoinOutcome is the result of one join delivery.
type JoinOutcome string

const (
	JoinOK       JoinOutcome = "ok"
	JoinIgnored  JoinOutcome = "ignored"
	JoinNotFound JoinOutcome = "not_found"
)

// JoinEvent is a membership update observed on the chat platform.
type JoinEvent struct {
	InviteLink  string
	RecipientID string
	Status      string
	// IsMember qualifies the "restricted" status.
	IsMember bool
}

// IsActiveMembership reports whether a membership status counts as joined.
func IsActiveMembership(status string, isMember bool) bool {
	switch status {
	case "member", "administrator", "creator":
		return true
	case "restricted":
		return isMember
	}
	return false
}

// RecordJoin correlates a join back to its transaction and fires the joined
// notification exactly once, however often the platform redelivers.
func (c *Controller) RecordJoin(ctx context.Context, ev JoinEvent) (JoinOutcome, error) {
	if !c.cfg.TrackJoins {
		return JoinIgnored, nil
	}
	link := strings.TrimSpace(ev.InviteLink)
	if link == "" || !IsActiveMembership(ev.Status, ev.IsMember) {
		return JoinIgnored, nil
	}

	hash := Fingerprint(link)
	log := c.log.With(zap.String("invite_hash", hash))

	rec, err := c.store.GetInviteLink(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		log.Info("join for unknown invite")
		return JoinNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load invite link: %w", err)
	}

	log = log.With(zap.String("transaction_id", rec.TransactionID))
	tx, err := c.store.GetTransaction(ctx, rec.TransactionID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("invite link references a missing transaction")
		return JoinNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load transaction: %w", err)
	}
	if tx.Joined {
		return JoinOK, nil
	}

	recipient := c.resolveRecipient(tx.RecipientID, strings.TrimSpace(ev.RecipientID))
	joinedAt := c.now()

	flipped, err := c.store.RecordJoin(ctx, tx.ID, hash, recipient, joinedAt)
	if err != nil {
		return "", fmt.Errorf("record join: %w", err)
	}
	if !flipped {
		log.Info("duplicate join delivery ignored")
		return JoinOK, nil
	}

	log.Info("invite joined", zap.String("recipient_id", recipient))
	c.notifier.Notify(ctx, tx.UserID, c.cfg.JoinedEvent, map[string]any{
		"transactionId": tx.ID,
		"recipientId":   recipient,
		"joinedAt":      joinedAt,
	})
	return JoinOK, nil
}

func (c *Controller) resolveRecipient(requested, observed string) string {
	if c.cfg.RecipientPreference == PreferJoinRecipient {
		if observed != "" {
			return observed
		}
		return requested
	}
	if requested != "" {
		return requested
	}
	return observed
}
