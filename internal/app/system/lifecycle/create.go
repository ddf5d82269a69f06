package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/dalemusser/invitegate/internal/domain/models"
	"go.uber.org/zap"
)

// InviteRequest is a creation request from the storefront.
type InviteRequest struct {
	UserID        string
	RecipientID   string
	TransactionID string
}

// InviteResult is returned by RequestInvite. InviteLink is only set in sync
// mode once the link exists.
type InviteResult struct {
	TransactionID string
	InviteLink    string
	Created       bool
}

// RequestInvite accepts a creation request. A request for an ID that already
// exists is a no-op returning that ID; nothing is minted or notified again.
func (c *Controller) RequestInvite(ctx context.Context, req InviteRequest) (InviteResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return InviteResult{}, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}

	id := strings.TrimSpace(req.TransactionID)
	if id == "" {
		id = c.newID()
	}

	now := c.now()
	tx, created, err := c.store.CreateTransaction(ctx, models.Transaction{
		ID:          id,
		UserID:      userID,
		RecipientID: strings.TrimSpace(req.RecipientID),
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return InviteResult{}, fmt.Errorf("create transaction: %w", err)
	}

	log := c.log.With(zap.String("transaction_id", id))

	if !created {
		log.Info("duplicate invite request ignored", zap.String("status", tx.Status))
		// A queued record that was never attempted may have lost its
		// dispatch when the first request failed part-way. Once it has sat
		// unclaimed for a full lease, hand it off again.
		if tx.Status == models.StatusQueued && tx.Attempts == 0 && !c.cfg.SyncMode &&
			now.Sub(tx.UpdatedAt) >= c.cfg.ProcessingLease {
			if err := c.dispatcher.Enqueue(ctx, id, 0); err != nil {
				return InviteResult{}, fmt.Errorf("re-enqueue transaction: %w", err)
			}
		}
		return InviteResult{TransactionID: id, InviteLink: tx.InviteLink}, nil
	}

	log.Info("invite requested", zap.String("user_id", userID))

	if !c.cfg.SyncMode {
		if err := c.dispatcher.Enqueue(ctx, id, 0); err != nil {
			return InviteResult{}, fmt.Errorf("enqueue transaction: %w", err)
		}
		return InviteResult{TransactionID: id, Created: true}, nil
	}

	outcome, err := c.ProcessInvite(ctx, id)
	if err != nil {
		return InviteResult{}, err
	}
	res := InviteResult{TransactionID: id, Created: true}
	if outcome == OutcomeDone {
		done, err := c.store.GetTransaction(ctx, id)
		if err != nil {
			return InviteResult{}, fmt.Errorf("reload transaction: %w", err)
		}
		res.InviteLink = done.InviteLink
	}
	return res, nil
}
