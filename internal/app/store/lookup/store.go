// Package lookup is the durable lookup store behind the invite lifecycle:
// transactions by ID and invite correlation records by fingerprint.
//
// Writes that must land together (issuance, join) run through txn.Run, which
// uses a multi-document transaction when the deployment has one. Without
// one, the correlation record is written before the transaction update, so
// a crash in between leaves a record that a redelivery can complete.
package lookup

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/invitegate/internal/app/store/invitelinks"
	"github.com/dalemusser/invitegate/internal/app/store/transactions"
	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/invitegate/internal/app/system/txn"
	"github.com/dalemusser/invitegate/internal/domain/models"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Store implements lifecycle.Store on MongoDB.
type Store struct {
	db    *mongo.Database
	txs   *transactions.Store
	links *invitelinks.Store
	log   *zap.Logger
}

var _ lifecycle.Store = (*Store)(nil)

// New creates a lookup Store over db.
func New(db *mongo.Database, logger *zap.Logger) *Store {
	return &Store{
		db:    db,
		txs:   transactions.New(db),
		links: invitelinks.New(db),
		log:   logger,
	}
}

// GetTransaction implements lifecycle.Store.
func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	tx, err := s.txs.Get(ctx, id)
	return tx, mapErr(err)
}

// CreateTransaction implements lifecycle.Store. The existence check is the
// fast path; the unique _id makes a racing second insert a no-op as well.
func (s *Store) CreateTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	existing, err := s.txs.Get(ctx, tx.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, transactions.ErrNotFound) {
		return models.Transaction{}, false, err
	}

	err = s.txs.Insert(ctx, tx)
	if errors.Is(err, transactions.ErrExists) {
		existing, gerr := s.txs.Get(ctx, tx.ID)
		if gerr != nil {
			return models.Transaction{}, false, mapErr(gerr)
		}
		return existing, false, nil
	}
	if err != nil {
		return models.Transaction{}, false, err
	}
	return tx, true, nil
}

// ClaimTransaction implements lifecycle.Store.
func (s *Store) ClaimTransaction(ctx context.Context, id string, lease time.Duration, now time.Time) (models.Transaction, error) {
	tx, err := s.txs.Claim(ctx, id, lease, now)
	return tx, mapErr(err)
}

// FailTransaction implements lifecycle.Store.
func (s *Store) FailTransaction(ctx context.Context, id, reason string, now time.Time) error {
	return mapErr(s.txs.MarkFailed(ctx, id, reason, now))
}

// RequeueTransaction implements lifecycle.Store.
func (s *Store) RequeueTransaction(ctx context.Context, id, lastErr string, now time.Time) error {
	return mapErr(s.txs.Requeue(ctx, id, lastErr, now))
}

// CompleteIssuance implements lifecycle.Store.
func (s *Store) CompleteIssuance(ctx context.Context, rec models.InviteLink, now time.Time) error {
	return txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		if err := s.links.Create(ctx, rec); err != nil {
			return err
		}
		return mapErr(s.txs.MarkDone(ctx, rec.TransactionID, rec.InviteLink, rec.Hash, now))
	})
}

// GetInviteLink implements lifecycle.Store.
func (s *Store) GetInviteLink(ctx context.Context, hash string) (models.InviteLink, error) {
	rec, err := s.links.Get(ctx, hash)
	return rec, mapErr(err)
}

// RecordJoin implements lifecycle.Store.
func (s *Store) RecordJoin(ctx context.Context, txID, hash, recipientID string, at time.Time) (bool, error) {
	var flipped bool
	err := txn.Run(ctx, s.db, s.log, func(ctx context.Context) error {
		var err error
		flipped, err = s.txs.MarkJoined(ctx, txID, recipientID, at)
		if err != nil || !flipped {
			return err
		}
		if recipientID == "" {
			return nil
		}
		return s.links.SetRecipient(ctx, hash, recipientID, at)
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transactions.ErrNotFound), errors.Is(err, invitelinks.ErrNotFound):
		return lifecycle.ErrNotFound
	case errors.Is(err, transactions.ErrNotClaimable):
		return lifecycle.ErrNotClaimable
	}
	return err
}
