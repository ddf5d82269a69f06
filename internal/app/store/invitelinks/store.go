// internal/app/store/invitelinks/store.go
package invitelinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/invitegate/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CollectionName is the Mongo collection holding invite correlation records.
const CollectionName = "invite_links"

// ErrNotFound is returned when no record has the given fingerprint.
var ErrNotFound = errors.New("invite link not found")

// Store manages invite correlation records keyed by invite fingerprint.
type Store struct {
	c *mongo.Collection
}

// New creates a new invitelinks Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// Get returns the correlation record for hash.
func (s *Store) Get(ctx context.Context, hash string) (models.InviteLink, error) {
	var rec models.InviteLink
	err := s.c.FindOne(ctx, bson.M{"_id": hash}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return models.InviteLink{}, ErrNotFound
	}
	if err != nil {
		return models.InviteLink{}, fmt.Errorf("find invite link: %w", err)
	}
	return rec, nil
}

// Create inserts rec. A record already present under the same fingerprint
// for the same transaction is left as is, so a redelivered worker call that
// crashed between this write and the transaction update can finish.
func (s *Store) Create(ctx context.Context, rec models.InviteLink) error {
	_, err := s.c.InsertOne(ctx, rec)
	if err == nil {
		return nil
	}
	if !wafflemongo.IsDup(err) {
		return fmt.Errorf("insert invite link: %w", err)
	}

	existing, gerr := s.Get(ctx, rec.Hash)
	if gerr != nil {
		return gerr
	}
	if existing.TransactionID != rec.TransactionID {
		return fmt.Errorf("invite link %s already belongs to transaction %s", rec.Hash, existing.TransactionID)
	}
	return nil
}

// SetRecipient mirrors the resolved recipient onto the correlation record.
func (s *Store) SetRecipient(ctx context.Context, hash, recipientID string, now time.Time) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": hash},
		bson.M{"$set": bson.M{"recipient_id": recipientID, "updated_at": now}},
	)
	if err != nil {
		return fmt.Errorf("update invite link: %w", err)
	}
	return nil
}
