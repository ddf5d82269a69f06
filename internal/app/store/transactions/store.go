// internal/app/store/transactions/store.go
package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/invitegate/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the Mongo collection holding transaction records.
const CollectionName = "transactions"

var (
	// ErrNotFound is returned when no transaction has the given ID.
	ErrNotFound = errors.New("transaction not found")
	// ErrExists is returned by Insert when the ID is already taken.
	ErrExists = errors.New("transaction already exists")
	// ErrNotClaimable is returned by Claim when the record is terminal or
	// another delivery holds a live processing lease.
	ErrNotClaimable = errors.New("transaction not claimable")
)

// Store manages transaction records.
type Store struct {
	c *mongo.Collection
}

// New creates a new transactions Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// Get returns the transaction with the given ID.
func (s *Store) Get(ctx context.Context, id string) (models.Transaction, error) {
	var tx models.Transaction
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&tx)
	if err == mongo.ErrNoDocuments {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("find transaction: %w", err)
	}
	return tx, nil
}

// Insert stores a new transaction. The _id is the transaction ID, so a
// concurrent insert of the same ID fails with ErrExists.
func (s *Store) Insert(ctx context.Context, tx models.Transaction) error {
	if _, err := s.c.InsertOne(ctx, tx); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrExists
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Claim moves a transaction into processing and increments its attempt
// counter in one atomic update, returning the record after the update.
//
// Queued records are always claimable. A processing record is claimable only
// once its updated_at is older than lease, which recovers work abandoned by
// a crashed delivery without letting two live deliveries mint concurrently.
func (s *Store) Claim(ctx context.Context, id string, lease time.Duration, now time.Time) (models.Transaction, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"status": models.StatusQueued},
			bson.M{"status": models.StatusProcessing, "updated_at": bson.M{"$lte": now.Add(-lease)}},
		},
	}
	update := bson.M{
		"$set": bson.M{"status": models.StatusProcessing, "updated_at": now},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var tx models.Transaction
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&tx)
	if err == mongo.ErrNoDocuments {
		return models.Transaction{}, ErrNotClaimable
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("claim transaction: %w", err)
	}
	return tx, nil
}

// MarkFailed moves a processing transaction to the terminal failed status.
func (s *Store) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	return s.setFromProcessing(ctx, id, bson.M{
		"status":     models.StatusFailed,
		"last_error": reason,
		"updated_at": now,
	})
}

// Requeue moves a processing transaction back to queued after a failed mint.
func (s *Store) Requeue(ctx context.Context, id, lastErr string, now time.Time) error {
	return s.setFromProcessing(ctx, id, bson.M{
		"status":     models.StatusQueued,
		"last_error": lastErr,
		"updated_at": now,
	})
}

// MarkDone records the minted invite and moves the transaction to done.
func (s *Store) MarkDone(ctx context.Context, id, link, hash string, now time.Time) error {
	return s.setFromProcessing(ctx, id, bson.M{
		"status":      models.StatusDone,
		"invite_link": link,
		"invite_hash": hash,
		"last_error":  "",
		"updated_at":  now,
	})
}

func (s *Store) setFromProcessing(ctx context.Context, id string, set bson.M) error {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.StatusProcessing},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotClaimable
	}
	return nil
}

// MarkJoined sets the joined flag if, and only if, it is not already set.
// It reports whether this call flipped the flag. The check and the write are
// one conditional update, so concurrent deliveries see exactly one true.
func (s *Store) MarkJoined(ctx context.Context, id, recipientID string, at time.Time) (bool, error) {
	set := bson.M{
		"joined":     true,
		"joined_at":  at,
		"updated_at": at,
	}
	if recipientID != "" {
		set["recipient_id"] = recipientID
	}

	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "joined": bson.M{"$ne": true}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("mark transaction joined: %w", err)
	}
	return res.ModifiedCount == 1, nil
}
