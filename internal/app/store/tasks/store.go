// internal/app/store/tasks/store.go
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/invitegate/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the Mongo collection backing the local dispatch queue.
const CollectionName = "dispatch_tasks"

// ErrNoneDue is returned by ClaimDue when no pending task is due.
var ErrNoneDue = errors.New("no task due")

// Store is a delayed work queue: one document per pending ProcessInvite call.
type Store struct {
	c *mongo.Collection
}

// New creates a new tasks Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// Enqueue adds a task for transactionID that becomes due at notBefore.
func (s *Store) Enqueue(ctx context.Context, transactionID string, notBefore, now time.Time) (models.DispatchTask, error) {
	task := models.DispatchTask{
		ID:            primitive.NewObjectID(),
		TransactionID: transactionID,
		NotBefore:     notBefore,
		Status:        models.TaskPending,
		CreatedAt:     now,
	}
	if _, err := s.c.InsertOne(ctx, task); err != nil {
		return models.DispatchTask{}, fmt.Errorf("insert dispatch task: %w", err)
	}
	return task, nil
}

// ClaimDue atomically claims the oldest pending task whose not_before has
// passed.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (models.DispatchTask, error) {
	filter := bson.M{
		"status":     models.TaskPending,
		"not_before": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{"status": models.TaskClaimed, "claimed_at": now}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "not_before", Value: 1}}).
		SetReturnDocument(options.After)

	var task models.DispatchTask
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&task)
	if err == mongo.ErrNoDocuments {
		return models.DispatchTask{}, ErrNoneDue
	}
	if err != nil {
		return models.DispatchTask{}, fmt.Errorf("claim dispatch task: %w", err)
	}
	return task, nil
}

// Delete acknowledges a task.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.c.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete dispatch task: %w", err)
	}
	return nil
}

// Release returns a claimed task to pending, due again at notBefore.
func (s *Store) Release(ctx context.Context, id primitive.ObjectID, notBefore time.Time) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "status": models.TaskClaimed},
		bson.M{
			"$set":   bson.M{"status": models.TaskPending, "not_before": notBefore},
			"$unset": bson.M{"claimed_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("release dispatch task: %w", err)
	}
	return nil
}

// RequeueStale releases tasks claimed before cutoff, recovering work held by
// a poller that died mid-task. It returns the number of tasks released.
func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.UpdateMany(ctx,
		bson.M{"status": models.TaskClaimed, "claimed_at": bson.M{"$lte": cutoff}},
		bson.M{
			"$set":   bson.M{"status": models.TaskPending},
			"$unset": bson.M{"claimed_at": ""},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale dispatch tasks: %w", err)
	}
	return res.ModifiedCount, nil
}

// CountPending returns the number of pending tasks, due or not.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{"status": models.TaskPending})
	if err != nil {
		return 0, fmt.Errorf("count dispatch tasks: %w", err)
	}
	return n, nil
}
