package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Dispatch task statuses.
const (
	TaskPending = "pending"
	TaskClaimed = "claimed"
)

// DispatchTask is a deferred "process this transaction" work item held by
// the local dispatcher. It is deleted once the worker path has run.
type DispatchTask struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	TransactionID string             `bson:"transaction_id"`
	NotBefore     time.Time          `bson:"not_before"`
	Status        string             `bson:"status"` // pending | claimed
	ClaimedAt     *time.Time         `bson:"claimed_at,omitempty"`
	CreatedAt     time.Time          `bson:"created_at"`
}
