package models

import "time"

// Transaction statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Transaction is one paying user's request for a single invite link.
//
// ID is the caller-supplied or generated transaction identifier and doubles as
// the document _id, so a second insert with the same ID is rejected by Mongo.
// Records are never deleted; they are the audit trail for retries and joins.
type Transaction struct {
	ID          string `bson:"_id" json:"transactionId"`
	UserID      string `bson:"user_id" json:"userId"`
	RecipientID string `bson:"recipient_id,omitempty" json:"recipientId,omitempty"` // chat-platform user id

	Status    string `bson:"status" json:"status"` // queued | processing | done | failed
	Attempts  int    `bson:"attempts" json:"attempts"`
	LastError string `bson:"last_error,omitempty" json:"lastError,omitempty"`

	InviteLink string `bson:"invite_link,omitempty" json:"inviteLink,omitempty"`
	InviteHash string `bson:"invite_hash,omitempty" json:"inviteHash,omitempty"`

	Joined   bool       `bson:"joined" json:"joined"`
	JoinedAt *time.Time `bson:"joined_at,omitempty" json:"joinedAt,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}
