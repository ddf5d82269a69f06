package models

import "time"

// InviteLink correlates a minted invite back to its transaction.
//
// The document is keyed by the invite fingerprint (hex SHA-256 of the link),
// never by the link itself.
type InviteLink struct {
	Hash          string `bson:"_id" json:"hash"`
	TransactionID string `bson:"transaction_id" json:"transactionId"`
	UserID        string `bson:"user_id" json:"userId"`
	RecipientID   string `bson:"recipient_id,omitempty" json:"recipientId,omitempty"`
	InviteLink    string `bson:"invite_link" json:"inviteLink"`

	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt *time.Time `bson:"updated_at,omitempty" json:"updatedAt,omitempty"`
}
