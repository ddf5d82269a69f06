// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/invitegate/internal/app/store/invitelinks"
	"github.com/dalemusser/invitegate/internal/app/store/tasks"
	"github.com/dalemusser/invitegate/internal/app/store/transactions"
	"github.com/dalemusser/invitegate/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates the app's collections (if missing) and attaches
// JSON-Schema validators. On servers that don't support collMod/validators
// (e.g. some DocumentDB versions), the validator is logged and skipped.
func EnsureAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if err := ensureCollection(ctx, db, coll, logger); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				logger.Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
			return
		}
		logger.Info("validator ensured", zap.String("collection", coll))
	}

	ensure(transactions.CollectionName, transactionsSchema())
	ensure(invitelinks.CollectionName, inviteLinksSchema())
	ensure(tasks.CollectionName, dispatchTasksSchema())

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, logger *zap.Logger) error {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err == nil && len(names) > 0 {
		return nil
	}
	// Listing can fail on restricted users; fall back to create-and-handle-race.
	if err := db.CreateCollection(ctx, name); err != nil {
		if isNamespaceExistsErr(err) {
			return nil
		}
		logger.Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return err
	}
	logger.Info("created collection", zap.String("collection", name))
	return nil
}

// setValidator attaches schema with validationLevel moderate, so documents
// written before a schema change are not rejected on unrelated updates.
func setValidator(ctx context.Context, db *mongo.Database, name string, schema bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: schema},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	return db.RunCommand(ctx, cmd).Err()
}

/* ------------------------- error helpers ------------------------- */

func commandErrorMatches(err error, code int32, phrases ...string) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == code {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func isNamespaceExistsErr(err error) bool {
	return commandErrorMatches(err, 48, "already exists", "namespace exists")
}

func isNoSuchCommand(err error) bool {
	return commandErrorMatches(err, 59, "no such command")
}

func isNotImplemented(err error) bool {
	return commandErrorMatches(err, 115, "not implemented", "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

var nonBlank = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}

func transactionsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"_id", "user_id", "status", "attempts", "joined", "created_at", "updated_at"},
			"properties": bson.M{
				"_id":          nonBlank,
				"user_id":      nonBlank,
				"recipient_id": bson.M{"bsonType": "string"},
				"status": bson.M{"enum": bson.A{
					models.StatusQueued, models.StatusProcessing, models.StatusDone, models.StatusFailed,
				}},
				"attempts":    bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0},
				"invite_link": bson.M{"bsonType": "string"},
				"invite_hash": bson.M{"bsonType": "string"},
				"joined":      bson.M{"bsonType": "bool"},
				"joined_at":   bson.M{"bsonType": "date"},
				"created_at":  bson.M{"bsonType": "date"},
				"updated_at":  bson.M{"bsonType": "date"},
			},
		},
	}
}

func inviteLinksSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"_id", "transaction_id", "invite_link", "created_at"},
			"properties": bson.M{
				"_id":            bson.M{"bsonType": "string", "pattern": "^[0-9a-f]{64}$"},
				"transaction_id": nonBlank,
				"user_id":        bson.M{"bsonType": "string"},
				"recipient_id":   bson.M{"bsonType": "string"},
				"invite_link":    nonBlank,
				"created_at":     bson.M{"bsonType": "date"},
				"updated_at":     bson.M{"bsonType": "date"},
			},
		},
	}
}

func dispatchTasksSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"transaction_id", "not_before", "status", "created_at"},
			"properties": bson.M{
				"transaction_id": nonBlank,
				"not_before":     bson.M{"bsonType": "date"},
				"status":         bson.M{"enum": bson.A{models.TaskPending, models.TaskClaimed}},
				"claimed_at":     bson.M{"bsonType": "date"},
				"created_at":     bson.M{"bsonType": "date"},
			},
		},
	}
}
