// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/invitegate/internal/app/store/invitelinks"
	"github.com/dalemusser/invitegate/internal/app/store/tasks"
	"github.com/dalemusser/invitegate/internal/app/store/transactions"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	var problems []string

	if err := ensureTransactions(ctx, db, logger); err != nil {
		problems = append(problems, transactions.CollectionName+": "+err.Error())
	}
	if err := ensureInviteLinks(ctx, db, logger); err != nil {
		problems = append(problems, invitelinks.CollectionName+": "+err.Error())
	}
	if err := ensureDispatchTasks(ctx, db, logger); err != nil {
		problems = append(problems, tasks.CollectionName+": "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique *bool  `bson:"unique,omitempty"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func isUnique(b *bool) bool {
	return b != nil && *b
}

// Best-effort duplicate-detector (works cross-vendors)
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsDuplicateKeyError(err) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "E11000") || strings.Contains(strings.ToLower(s), "duplicate key")
}

func listIndexes(ctx context.Context, coll *mongo.Collection, log *zap.Logger) map[string]existingIndex {
	existing := map[string]existingIndex{} // sig -> index
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return existing
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			log.Warn("failed to decode existing index", zap.Error(err))
			continue
		}
		existing[keySig(idx.Key)] = idx
	}
	return existing
}

// ensureIndexSet creates each desired index, reusing one with the same keys
// and options, and dropping and recreating one whose name or uniqueness
// differs.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, logger *zap.Logger, models []mongo.IndexModel) error {
	var errs []string
	log := logger.With(zap.String("collection", coll.Name()))

	for _, m := range models {
		var name string
		var unique *bool
		if m.Options != nil {
			if m.Options.Name != nil {
				name = *m.Options.Name
			}
			unique = m.Options.Unique
		}
		sig := keySig(m.Keys.(bson.D))
		start := time.Now()
		ilog := log.With(zap.String("name", name), zap.String("keys", sig), zap.Bool("unique", isUnique(unique)))

		if ex, ok := listIndexes(ctx, coll, log)[sig]; ok {
			if isUnique(ex.Unique) == isUnique(unique) && (name == "" || ex.Name == name) {
				ilog.Debug("reusing existing index")
				continue
			}
			// Name or options differ: drop & recreate.
			if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
				ilog.Warn("drop existing index failed", zap.String("existing", ex.Name), zap.Error(err))
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), name, err))
				continue
			}
		}

		created, err := coll.Indexes().CreateOne(ctx, m)
		if err != nil {
			if isDuplicateKeyErr(err) && isUnique(unique) {
				errs = append(errs, fmt.Sprintf("%s(%s): cannot create unique index (duplicates present)", coll.Name(), name))
			} else {
				errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), name, err))
			}
			ilog.Warn("index ensure failed", zap.Error(err))
			continue
		}
		ilog.Info("index ensured",
			zap.String("created_name", created),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureTransactions(ctx context.Context, db *mongo.Database, log *zap.Logger) error {
	c := db.Collection(transactions.CollectionName)
	return ensureIndexSet(ctx, c, log, []mongo.IndexModel{
		// Claim and stale-lease scans
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index().SetName("idx_tx_status_updated"),
		},
		// Support lookups by purchaser
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_tx_user_created"),
		},
	})
}

func ensureInviteLinks(ctx context.Context, db *mongo.Database, log *zap.Logger) error {
	c := db.Collection(invitelinks.CollectionName)
	return ensureIndexSet(ctx, c, log, []mongo.IndexModel{
		// One correlation record per transaction
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetName("uniq_invite_transaction").SetUnique(true),
		},
	})
}

func ensureDispatchTasks(ctx context.Context, db *mongo.Database, log *zap.Logger) error {
	c := db.Collection(tasks.CollectionName)
	return ensureIndexSet(ctx, c, log, []mongo.IndexModel{
		// ClaimDue: pending tasks ordered by due time
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "not_before", Value: 1}},
			Options: options.Index().SetName("idx_task_status_notbefore"),
		},
		// RequeueStale
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "claimed_at", Value: 1}},
			Options: options.Index().SetName("idx_task_status_claimed"),
		},
	})
}
