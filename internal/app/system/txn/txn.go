// Package txn runs a group of Mongo writes inside a multi-document
// transaction when the deployment supports one.
//
// Standalone servers (local development, some CI setups) reject transactions.
// In that case Run logs once per call and executes fn without a session, so
// callers must order their writes so that a partial failure is recoverable.
package txn

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Mongo server codes meaning "transactions are not available here".
var notSupportedCodes = map[int32]bool{
	20:  true, // IllegalOperation: transaction numbers only allowed on a replica set member
	51:  true,
	263: true, // OperationNotSupportedInTransaction
}

// Run executes fn inside a transaction on db's client. The context passed to
// fn carries the session; all reads and writes inside fn must use it.
func Run(ctx context.Context, db *mongo.Database, log *zap.Logger, fn func(ctx context.Context) error) error {
	err := db.Client().UseSession(ctx, func(sc mongo.SessionContext) error {
		_, err := sc.WithTransaction(sc, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(sc)
		})
		return err
	})
	if err == nil {
		return nil
	}
	if !IsNotSupported(err) {
		return err
	}

	if log != nil {
		log.Warn("transactions not supported; running writes without a transaction", zap.Error(err))
	}
	return fn(ctx)
}

// IsNotSupported reports whether err means the server cannot run
// transactions (as opposed to the transaction body failing).
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && notSupportedCodes[ce.Code] {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "illegal operation") {
		return true
	}
	if strings.Contains(msg, "transaction") &&
		(strings.Contains(msg, "replica set") || strings.Contains(msg, "session")) {
		return true
	}
	return strings.Contains(msg, "session") && strings.Contains(msg, "not supported")
}
