// internal/app/features/worker/handler.go
package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dalemusser/invitegate/internal/app/system/dispatch"
	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/invitegate/internal/app/system/limits"
	"github.com/dalemusser/invitegate/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Processor runs the worker path for one transaction.
type Processor interface {
	ProcessInvite(ctx context.Context, transactionID string) (lifecycle.Outcome, error)
}

// Handler serves the endpoint the work dispatcher calls.
type Handler struct {
	Processor Processor
	Signer    *dispatch.Signer
	Log       *zap.Logger
}

// NewHandler creates a new worker handler. signer may be nil, in which case
// task signatures are not checked.
func NewHandler(processor Processor, signer *dispatch.Signer, logger *zap.Logger) *Handler {
	return &Handler{
		Processor: processor,
		Signer:    signer,
		Log:       logger,
	}
}

// Token maps an outcome to the status token returned to the dispatcher.
func Token(o lifecycle.Outcome) string {
	switch o {
	case lifecycle.OutcomeDone, lifecycle.OutcomeAlreadyDone:
		return "ok"
	}
	return string(o)
}

// ServeProcess handles POST /internal/tasks/process-invite.
//
// Body: dispatch.TaskPayload. Always 200 with a status token, except 401 for
// a bad signature when signing is enabled and 500 when the store fails, so
// the dispatcher retries.
func (h *Handler) ServeProcess(w http.ResponseWriter, r *http.Request) {
	var body dispatch.TaskPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, limits.MaxTaskBody)).Decode(&body); err != nil {
		h.Log.Warn("worker: malformed task body", zap.Error(err))
		writeToken(w, http.StatusOK, string(lifecycle.OutcomeNotFound))
		return
	}
	id := strings.TrimSpace(body.TransactionID)
	if id == "" {
		writeToken(w, http.StatusOK, string(lifecycle.OutcomeNotFound))
		return
	}

	if err := h.Signer.Verify(id, body.Signature); err != nil {
		h.Log.Warn("worker: task signature rejected", zap.String("transaction_id", id))
		writeToken(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "process invite")
	defer cancel()

	outcome, err := h.Processor.ProcessInvite(ctx, id)
	if err != nil {
		h.Log.Error("worker: process invite failed", zap.String("transaction_id", id), zap.Error(err))
		writeToken(w, http.StatusInternalServerError, "error")
		return
	}

	h.Log.Info("worker: task processed",
		zap.String("transaction_id", id),
		zap.String("outcome", string(outcome)))
	writeToken(w, http.StatusOK, Token(outcome))
}

func writeToken(w http.ResponseWriter, status int, token string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, token)
}
