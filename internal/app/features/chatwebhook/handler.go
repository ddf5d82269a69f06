// internal/app/features/chatwebhook/handler.go
package chatwebhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/dalemusser/invitegate/internal/app/system/auth"
	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/invitegate/internal/app/system/limits"
	"github.com/dalemusser/invitegate/internal/app/system/telegram"
	"github.com/dalemusser/invitegate/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// SecretHeader is set by Telegram on every webhook delivery when the
// webhook was registered with a secret_token.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// JoinRecorder correlates membership updates to transactions.
type JoinRecorder interface {
	RecordJoin(ctx context.Context, ev lifecycle.JoinEvent) (lifecycle.JoinOutcome, error)
}

// Handler serves the Telegram webhook.
type Handler struct {
	Joins  JoinRecorder
	Secret string
	Log    *zap.Logger
}

// NewHandler creates a new webhook handler. An empty secret disables the
// secret-token check.
func NewHandler(joins JoinRecorder, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		Joins:  joins,
		Secret: secret,
		Log:    logger,
	}
}

// ServeUpdate handles POST /webhooks/telegram. Telegram retries any non-2xx
// response, so everything but a store failure answers 200 with a token.
func (h *Handler) ServeUpdate(w http.ResponseWriter, r *http.Request) {
	if h.Secret != "" && !auth.SecretMatches(r.Header.Get(SecretHeader), h.Secret) {
		h.Log.Warn("webhook: secret token mismatch")
		writeToken(w, http.StatusOK, lifecycle.JoinIgnored)
		return
	}

	var u telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, limits.MaxUpdateBody)).Decode(&u); err != nil {
		h.Log.Warn("webhook: malformed update", zap.Error(err))
		writeToken(w, http.StatusOK, lifecycle.JoinIgnored)
		return
	}
	cm := u.ChatMember
	if cm == nil || cm.InviteLink == nil {
		writeToken(w, http.StatusOK, lifecycle.JoinIgnored)
		return
	}

	ev := lifecycle.JoinEvent{
		InviteLink: cm.InviteLink.InviteLink,
		Status:     cm.NewChatMember.Status,
		IsMember:   cm.NewChatMember.IsMember,
	}
	if id := cm.NewChatMember.User.ID; id != 0 {
		ev.RecipientID = strconv.FormatInt(id, 10)
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "record join")
	defer cancel()

	outcome, err := h.Joins.RecordJoin(ctx, ev)
	if err != nil {
		h.Log.Error("webhook: record join failed", zap.Int64("update_id", u.UpdateID), zap.Error(err))
		writeToken(w, http.StatusInternalServerError, "error")
		return
	}
	writeToken(w, http.StatusOK, outcome)
}

func writeToken[T ~string](w http.ResponseWriter, status int, token T) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, string(token))
}
