// internal/app/features/invites/handler.go
package invites

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dalemusser/invitegate/internal/app/system/lifecycle"
	"github.com/dalemusser/invitegate/internal/app/system/limits"
	"github.com/dalemusser/invitegate/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Requester accepts invite creation requests.
type Requester interface {
	RequestInvite(ctx context.Context, req lifecycle.InviteRequest) (lifecycle.InviteResult, error)
}

// Handler serves the storefront's invite creation endpoint.
type Handler struct {
	Invites Requester
	Log     *zap.Logger
}

// NewHandler creates a new invites handler.
func NewHandler(invites Requester, logger *zap.Logger) *Handler {
	return &Handler{
		Invites: invites,
		Log:     logger,
	}
}

// idString decodes a JSON string or number; user, Telegram and order IDs
// arrive as either depending on the storefront client.
type idString string

func (s *idString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = idString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = idString(n.String())
	return nil
}

type createRequest struct {
	UserID         idString `json:"userId"`
	TelegramUserID idString `json:"telegramUserId"`
	RecipientID    idString `json:"recipientId"`
	TransactionID  idString `json:"transactionId"`
}

type createResponse struct {
	OK            bool   `json:"ok"`
	TransactionID string `json:"transactionId,omitempty"`
	InviteLink    string `json:"inviteLink,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ServeCreate handles POST /api/invites.
//
// Request:
//
//	{ "userId":"u1", "telegramUserId":123, "transactionId":"optional" }
//
// Response: 200 { "ok":true, "transactionId":"tx_…" } (plus "inviteLink" in
// sync mode); 400 on a malformed body or missing userId; 500 on store failure.
func (h *Handler) ServeCreate(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, limits.MaxCreateBody))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, createResponse{Error: "invalid JSON body"})
		return
	}

	recipient := strings.TrimSpace(string(body.TelegramUserID))
	if recipient == "" {
		recipient = strings.TrimSpace(string(body.RecipientID))
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "request invite")
	defer cancel()

	res, err := h.Invites.RequestInvite(ctx, lifecycle.InviteRequest{
		UserID:        string(body.UserID),
		RecipientID:   recipient,
		TransactionID: string(body.TransactionID),
	})
	if errors.Is(err, lifecycle.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, createResponse{Error: "userId is required"})
		return
	}
	if err != nil {
		h.Log.Error("request invite failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, createResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, createResponse{
		OK:            true,
		TransactionID: res.TransactionID,
		InviteLink:    res.InviteLink,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
