// Package telegram is the chat-platform client: it mints single-use invite
// links through the Bot API and decodes chat-member webhook updates.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const (
	// DefaultAPIBase is the public Bot API endpoint.
	DefaultAPIBase = "https://api.telegram.org"
	// InviteTTL is how long a minted invite stays valid.
	InviteTTL = 48 * time.Hour
	// MaxLabelLength is the Bot API limit on an invite link name.
	MaxLabelLength = 32
)

// IssuerError reports a rejected or failed mint call. It carries the Bot
// API description when there is one, never the bot token.
type IssuerError struct {
	StatusCode  int
	Description string
}

func (e *IssuerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("telegram: createChatInviteLink (%d): %s", e.StatusCode, e.Description)
	}
	return "telegram: createChatInviteLink: " + e.Description
}

// Config configures a Client.
type Config struct {
	APIBase  string
	BotToken string
	ChatID   string
	Timeout  time.Duration
}

// Client mints invite links for one chat. It does not retry; retry policy
// belongs to the caller.
type Client struct {
	apiBase string
	token   string
	chatID  string
	http    *http.Client
	log     *zap.Logger
	labels  *bluemonday.Policy
	now     func() time.Time
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{
		apiBase: base,
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     logger,
		labels:  bluemonday.StrictPolicy(),
		now:     time.Now,
	}
}

type createInviteRequest struct {
	ChatID      string `json:"chat_id"`
	Name        string `json:"name,omitempty"`
	ExpireDate  int64  `json:"expire_date"`
	MemberLimit int    `json:"member_limit"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type chatInviteLink struct {
	InviteLink string `json:"invite_link"`
}

// Mint creates a single-use invite link expiring InviteTTL from now, labeled
// with the transaction ID for manual auditing.
func (c *Client) Mint(ctx context.Context, transactionID string) (string, error) {
	body, err := json.Marshal(createInviteRequest{
		ChatID:      c.chatID,
		Name:        c.Label(transactionID),
		ExpireDate:  c.now().Add(InviteTTL).Unix(),
		MemberLimit: 1,
	})
	if err != nil {
		return "", &IssuerError{Description: "encode request: " + err.Error()}
	}

	endpoint := c.apiBase + "/bot" + c.token + "/createChatInviteLink"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &IssuerError{Description: "build request: " + redact(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &IssuerError{Description: "request failed: " + redact(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &IssuerError{StatusCode: resp.StatusCode, Description: "read response: " + err.Error()}
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &IssuerError{StatusCode: resp.StatusCode, Description: "decode response: " + err.Error()}
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return "", &IssuerError{StatusCode: resp.StatusCode, Description: desc}
	}

	var link chatInviteLink
	if err := json.Unmarshal(out.Result, &link); err != nil || link.InviteLink == "" {
		return "", &IssuerError{StatusCode: resp.StatusCode, Description: "response has no invite_link"}
	}

	c.log.Debug("telegram invite link created", zap.String("transaction_id", transactionID))
	return link.InviteLink, nil
}

// Label returns the invite name for a transaction: markup stripped and
// truncated to MaxLabelLength runes.
func (c *Client) Label(transactionID string) string {
	label := html.UnescapeString(c.labels.Sanitize("tx " + transactionID))
	if utf8.RuneCountInString(label) <= MaxLabelLength {
		return label
	}
	return string([]rune(label)[:MaxLabelLength])
}

// redact drops the request URL (which embeds the bot token) from transport
// errors.
func redact(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Op + ": " + ue.Err.Error()
	}
	return err.Error()
}
