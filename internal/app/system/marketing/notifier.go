// Package marketing posts lifecycle events to the marketing-automation
// platform. Delivery is best-effort: Notify reports success as a bool and
// never returns an error.
package marketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config configures a Notifier. An empty APIBase disables delivery.
type Config struct {
	APIBase string
	APIKey  string
	Timeout time.Duration
}

// Notifier sends events to the marketing platform's event endpoint.
type Notifier struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	log      *zap.Logger
	now      func() time.Time
}

// New creates a Notifier.
func New(cfg Config, logger *zap.Logger) *Notifier {
	endpoint := ""
	if base := strings.TrimRight(cfg.APIBase, "/"); base != "" {
		endpoint = base + "/events"
	}
	return &Notifier{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		http:     &http.Client{},
		log:      logger,
		now:      time.Now,
	}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n.endpoint != ""
}

type event struct {
	UserID    string         `json:"userId"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notify fires event for userID. Failures are logged and reported as false.
func (n *Notifier) Notify(ctx context.Context, userID, eventName string, data map[string]any) bool {
	log := n.log.With(zap.String("event", eventName), zap.String("user_id", userID))
	if !n.Enabled() {
		log.Debug("marketing notifier disabled; event dropped")
		return false
	}

	if err := n.send(ctx, event{UserID: userID, Event: eventName, Data: data, Timestamp: n.now().UTC()}); err != nil {
		log.Warn("marketing event not delivered", zap.Error(err))
		return false
	}
	log.Debug("marketing event delivered")
	return true
}

func (n *Notifier) send(ctx context.Context, ev event) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			return ue.Err
		}
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("marketing api returned %d", resp.StatusCode)
	}
	return nil
}
