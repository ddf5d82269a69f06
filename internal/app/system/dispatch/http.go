package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HTTPConfig configures an HTTP dispatcher.
type HTTPConfig struct {
	// QueueURL receives one POST per task.
	QueueURL string
	// TargetURL is the worker endpoint the queue calls back.
	TargetURL string

	// OAuth2 client credentials; when ClientID is empty requests are sent
	// unauthenticated.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	Timeout time.Duration
}

// TaskPayload is the body delivered to the worker endpoint.
type TaskPayload struct {
	TransactionID string `json:"transactionId"`
	Signature     string `json:"signature,omitempty"`
}

type queueRequest struct {
	Task queueTask `json:"task"`
}

type queueTask struct {
	ScheduleTime string      `json:"scheduleTime,omitempty"`
	HTTPRequest  httpRequest `json:"httpRequest"`
}

type httpRequest struct {
	HTTPMethod string            `json:"httpMethod"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers"`
	// Body is base64-encoded JSON.
	Body string `json:"body"`
}

// HTTP creates tasks on an external queue API. Each task is an HTTP POST of
// a TaskPayload to TargetURL, held back until its schedule time.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	signer *Signer
	log    *zap.Logger
	now    func() time.Time
}

// NewHTTP creates an HTTP dispatcher. signer may be nil.
func NewHTTP(cfg HTTPConfig, signer *Signer, logger *zap.Logger) *HTTP {
	base := &http.Client{Timeout: cfg.Timeout}
	client := base
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// Token fetches use the same bounded client.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cc.Client(ctx)
		client.Timeout = cfg.Timeout
	}
	return &HTTP{
		cfg:    cfg,
		client: client,
		signer: signer,
		log:    logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue implements lifecycle.Dispatcher.
func (d *HTTP) Enqueue(ctx context.Context, transactionID string, delay time.Duration) error {
	sig, err := d.signer.Sign(transactionID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(TaskPayload{TransactionID: transactionID, Signature: sig})
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}

	task := queueTask{
		HTTPRequest: httpRequest{
			HTTPMethod: http.MethodPost,
			URL:        d.cfg.TargetURL,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       base64.StdEncoding.EncodeToString(payload),
		},
	}
	if delay > 0 {
		task.ScheduleTime = d.now().Add(delay).Format(time.RFC3339Nano)
	}
	body, err := json.Marshal(queueRequest{Task: task})
	if err != nil {
		return fmt.Errorf("encode queue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.QueueURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build queue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("dispatch %s: %w", transactionID, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dispatch %s: queue returned %d: %s", transactionID, resp.StatusCode, bytes.TrimSpace(msg))
	}

	d.log.Debug("task dispatched",
		zap.String("transaction_id", transactionID),
		zap.Duration("delay", delay))
	return nil
}
