package marketing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNotify_Delivers(t *testing.T) {
	var got event
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := New(Config{APIBase: srv.URL + "/", APIKey: "k1", Timeout: time.Second}, zap.NewNop())
	ok := n.Notify(context.Background(), "u1", "telegram_link_created", map[string]any{"transactionId": "tx1"})
	if !ok {
		t.Fatal("Notify() = false, want true")
	}
	if path != "/events" {
		t.Errorf("path = %q, want /events", path)
	}
	if auth != "Bearer k1" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.UserID != "u1" || got.Event != "telegram_link_created" || got.Data["transactionId"] != "tx1" {
		t.Errorf("event = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestNotify_FailuresReturnFalse(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			n := New(Config{APIBase: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
			if n.Notify(context.Background(), "u1", "telegram_joined", nil) {
				t.Error("Notify() = true, want false")
			}
		})
	}
}

func TestNotify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	n := New(Config{APIBase: base, Timeout: time.Second}, zap.NewNop())
	if n.Notify(context.Background(), "u1", "telegram_joined", nil) {
		t.Error("Notify() = true, want false")
	}
}

func TestNotify_Disabled(t *testing.T) {
	n := New(Config{}, zap.NewNop())
	if n.Enabled() {
		t.Error("Enabled() = true without an API base")
	}
	if n.Notify(context.Background(), "u1", "telegram_joined", nil) {
		t.Error("Notify() = true while disabled")
	}
}
