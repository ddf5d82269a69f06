package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dalemusser/invitegate/internal/domain/models"
	"go.uber.org/zap"
)

// memStore is an in-memory Store with the same conditional-update semantics
// as the Mongo-backed one.
type memStore struct {
	mu    sync.Mutex
	txs   map[string]models.Transaction
	links map[string]models.InviteLink

	failGet error
}

func newMemStore() *memStore {
	return &memStore{
		txs:   make(map[string]models.Transaction),
		links: make(map[string]models.InviteLink),
	}
}

func (s *memStore) GetTransaction(_ context.Context, id string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return models.Transaction{}, s.failGet
	}
	tx, ok := s.txs[id]
	if !ok {
		return models.Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (s *memStore) CreateTransaction(_ context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.txs[tx.ID]; ok {
		return existing, false, nil
	}
	s.txs[tx.ID] = tx
	return tx, true, nil
}

func (s *memStore) ClaimTransaction(_ context.Context, id string, lease time.Duration, now time.Time) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return models.Transaction{}, ErrNotClaimable
	}
	stale := tx.Status == models.StatusProcessing && !tx.UpdatedAt.After(now.Add(-lease))
	if tx.Status != models.StatusQueued && !stale {
		return models.Transaction{}, ErrNotClaimable
	}
	tx.Status = models.StatusProcessing
	tx.Attempts++
	tx.UpdatedAt = now
	s.txs[id] = tx
	return tx, nil
}

func (s *memStore) fromProcessing(id string, fn func(*models.Transaction)) error {
	tx, ok := s.txs[id]
	if !ok || tx.Status != models.StatusProcessing {
		return ErrNotClaimable
	}
	fn(&tx)
	s.txs[id] = tx
	return nil
}

func (s *memStore) FailTransaction(_ context.Context, id, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fromProcessing(id, func(tx *models.Transaction) {
		tx.Status = models.StatusFailed
		tx.LastError = reason
		tx.UpdatedAt = now
	})
}

func (s *memStore) RequeueTransaction(_ context.Context, id, lastErr string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fromProcessing(id, func(tx *models.Transaction) {
		tx.Status = models.StatusQueued
		tx.LastError = lastErr
		tx.UpdatedAt = now
	})
}

func (s *memStore) CompleteIssuance(_ context.Context, rec models.InviteLink, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[rec.TransactionID]; !ok {
		return ErrNotFound
	}
	s.links[rec.Hash] = rec
	return s.fromProcessing(rec.TransactionID, func(tx *models.Transaction) {
		tx.Status = models.StatusDone
		tx.InviteLink = rec.InviteLink
		tx.InviteHash = rec.Hash
		tx.LastError = ""
		tx.UpdatedAt = now
	})
}

func (s *memStore) GetInviteLink(_ context.Context, hash string) (models.InviteLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.links[hash]
	if !ok {
		return models.InviteLink{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) RecordJoin(_ context.Context, txID, hash, recipientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok || tx.Joined {
		return false, nil
	}
	tx.Joined = true
	tx.JoinedAt = &at
	tx.UpdatedAt = at
	if recipientID != "" {
		tx.RecipientID = recipientID
		if rec, ok := s.links[hash]; ok {
			rec.RecipientID = recipientID
			rec.UpdatedAt = &at
			s.links[hash] = rec
		}
	}
	s.txs[txID] = tx
	return true, nil
}

func (s *memStore) tx(id string) models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs[id]
}

// fakeIssuer returns links or errors in order; once the script runs out it
// repeats the last entry.
type fakeIssuer struct {
	mu    sync.Mutex
	links []string
	errs  []error
	calls int
}

func (f *fakeIssuer) Mint(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[min(i, len(f.errs)-1)]
		if err != nil {
			return "", err
		}
	}
	if len(f.links) == 0 {
		return "", errors.New("no link scripted")
	}
	return f.links[min(i, len(f.links)-1)], nil
}

func (f *fakeIssuer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type notification struct {
	UserID string
	Event  string
	Data   map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, userID, event string, data map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{UserID: userID, Event: event, Data: data})
	return true
}

func (f *fakeNotifier) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Event == event {
			n++
		}
	}
	return n
}

type enqueued struct {
	ID    string
	Delay time.Duration
}

type fakeDispatcher struct {
	mu    sync.Mutex
	items []enqueued
	err   error
}

func (f *fakeDispatcher) Enqueue(_ context.Context, id string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, enqueued{ID: id, Delay: delay})
	return nil
}

func (f *fakeDispatcher) Items() []enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueued(nil), f.items...)
}

type harness struct {
	ctrl       *Controller
	store      *memStore
	issuer     *fakeIssuer
	notifier   *fakeNotifier
	dispatcher *fakeDispatcher
	clock      time.Time
}

func newHarness(cfg Config) *harness {
	h := &harness{
		store:      newMemStore(),
		issuer:     &fakeIssuer{},
		notifier:   &fakeNotifier{},
		dispatcher: &fakeDispatcher{},
		clock:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.ctrl = New(h.store, h.issuer, h.notifier, h.dispatcher, cfg, zap.NewNop())
	h.ctrl.now = func() time.Time { return h.clock }
	h.ctrl.sleep = func(context.Context, time.Duration) error { return nil }
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MintPacing = 0
	return cfg
}
