package direct

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

type memStore struct {
	mu     sync.Mutex
	events []*domain.ViolationEvent
}

func (s *memStore) AppendViolation(_ context.Context, event *domain.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) AppendBlock(context.Context, *domain.BlockEntry) error { return nil }

func (s *memStore) RecentViolations(context.Context, domain.ClientKey, int) ([]*domain.ViolationEvent, error) {
	return nil, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewPublisher_RequiresStore(t *testing.T) {
	if _, err := NewPublisher(nil, testLogger()); err == nil {
		t.Error("NewPublisher(nil) error = nil, want error")
	}
}

func TestPublish(t *testing.T) {
	store := &memStore{}
	pub, err := NewPublisher(store, testLogger())
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	event := &domain.ViolationEvent{
		ID:        "evt-1",
		Client:    "1.2.3.4",
		Kind:      domain.ViolationRateLimit,
		Timestamp: time.Now(),
	}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if store.count() != 1 {
		t.Errorf("stored events = %d, want 1", store.count())
	}
}

func TestPublish_ThrottleDropsOverBudget(t *testing.T) {
	store := &memStore{}
	// Budget of 1/s with burst 2: the third rapid publish is dropped
	pub, err := NewPublisher(store, testLogger(), WithThrottle(1, 2))
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		event := &domain.ViolationEvent{ID: "evt", Client: "1.2.3.4"}
		if err := pub.Publish(context.Background(), event); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	if store.count() != 2 {
		t.Errorf("stored events = %d, want burst of 2", store.count())
	}
	if pub.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", pub.Dropped())
	}
}

func TestClose(t *testing.T) {
	pub, err := NewPublisher(&memStore{}, testLogger())
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
