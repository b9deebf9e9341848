// Package ports defines the interfaces between the admission middleware and
// its pluggable state backends. The in-memory implementations are the default;
// a shared low-latency backend (e.g. Redis) can be swapped in for
// multi-instance deployments without changing the middleware contract.
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/rampartlabs/rampart/internal/core/domain"
	"github.com/rampartlabs/rampart/internal/pkg/config"
)

// RateLimitTracker maintains per-(client, category) sliding-window counters.
// Implementations: in-memory sharded map (default).
type RateLimitTracker interface {
	// CheckAndIncrement evaluates the minute window first, then the hour
	// window. The first window that would be exceeded denies the request and
	// reports remaining=0 for that dimension. Denied requests do not consume
	// a slot; allowed requests increment both windows.
	CheckAndIncrement(client domain.ClientKey, category domain.Category) domain.RateLimitResult

	// Sweep evicts entries idle for longer than maxIdle and returns the
	// number of entries removed.
	Sweep(maxIdle time.Duration) int
}

// ReputationStore holds decaying trust scores per client.
// Implementations: in-memory sharded map (default), Redis.
type ReputationStore interface {
	// Score returns the current score after applying lazy recovery.
	// Scores are always <= 0; 0 means clean.
	Score(client domain.ClientKey) int

	// RecordViolation applies a penalty and returns the updated score.
	// Weight must be negative.
	RecordViolation(client domain.ClientKey, kind domain.ViolationKind, weight int, detail string) int

	// Record returns the full reputation record for inspection.
	Record(client domain.ClientKey) domain.ReputationRecord

	// Sweep evicts fully recovered idle records.
	Sweep(maxIdle time.Duration) int
}

// BlockList is the time-bounded deny-list with escalating durations.
// Implementations: in-memory sharded map (default), Redis.
type BlockList interface {
	// IsBlocked reports whether the client has an active block entry.
	// Expired entries are pruned lazily on lookup.
	IsBlocked(client domain.ClientKey) (bool, domain.BlockEntry)

	// Block creates or extends a block. The duration escalates with the
	// client's offense count inside the observation period. The kind records
	// what created the block. Returns the resulting entry.
	Block(client domain.ClientKey, kind domain.BlockKind, reason string) domain.BlockEntry

	// Unblock removes a block immediately (administrative action).
	Unblock(client domain.ClientKey) bool

	// Entries lists the currently active block entries.
	Entries() []domain.BlockEntry

	// Sweep removes expired entries whose observation period also lapsed.
	Sweep() int
}

// PatternAnalyzer inspects request metadata for suspicious signatures.
// It never reads request bodies and is side-effect free.
type PatternAnalyzer interface {
	// Inspect returns the suspicious-pattern violations matched by the
	// request, if any.
	Inspect(r *http.Request) []domain.Violation
}

// BurstDetector tracks short rolling windows of request timestamps.
type BurstDetector interface {
	// Observe records one request for the client and reports whether the
	// burst threshold was crossed within the rolling window.
	Observe(client domain.ClientKey) bool

	// Sweep evicts idle burst windows.
	Sweep(maxIdle time.Duration) int
}

// ConfigProvider loads and manages configuration.
// Implementations: file-based with hot-reload (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventPublisher delivers structured violation events to the audit/alerting
// collaborator. Implementations: direct-to-storage (default), message bus.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.ViolationEvent) error
	Close() error
}

// ViolationStore persists violation events and block history for later
// consumption. Implementations: SQLite (default).
type ViolationStore interface {
	AppendViolation(ctx context.Context, event *domain.ViolationEvent) error
	AppendBlock(ctx context.Context, entry *domain.BlockEntry) error
	RecentViolations(ctx context.Context, client domain.ClientKey, limit int) ([]*domain.ViolationEvent, error)
	Close() error
}
