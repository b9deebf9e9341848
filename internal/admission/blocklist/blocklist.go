// Package blocklist implements the time-bounded deny-list with escalating
// block durations.
package blocklist

import (
	"time"

	"github.com/rampartlabs/rampart/internal/admission/shardmap"
	"github.com/rampartlabs/rampart/internal/core/domain"
)

// List is the in-memory block list. Per client it moves
// Clean -> Blocked(until) -> Clean when the deadline elapses or an
// administrative unblock intervenes. Repeat offenses inside the observation
// period double the duration, capped.
type List struct {
	baseDuration      time.Duration
	durationCap       time.Duration
	observationPeriod time.Duration

	entries *shardmap.Map[*entry]
	now     func() time.Time
}

// entry keeps offense history beyond expiry so escalation survives the
// Blocked -> Clean transition until the observation period lapses.
type entry struct {
	blockedUntil time.Time
	kind         domain.BlockKind
	reason       string
	offenses     int
	lastOffense  time.Time
	createdAt    time.Time
}

// Option configures a List.
type Option func(*List)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *List) { l.now = now }
}

// New creates a block list with the given duration policy.
func New(base, cap, observation time.Duration, opts ...Option) *List {
	l := &List{
		baseDuration:      base,
		durationCap:       cap,
		observationPeriod: observation,
		entries:           shardmap.New[*entry](),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsBlocked reports whether the client has an active block. Entries whose
// deadline and observation period both lapsed are pruned on lookup.
func (l *List) IsBlocked(client domain.ClientKey) (bool, domain.BlockEntry) {
	now := l.now()
	var (
		blocked bool
		out     domain.BlockEntry
	)
	l.entries.Update(string(client), func(e *entry, ok bool) (*entry, bool) {
		if !ok {
			return nil, false
		}
		if now.Before(e.blockedUntil) {
			blocked = true
			out = e.export(client)
			return e, true
		}
		// Expired block: keep the offense history while escalation still
		// applies, otherwise forget the client entirely.
		return e, now.Sub(e.lastOffense) < l.observationPeriod
	})
	return blocked, out
}

// Block creates or extends a block for the client and returns the entry. The
// duration is base * 2^(offenses-1) within the observation period, capped.
func (l *List) Block(client domain.ClientKey, kind domain.BlockKind, reason string) domain.BlockEntry {
	now := l.now()
	var out domain.BlockEntry
	l.entries.Update(string(client), func(e *entry, ok bool) (*entry, bool) {
		if !ok {
			e = &entry{createdAt: now}
		} else if now.Sub(e.lastOffense) >= l.observationPeriod {
			// Escalation resets, but an active deadline is preserved.
			e.offenses = 0
			e.createdAt = now
		}
		e.offenses++
		e.lastOffense = now
		e.kind = kind
		e.reason = reason

		d := l.baseDuration
		for i := 1; i < e.offenses && d < l.durationCap; i++ {
			d *= 2
		}
		if d > l.durationCap {
			d = l.durationCap
		}

		until := now.Add(d)
		if until.After(e.blockedUntil) {
			e.blockedUntil = until
		}
		out = e.export(client)
		return e, true
	})
	return out
}

// Unblock removes the client's block immediately and reports whether one
// existed. The offense history is also cleared.
func (l *List) Unblock(client domain.ClientKey) bool {
	return l.entries.Delete(string(client))
}

// Entries returns the currently active block entries.
func (l *List) Entries() []domain.BlockEntry {
	now := l.now()
	var out []domain.BlockEntry
	l.entries.Range(func(key string, e *entry) bool {
		if now.Before(e.blockedUntil) {
			out = append(out, e.export(domain.ClientKey(key)))
		}
		return true
	})
	return out
}

// Sweep removes entries that expired and whose observation period lapsed.
func (l *List) Sweep() int {
	now := l.now()
	return l.entries.Prune(func(_ string, e *entry) bool {
		return !now.Before(e.blockedUntil) && now.Sub(e.lastOffense) >= l.observationPeriod
	})
}

func (e *entry) export(client domain.ClientKey) domain.BlockEntry {
	return domain.BlockEntry{
		Client:       client,
		Kind:         e.kind,
		Reason:       e.reason,
		BlockedUntil: e.blockedUntil,
		OffenseCount: e.offenses,
		CreatedAt:    e.createdAt,
	}
}
