// Package reputation tracks decaying per-client trust scores and inspects
// requests for suspicious patterns and bursts.
package reputation

import (
	"time"

	"github.com/rampartlabs/rampart/internal/admission/shardmap"
	"github.com/rampartlabs/rampart/internal/core/domain"
)

// historyLimit bounds the per-client violation ring kept for inspection.
const historyLimit = 32

// Store holds decaying reputation scores. Scores start at 0, only move
// non-positive under violations, recover toward 0 at a fixed rate absent new
// violations, and never fall below the configured floor.
type Store struct {
	floor            int
	recoveryInterval time.Duration

	records *shardmap.Map[*record]
	now     func() time.Time
}

type record struct {
	score      int
	violations []domain.Violation
	updatedAt  time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a reputation store. floor must be negative;
// recoveryInterval is the elapsed time per +1 point of recovery.
func NewStore(floor int, recoveryInterval time.Duration, opts ...StoreOption) *Store {
	s := &Store{
		floor:            floor,
		recoveryInterval: recoveryInterval,
		records:          shardmap.New[*record](),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the client's current score after applying lazy recovery.
// Unknown clients are clean (0).
func (s *Store) Score(client domain.ClientKey) int {
	score := 0
	s.records.Update(string(client), func(r *record, ok bool) (*record, bool) {
		if !ok {
			return nil, false
		}
		s.recover(r)
		score = r.score
		// Fully recovered records with no recent history can be dropped.
		return r, r.score < 0 || len(r.violations) > 0
	})
	return score
}

// RecordViolation applies a penalty and returns the updated score. The weight
// must be negative; positive weights are ignored.
func (s *Store) RecordViolation(client domain.ClientKey, kind domain.ViolationKind, weight int, detail string) int {
	if weight >= 0 {
		return s.Score(client)
	}

	now := s.now()
	score := 0
	s.records.Update(string(client), func(r *record, ok bool) (*record, bool) {
		if !ok {
			r = &record{updatedAt: now}
		}
		s.recover(r)

		r.score += weight
		if r.score < s.floor {
			r.score = s.floor
		}
		r.updatedAt = now

		r.violations = append(r.violations, domain.Violation{
			Kind:       kind,
			Weight:     weight,
			Detail:     detail,
			OccurredAt: now,
		})
		if len(r.violations) > historyLimit {
			r.violations = append(r.violations[:0], r.violations[len(r.violations)-historyLimit:]...)
		}

		score = r.score
		return r, true
	})
	return score
}

// Record returns a copy of the client's full reputation state.
func (s *Store) Record(client domain.ClientKey) domain.ReputationRecord {
	rec := domain.ReputationRecord{Client: client}
	s.records.Update(string(client), func(r *record, ok bool) (*record, bool) {
		if !ok {
			return nil, false
		}
		s.recover(r)
		rec.Score = r.score
		rec.UpdatedAt = r.updatedAt
		rec.Violations = append([]domain.Violation(nil), r.violations...)
		return r, true
	})
	return rec
}

// Sweep evicts records that fully recovered and have been idle for maxIdle.
func (s *Store) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	return s.records.Prune(func(_ string, r *record) bool {
		s.recover(r)
		return r.score == 0 && r.updatedAt.Before(cutoff)
	})
}

// recover applies elapsed-time recovery in place: +1 per recoveryInterval
// since the last update, never exceeding 0. Called under the shard lock.
func (s *Store) recover(r *record) {
	if r.score >= 0 {
		return
	}
	now := s.now()
	elapsed := now.Sub(r.updatedAt)
	if elapsed < s.recoveryInterval {
		return
	}

	steps := int(elapsed / s.recoveryInterval)
	if needed := -r.score; steps >= needed {
		// Fully recovered: updatedAt marks the moment the score reached 0 so
		// the sweep sees the record as idle since then.
		r.score = 0
		r.updatedAt = r.updatedAt.Add(time.Duration(needed) * s.recoveryInterval)
		return
	}
	// Advance updatedAt by the consumed whole intervals so partial progress
	// toward the next point is not lost.
	r.score += steps
	r.updatedAt = r.updatedAt.Add(time.Duration(steps) * s.recoveryInterval)
}
