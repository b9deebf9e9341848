package reputation

import (
	"testing"
	"time"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestScore_UnknownClientIsClean(t *testing.T) {
	s := NewStore(-100, 5*time.Minute)
	if got := s.Score("1.2.3.4"); got != 0 {
		t.Errorf("Score() = %d for unknown client, want 0", got)
	}
}

func TestRecordViolation(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	if got := s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -5, "minute quota exceeded"); got != -5 {
		t.Errorf("Score after first violation = %d, want -5", got)
	}
	if got := s.RecordViolation("1.2.3.4", domain.ViolationBurst, -20, "burst threshold exceeded"); got != -25 {
		t.Errorf("Score after burst = %d, want -25", got)
	}
	if got := s.Score("1.2.3.4"); got != -25 {
		t.Errorf("Score() = %d, want -25", got)
	}
}

func TestRecordViolation_PositiveWeightIgnored(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -5, "")
	if got := s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, 10, ""); got != -5 {
		t.Errorf("Score = %d after positive weight, want -5 unchanged", got)
	}
}

func TestRecordViolation_Floor(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		s.RecordViolation("1.2.3.4", domain.ViolationBurst, -20, "")
	}
	if got := s.Score("1.2.3.4"); got != -100 {
		t.Errorf("Score() = %d, want floor -100", got)
	}
}

func TestScore_Recovery(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -5, "")

	// One full interval recovers one point
	clock.Advance(5 * time.Minute)
	if got := s.Score("1.2.3.4"); got != -4 {
		t.Errorf("Score() = %d after one interval, want -4", got)
	}

	// Three more intervals
	clock.Advance(15 * time.Minute)
	if got := s.Score("1.2.3.4"); got != -1 {
		t.Errorf("Score() = %d after four intervals, want -1", got)
	}

	// Recovery never overshoots 0
	clock.Advance(time.Hour)
	if got := s.Score("1.2.3.4"); got != 0 {
		t.Errorf("Score() = %d after long idle, want 0", got)
	}
}

func TestScore_RecoveryPartialIntervalPreserved(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -5, "")

	// 7m30s = one whole interval consumed, 2m30s of progress carried over
	clock.Advance(7*time.Minute + 30*time.Second)
	if got := s.Score("1.2.3.4"); got != -4 {
		t.Fatalf("Score() = %d, want -4", got)
	}

	// 2m30s more completes the second interval
	clock.Advance(2*time.Minute + 30*time.Second)
	if got := s.Score("1.2.3.4"); got != -3 {
		t.Errorf("Score() = %d, want -3 (partial progress preserved)", got)
	}
}

func TestRecordViolation_RecoveryAppliedBeforePenalty(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -10, "")

	clock.Advance(10 * time.Minute)
	// -10 recovered to -8, then -5 applied
	if got := s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -5, ""); got != -13 {
		t.Errorf("Score = %d, want -13", got)
	}
}

func TestRecord_HistoryRing(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-1000, 5*time.Minute, WithClock(clock.Now))

	for i := 0; i < 40; i++ {
		s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -1, "v")
		clock.Advance(time.Second)
	}

	rec := s.Record("1.2.3.4")
	if len(rec.Violations) != 32 {
		t.Errorf("history length = %d, want 32", len(rec.Violations))
	}
	if rec.Client != "1.2.3.4" {
		t.Errorf("Client = %q, want 1.2.3.4", rec.Client)
	}
	if rec.Score != -40 {
		t.Errorf("Score = %d, want -40", rec.Score)
	}

	// The newest violations are retained
	last := rec.Violations[len(rec.Violations)-1]
	if !last.OccurredAt.Equal(clock.Now().Add(-time.Second)) {
		t.Errorf("newest violation at %v, want %v", last.OccurredAt, clock.Now().Add(-time.Second))
	}
}

func TestRecord_ReturnsCopy(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	s.RecordViolation("1.2.3.4", domain.ViolationRateLimit, -5, "orig")

	rec := s.Record("1.2.3.4")
	rec.Violations[0].Detail = "mutated"

	if got := s.Record("1.2.3.4"); got.Violations[0].Detail != "orig" {
		t.Error("Record() exposed internal violation slice")
	}
}

func TestSweep_EvictsRecoveredIdleRecords(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(-100, 5*time.Minute, WithClock(clock.Now))

	s.RecordViolation("recovered", domain.ViolationRateLimit, -2, "")
	s.RecordViolation("deep", domain.ViolationBurst, -60, "")

	clock.Advance(3 * time.Hour)

	// "recovered" is back to 0 and idle; "deep" recovered only 36 points
	removed := s.Sweep(time.Hour)
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if got := s.Score("deep"); got != -24 {
		t.Errorf("Score(deep) = %d after sweep, want -24", got)
	}
}
