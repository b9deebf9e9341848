package reputation

import (
	"time"

	"github.com/rampartlabs/rampart/internal/admission/shardmap"
	"github.com/rampartlabs/rampart/internal/core/domain"
)

// BurstDetector keeps a short rolling window of request timestamps per client.
// A client exceeding the threshold inside the window is classified distinctly
// from ordinary quota exhaustion and blocked immediately, even while within
// nominal per-minute quota.
type BurstDetector struct {
	threshold int
	window    time.Duration

	entries *shardmap.Map[*burstEntry]
	now     func() time.Time
}

type burstEntry struct {
	events   []time.Time
	lastSeen time.Time
}

// BurstOption configures a BurstDetector.
type BurstOption func(*BurstDetector)

// WithBurstClock overrides the time source, for tests.
func WithBurstClock(now func() time.Time) BurstOption {
	return func(d *BurstDetector) { d.now = now }
}

// NewBurstDetector creates a detector that trips when a client issues at
// least threshold requests inside the rolling window.
func NewBurstDetector(threshold int, window time.Duration, opts ...BurstOption) *BurstDetector {
	d := &BurstDetector{
		threshold: threshold,
		window:    window,
		entries:   shardmap.New[*burstEntry](),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe records one request for the client and reports whether the burst
// threshold was crossed within the rolling window.
func (d *BurstDetector) Observe(client domain.ClientKey) bool {
	now := d.now()
	tripped := false
	d.entries.Update(string(client), func(e *burstEntry, ok bool) (*burstEntry, bool) {
		if !ok {
			e = &burstEntry{}
		}
		e.lastSeen = now

		boundary := now.Add(-d.window)
		i := 0
		for i < len(e.events) && !e.events[i].After(boundary) {
			i++
		}
		if i > 0 {
			e.events = append(e.events[:0], e.events[i:]...)
		}

		e.events = append(e.events, now)
		tripped = len(e.events) >= d.threshold
		return e, true
	})
	return tripped
}

// Sweep evicts burst windows idle for longer than maxIdle.
func (d *BurstDetector) Sweep(maxIdle time.Duration) int {
	cutoff := d.now().Add(-maxIdle)
	return d.entries.Prune(func(_ string, e *burstEntry) bool {
		return e.lastSeen.Before(cutoff)
	})
}
