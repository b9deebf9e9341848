// Package ratelimit implements per-(client, category) sliding-window request
// counters over trailing minute and hour windows.
package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/rampartlabs/rampart/internal/admission/shardmap"
	"github.com/rampartlabs/rampart/internal/core/domain"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Tracker counts requests in trailing 60s/3600s windows. Categories are
// tracked independently per client, so exhausting one category's quota never
// affects another. Denied requests do not consume a slot.
type Tracker struct {
	// profiles is swapped atomically on config hot-reload while request
	// goroutines read it concurrently.
	profiles atomic.Pointer[map[domain.Category]domain.EndpointProfile]
	windows  *shardmap.Map[*clientWindows]
	now      func() time.Time
}

// clientWindows holds the event history for one (client, category) pair.
// Access is serialized by the owning map shard.
type clientWindows struct {
	minute   []time.Time
	hour     []time.Time
	lastSeen time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker for the given category profiles.
func NewTracker(profiles map[domain.Category]domain.EndpointProfile, opts ...Option) *Tracker {
	t := &Tracker{
		windows: shardmap.New[*clientWindows](),
		now:     time.Now,
	}
	t.profiles.Store(&profiles)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetProfiles swaps the category limits, used by config hot-reload. Existing
// window history is preserved; in-flight checks finish against the profile
// set they loaded.
func (t *Tracker) SetProfiles(profiles map[domain.Category]domain.EndpointProfile) {
	t.profiles.Store(&profiles)
}

// CheckAndIncrement purges expired events, then evaluates the minute window
// first and the hour window second. The first window that would be exceeded
// denies the request with remaining=0 for that dimension and without
// consuming a slot. Allowed requests increment both windows.
func (t *Tracker) CheckAndIncrement(client domain.ClientKey, category domain.Category) domain.RateLimitResult {
	profile, ok := (*t.profiles.Load())[category]
	if !ok {
		// Unknown categories admit freely rather than failing closed.
		return domain.RateLimitResult{Allowed: true}
	}

	now := t.now()
	key := string(client) + "|" + string(category)

	var res domain.RateLimitResult
	t.windows.Update(key, func(w *clientWindows, exists bool) (*clientWindows, bool) {
		if !exists {
			w = &clientWindows{}
		}
		w.lastSeen = now
		w.minute = purge(w.minute, now.Add(-minuteWindow))
		w.hour = purge(w.hour, now.Add(-hourWindow))

		res = domain.RateLimitResult{
			LimitMinute: profile.LimitPerMinute,
			LimitHour:   profile.LimitPerHour,
		}

		if len(w.minute) >= profile.LimitPerMinute {
			res.Allowed = false
			res.ExceededWindow = "minute"
			res.RemainingMinute = 0
			res.RemainingHour = remaining(profile.LimitPerHour, len(w.hour))
			res.RetryAfter = retryAfter(w.minute, minuteWindow, now)
			return w, true
		}
		if len(w.hour) >= profile.LimitPerHour {
			res.Allowed = false
			res.ExceededWindow = "hour"
			res.RemainingMinute = remaining(profile.LimitPerMinute, len(w.minute))
			res.RemainingHour = 0
			res.RetryAfter = retryAfter(w.hour, hourWindow, now)
			return w, true
		}

		w.minute = append(w.minute, now)
		w.hour = append(w.hour, now)
		res.Allowed = true
		res.RemainingMinute = remaining(profile.LimitPerMinute, len(w.minute))
		res.RemainingHour = remaining(profile.LimitPerHour, len(w.hour))
		return w, true
	})

	return res
}

// Sweep evicts (client, category) entries idle for longer than maxIdle.
func (t *Tracker) Sweep(maxIdle time.Duration) int {
	cutoff := t.now().Add(-maxIdle)
	return t.windows.Prune(func(_ string, w *clientWindows) bool {
		return w.lastSeen.Before(cutoff)
	})
}

// purge drops events at or before the window boundary. Events are appended in
// order, so the retained suffix is found with a linear scan from the front.
func purge(events []time.Time, boundary time.Time) []time.Time {
	i := 0
	for i < len(events) && !events[i].After(boundary) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0], events[i:]...)
}

func remaining(limit, count int) int {
	if r := limit - count; r > 0 {
		return r
	}
	return 0
}

// retryAfter is the time until the oldest event leaves the window, rounded up
// to a whole second so Retry-After is never zero while still denied.
func retryAfter(events []time.Time, window time.Duration, now time.Time) time.Duration {
	if len(events) == 0 {
		return time.Second
	}
	d := events[0].Add(window).Sub(now)
	if d <= 0 {
		return time.Second
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
