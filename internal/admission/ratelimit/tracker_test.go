package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testProfiles() map[domain.Category]domain.EndpointProfile {
	return map[domain.Category]domain.EndpointProfile{
		domain.CategoryGeneral: {LimitPerMinute: 60, LimitPerHour: 1000},
		domain.CategoryAI:      {LimitPerMinute: 30, LimitPerHour: 500},
	}
}

func TestCheckAndIncrement_AllowsWithinLimit(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	if !res.Allowed {
		t.Fatal("Expected first request to be allowed")
	}
	if res.LimitMinute != 60 || res.LimitHour != 1000 {
		t.Errorf("Limits = %d/%d, want 60/1000", res.LimitMinute, res.LimitHour)
	}
	if res.RemainingMinute != 59 {
		t.Errorf("RemainingMinute = %d, want 59", res.RemainingMinute)
	}
	if res.RemainingHour != 999 {
		t.Errorf("RemainingHour = %d, want 999", res.RemainingHour)
	}
}

func TestCheckAndIncrement_DeniesOverMinuteLimit(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	for i := 0; i < 60; i++ {
		res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
		if !res.Allowed {
			t.Fatalf("Request %d denied, want allowed", i+1)
		}
		clock.Advance(100 * time.Millisecond)
	}

	res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	if res.Allowed {
		t.Fatal("Request 61 allowed, want denied")
	}
	if res.ExceededWindow != "minute" {
		t.Errorf("ExceededWindow = %q, want minute", res.ExceededWindow)
	}
	if res.RemainingMinute != 0 {
		t.Errorf("RemainingMinute = %d, want 0", res.RemainingMinute)
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", res.RetryAfter)
	}
}

func TestCheckAndIncrement_DeniedRequestsDoNotConsume(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	for i := 0; i < 60; i++ {
		tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	}
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral); res.Allowed {
		t.Fatal("Expected denial at the limit")
	}

	// Hammering while denied must not extend the hour count: only the 60
	// admitted events occupy the hour window.
	for i := 0; i < 100; i++ {
		res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
		if res.Allowed {
			t.Fatalf("Denied request %d unexpectedly allowed", i)
		}
		if res.RemainingHour != 1000-60 {
			t.Fatalf("RemainingHour = %d, want %d", res.RemainingHour, 1000-60)
		}
	}

	// Once the minute window slides past the events, requests are admitted
	// again, which would be impossible if denials had consumed slots.
	clock.Advance(61 * time.Second)
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral); !res.Allowed {
		t.Fatal("Expected admission after window slid")
	}
}

func TestCheckAndIncrement_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	// Fill the minute window
	for i := 0; i < 60; i++ {
		tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	}
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral); res.Allowed {
		t.Fatal("Expected denial at minute limit")
	}

	// 59s later the events are still inside the trailing window
	clock.Advance(59 * time.Second)
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral); res.Allowed {
		t.Fatal("Expected denial while events remain in the trailing minute")
	}

	// 2s more and they have aged out
	clock.Advance(2 * time.Second)
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral); !res.Allowed {
		t.Fatal("Expected admission after events aged out")
	}
}

func TestCheckAndIncrement_HourLimit(t *testing.T) {
	clock := newFakeClock()
	profiles := map[domain.Category]domain.EndpointProfile{
		domain.CategoryGeneral: {LimitPerMinute: 10, LimitPerHour: 30},
	}
	tr := NewTracker(profiles, WithClock(clock.Now))

	// Spread 30 requests over 3 minutes so the minute window never trips
	for i := 0; i < 30; i++ {
		res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
		if !res.Allowed {
			t.Fatalf("Request %d denied, want allowed", i+1)
		}
		clock.Advance(7 * time.Second)
	}

	res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	if res.Allowed {
		t.Fatal("Request 31 allowed, want hour denial")
	}
	if res.ExceededWindow != "hour" {
		t.Errorf("ExceededWindow = %q, want hour", res.ExceededWindow)
	}
	if res.RemainingHour != 0 {
		t.Errorf("RemainingHour = %d, want 0", res.RemainingHour)
	}
	// The minute dimension still reports its true remaining capacity
	if res.RemainingMinute == 0 {
		t.Error("RemainingMinute = 0, want capacity in the minute window")
	}
}

func TestCheckAndIncrement_MinuteEvaluatedBeforeHour(t *testing.T) {
	clock := newFakeClock()
	profiles := map[domain.Category]domain.EndpointProfile{
		domain.CategoryGeneral: {LimitPerMinute: 5, LimitPerHour: 5},
	}
	tr := NewTracker(profiles, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	}

	// Both windows are at capacity; the minute window must be reported.
	res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	if res.Allowed {
		t.Fatal("Expected denial")
	}
	if res.ExceededWindow != "minute" {
		t.Errorf("ExceededWindow = %q, want minute", res.ExceededWindow)
	}
}

func TestCheckAndIncrement_CategoriesIndependent(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	// Exhaust the AI category
	for i := 0; i < 30; i++ {
		tr.CheckAndIncrement("1.2.3.4", domain.CategoryAI)
	}
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryAI); res.Allowed {
		t.Fatal("Expected AI category to be exhausted")
	}

	// The same client's general quota is untouched
	res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	if !res.Allowed {
		t.Fatal("Expected general category to be unaffected")
	}
	if res.RemainingMinute != 59 {
		t.Errorf("RemainingMinute = %d, want 59", res.RemainingMinute)
	}
}

func TestCheckAndIncrement_ClientsIndependent(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	for i := 0; i < 60; i++ {
		tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	}
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral); res.Allowed {
		t.Fatal("Expected client 1.2.3.4 to be limited")
	}

	if res := tr.CheckAndIncrement("5.6.7.8", domain.CategoryGeneral); !res.Allowed {
		t.Fatal("Expected other client to be unaffected")
	}
}

func TestCheckAndIncrement_UnknownCategoryAdmits(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	res := tr.CheckAndIncrement("1.2.3.4", domain.Category("mystery"))
	if !res.Allowed {
		t.Error("Expected unknown category to admit")
	}
}

func TestCheckAndIncrement_RetryAfterWholeSeconds(t *testing.T) {
	clock := newFakeClock()
	profiles := map[domain.Category]domain.EndpointProfile{
		domain.CategoryGeneral: {LimitPerMinute: 1, LimitPerHour: 100},
	}
	tr := NewTracker(profiles, WithClock(clock.Now))

	tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	clock.Advance(30*time.Second + 500*time.Millisecond)

	res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	if res.Allowed {
		t.Fatal("Expected denial")
	}
	// 29.5s until the event leaves the window, rounded up to 30s
	if res.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", res.RetryAfter)
	}
	if res.RetryAfter%time.Second != 0 {
		t.Errorf("RetryAfter = %v, want whole seconds", res.RetryAfter)
	}
}

func TestSetProfiles_HotReload(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	for i := 0; i < 60; i++ {
		tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	}
	if res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral); res.Allowed {
		t.Fatal("Expected denial at old limit")
	}

	// Raising the limit admits immediately; history is preserved.
	tr.SetProfiles(map[domain.Category]domain.EndpointProfile{
		domain.CategoryGeneral: {LimitPerMinute: 120, LimitPerHour: 2000},
	})
	res := tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	if !res.Allowed {
		t.Fatal("Expected admission under raised limit")
	}
	if res.RemainingMinute != 120-61 {
		t.Errorf("RemainingMinute = %d, want %d", res.RemainingMinute, 120-61)
	}
}

// Exercised under -race: reloads swap the profile set while request
// goroutines read it.
func TestSetProfiles_ConcurrentWithChecks(t *testing.T) {
	tr := NewTracker(testProfiles())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client := domain.ClientKey(fmt.Sprintf("10.0.0.%d", id))
			for {
				select {
				case <-stop:
					return
				default:
					tr.CheckAndIncrement(client, domain.CategoryGeneral)
				}
			}
		}(g)
	}

	for i := 0; i < 1000; i++ {
		tr.SetProfiles(map[domain.Category]domain.EndpointProfile{
			domain.CategoryGeneral: {LimitPerMinute: 60 + i%2, LimitPerHour: 1000},
		})
	}
	close(stop)
	wg.Wait()

	if res := tr.CheckAndIncrement("10.0.0.0", domain.CategoryGeneral); res.LimitMinute == 0 {
		t.Error("Expected a live profile set after concurrent reloads")
	}
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(testProfiles(), WithClock(clock.Now))

	tr.CheckAndIncrement("1.2.3.4", domain.CategoryGeneral)
	tr.CheckAndIncrement("5.6.7.8", domain.CategoryGeneral)

	clock.Advance(2 * time.Hour)
	tr.CheckAndIncrement("5.6.7.8", domain.CategoryGeneral)

	removed := tr.Sweep(time.Hour)
	if removed != 1 {
		t.Errorf("Sweep removed %d entries, want 1", removed)
	}
}
