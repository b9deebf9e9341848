// Package domain provides the core types shared by the admission subsystem.
package domain

import "time"

// ClientKey is the canonical identity used to bucket rate limits.
// It is typically the resolved client IP, proxy-aware.
type ClientKey string

// Category is the rate-limit profile class applied to a request.
type Category string

const (
	// CategoryExempt marks paths that bypass admission control entirely.
	CategoryExempt Category = "exempt"

	// CategoryAI covers AI/inference endpoints with tighter limits.
	CategoryAI Category = "ai"

	// CategoryGeneral covers all remaining API endpoints.
	CategoryGeneral Category = "general"
)

// EndpointProfile holds the request limits applied to one category.
type EndpointProfile struct {
	LimitPerMinute int
	LimitPerHour   int
}

// ViolationKind classifies why a client was penalized.
type ViolationKind string

const (
	// ViolationRateLimit is an ordinary per-minute or per-hour quota exceedance.
	ViolationRateLimit ViolationKind = "rate_limit"

	// ViolationBurst is a short-interval flood detected by the burst detector.
	ViolationBurst ViolationKind = "burst_attack"

	// ViolationSuspiciousPattern is a request matching a suspicious signature
	// (missing standard headers, scanner user agents, sensitive path probes).
	ViolationSuspiciousPattern ViolationKind = "suspicious_pattern"
)

// Violation is one entry in a client's violation history.
type Violation struct {
	Kind       ViolationKind `json:"kind"`
	Weight     int           `json:"weight"`
	Detail     string        `json:"detail,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ReputationRecord is the externally visible reputation state for a client.
// Score is always <= 0; 0 means clean.
type ReputationRecord struct {
	Client     ClientKey   `json:"client"`
	Score      int         `json:"score"`
	Violations []Violation `json:"violations,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// BlockKind records what created a block, so a later short-circuit can
// still attribute the denial correctly.
type BlockKind string

const (
	// BlockManual is an administratively created block.
	BlockManual BlockKind = "manual"

	// BlockReputation is a block created by the reputation score crossing
	// the block threshold.
	BlockReputation BlockKind = "reputation"

	// BlockBurst is a block created by the burst detector.
	BlockBurst BlockKind = "burst"
)

// BlockEntry describes an active (or historical) block for a client.
type BlockEntry struct {
	Client       ClientKey `json:"client"`
	Kind         BlockKind `json:"kind"`
	Reason       string    `json:"reason"`
	BlockedUntil time.Time `json:"blocked_until"`
	OffenseCount int       `json:"offense_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Remaining returns the time left on the block relative to now, floored at zero.
func (e BlockEntry) Remaining(now time.Time) time.Duration {
	if d := e.BlockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RateLimitResult is the outcome of a tracker check for one request.
type RateLimitResult struct {
	Allowed         bool
	LimitMinute     int
	LimitHour       int
	RemainingMinute int
	RemainingHour   int

	// RetryAfter is how long the client should wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ExceededWindow names the dimension that denied the request: "minute" or "hour".
	ExceededWindow string
}
