package domain

import "time"

// ViolationEvent is the structured event emitted to the audit/alerting
// collaborator whenever a client is penalized or blocked. Storage and
// delivery of these events live behind ports.EventPublisher.
type ViolationEvent struct {
	ID         string        `json:"id"`
	Client     ClientKey     `json:"client"`
	Category   Category      `json:"category"`
	Kind       ViolationKind `json:"violation_kind"`
	Reputation int           `json:"reputation"`
	Detail     string        `json:"detail,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}
