// Package direct provides an event publisher that writes violation events
// straight to the violation store. It is the default for single-instance
// deployments; a message-bus publisher can replace it behind the same port.
package direct

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/rampartlabs/rampart/internal/core/domain"
	"github.com/rampartlabs/rampart/internal/core/ports"
)

// Publisher implements ports.EventPublisher. Writes are throttled so a
// sustained attack cannot flood the audit sink; events over the budget are
// dropped and counted.
type Publisher struct {
	store   ports.ViolationStore
	limiter *rate.Limiter
	dropped atomic.Uint64
	logger  *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithThrottle overrides the default write budget.
func WithThrottle(perSecond float64, burst int) Option {
	return func(p *Publisher) {
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewPublisher creates a direct publisher writing to store.
func NewPublisher(store ports.ViolationStore, logger *slog.Logger, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("violation store required")
	}
	p := &Publisher{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish writes one violation event, subject to the throttle.
func (p *Publisher) Publish(ctx context.Context, event *domain.ViolationEvent) error {
	if !p.limiter.Allow() {
		if n := p.dropped.Add(1); n%1000 == 1 {
			p.logger.Warn("violation events throttled",
				slog.Uint64("dropped_total", n),
			)
		}
		return nil
	}
	return p.store.AppendViolation(ctx, event)
}

// Dropped returns the number of events discarded by the throttle.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close is a no-op; the store is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}
