// Package admission assembles the shared mutable state behind the admission
// middleware: sliding-window counters, reputation scores, burst windows, and
// the block list. The state is constructed once at startup and passed by
// reference into request handling; there are no hidden singletons.
package admission

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rampartlabs/rampart/internal/admission/blocklist"
	"github.com/rampartlabs/rampart/internal/admission/classify"
	"github.com/rampartlabs/rampart/internal/admission/identity"
	"github.com/rampartlabs/rampart/internal/admission/ratelimit"
	"github.com/rampartlabs/rampart/internal/admission/reputation"
	"github.com/rampartlabs/rampart/internal/core/domain"
	"github.com/rampartlabs/rampart/internal/core/ports"
	"github.com/rampartlabs/rampart/internal/pkg/config"
)

// State bundles every admission-control component. Tracker, Reputation,
// Blocks, and Bursts are interfaces so a shared backend can replace the
// in-memory defaults without touching the middleware.
type State struct {
	Resolver   *identity.Resolver
	Tracker    ports.RateLimitTracker
	Reputation ports.ReputationStore
	Patterns   ports.PatternAnalyzer
	Bursts     ports.BurstDetector
	Blocks     ports.BlockList

	// BlockThreshold is the reputation score at or below which a client is
	// blocked. Penalty weights come from config.
	BlockThreshold   int
	RateLimitPenalty int
	BurstPenalty     int

	classifier    atomic.Pointer[classify.Classifier]
	sweepInterval time.Duration
	logger        *slog.Logger
}

// NewState builds the default in-memory admission state from configuration.
func NewState(cfg config.AdmissionConfig, logger *slog.Logger) *State {
	s := &State{
		Resolver: identity.NewResolver(cfg.TrustedProxy, cfg.TrustedProxies),
		Tracker:  ratelimit.NewTracker(profilesFromConfig(cfg)),
		Reputation: reputation.NewStore(
			cfg.Reputation.Floor,
			cfg.Reputation.RecoveryInterval,
		),
		Patterns: reputation.NewAnalyzer(reputation.PatternConfig{
			PenaltyMin: cfg.Reputation.PatternPenaltyMin,
			PenaltyMax: cfg.Reputation.PatternPenaltyMax,
		}),
		Bursts: reputation.NewBurstDetector(cfg.Burst.Threshold, cfg.Burst.WindowSeconds),
		Blocks: blocklist.New(
			cfg.Block.BaseDuration,
			cfg.Block.DurationCap,
			cfg.Block.ObservationPeriod,
		),
		BlockThreshold:   cfg.Reputation.BlockThreshold,
		RateLimitPenalty: cfg.Reputation.RateLimitPenalty,
		BurstPenalty:     cfg.Reputation.BurstPenalty,
		sweepInterval:    cfg.SweepInterval,
		logger:           logger,
	}
	s.classifier.Store(classify.NewClassifier(cfg.ExemptPaths, cfg.AIPaths))
	return s
}

// Classifier returns the current endpoint classifier. The pointer is swapped
// atomically on config reload so in-flight requests see a consistent table.
func (s *State) Classifier() *classify.Classifier {
	return s.classifier.Load()
}

// ApplyConfig swaps in reloaded limits and path tables. Backend-affecting
// settings (trust policy, thresholds) require a restart and are ignored here.
func (s *State) ApplyConfig(cfg config.AdmissionConfig) {
	s.classifier.Store(classify.NewClassifier(cfg.ExemptPaths, cfg.AIPaths))
	if t, ok := s.Tracker.(*ratelimit.Tracker); ok {
		t.SetProfiles(profilesFromConfig(cfg))
	}
	s.logger.Info("admission config reloaded",
		slog.Int("exempt_paths", len(cfg.ExemptPaths)),
		slog.Int("ai_paths", len(cfg.AIPaths)),
	)
}

// RunSweeper runs the low-frequency background sweep until ctx is cancelled.
// It bounds memory by evicting fully idle entries; correctness never depends
// on it because every store also prunes lazily on access.
func (s *State) RunSweeper(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	// Idle entries older than the widest window have no effect on decisions.
	const maxIdle = time.Hour

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trackers := s.Tracker.Sweep(maxIdle)
			reps := s.Reputation.Sweep(maxIdle)
			bursts := s.Bursts.Sweep(maxIdle)
			blocks := s.Blocks.Sweep()
			if trackers+reps+bursts+blocks > 0 {
				s.logger.Debug("admission sweep",
					slog.Int("rate_windows", trackers),
					slog.Int("reputation_records", reps),
					slog.Int("burst_windows", bursts),
					slog.Int("block_entries", blocks),
				)
			}
		}
	}
}

func profilesFromConfig(cfg config.AdmissionConfig) map[domain.Category]domain.EndpointProfile {
	profiles := make(map[domain.Category]domain.EndpointProfile, len(cfg.Categories))
	for name, limits := range cfg.Categories {
		profiles[domain.Category(name)] = domain.EndpointProfile{
			LimitPerMinute: limits.LimitPerMinute,
			LimitPerHour:   limits.LimitPerHour,
		}
	}
	return profiles
}
