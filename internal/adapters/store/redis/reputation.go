package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

// historyLimit bounds the per-client violation list kept in Redis.
const historyLimit = 32

// Reputation implements ports.ReputationStore on Redis. Scores and their
// last-update timestamp live in a hash; recovery is applied lazily on read,
// mirroring the in-memory store. A short TTL refreshed on write bounds
// memory for idle clients.
type Reputation struct {
	rdb    *redis.Client
	prefix string

	floor            int
	recoveryInterval time.Duration
	idleTTL          time.Duration

	logger *slog.Logger
}

// NewReputation creates a Redis-backed reputation store.
func NewReputation(rdb *redis.Client, floor int, recoveryInterval time.Duration, logger *slog.Logger) *Reputation {
	return &Reputation{
		rdb:              rdb,
		prefix:           "rampart:reputation",
		floor:            floor,
		recoveryInterval: recoveryInterval,
		idleTTL:          24 * time.Hour,
		logger:           logger,
	}
}

func (s *Reputation) scoreKey(client domain.ClientKey) string {
	return s.prefix + ":score:" + string(client)
}

func (s *Reputation) historyKey(client domain.ClientKey) string {
	return s.prefix + ":history:" + string(client)
}

// Score returns the recovered score. Redis failures report 0 (clean) so the
// decision path fails open.
func (s *Reputation) Score(client domain.ClientKey) int {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	score, _, err := s.load(ctx, client)
	if err != nil {
		return 0
	}
	return score
}

// RecordViolation applies the penalty on top of the recovered score and
// returns the result.
func (s *Reputation) RecordViolation(client domain.ClientKey, kind domain.ViolationKind, weight int, detail string) int {
	if weight >= 0 {
		return s.Score(client)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now()
	score, _, err := s.load(ctx, client)
	if err != nil {
		return 0
	}

	score += weight
	if score < s.floor {
		score = s.floor
	}

	raw, _ := json.Marshal(domain.Violation{
		Kind:       kind,
		Weight:     weight,
		Detail:     detail,
		OccurredAt: now,
	})

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.scoreKey(client), map[string]any{
		"score":      score,
		"updated_at": now.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, s.scoreKey(client), s.idleTTL)
	pipe.LPush(ctx, s.historyKey(client), raw)
	pipe.LTrim(ctx, s.historyKey(client), 0, historyLimit-1)
	pipe.Expire(ctx, s.historyKey(client), s.idleTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("redis reputation write failed", slog.String("error", err.Error()))
	}
	return score
}

// Record returns the full reputation record including violation history.
func (s *Reputation) Record(client domain.ClientKey) domain.ReputationRecord {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rec := domain.ReputationRecord{Client: client}

	score, updatedAt, err := s.load(ctx, client)
	if err != nil {
		return rec
	}
	rec.Score = score
	rec.UpdatedAt = updatedAt

	raws, err := s.rdb.LRange(ctx, s.historyKey(client), 0, historyLimit-1).Result()
	if err != nil {
		return rec
	}
	for _, raw := range raws {
		var v domain.Violation
		if json.Unmarshal([]byte(raw), &v) == nil {
			rec.Violations = append(rec.Violations, v)
		}
	}
	return rec
}

// Sweep is a no-op: Redis TTLs bound idle entries.
func (s *Reputation) Sweep(_ time.Duration) int {
	return 0
}

// load reads the stored score and applies lazy recovery toward 0.
func (s *Reputation) load(ctx context.Context, client domain.ClientKey) (int, time.Time, error) {
	fields, err := s.rdb.HGetAll(ctx, s.scoreKey(client)).Result()
	if err != nil {
		s.logger.Warn("redis reputation read failed", slog.String("error", err.Error()))
		return 0, time.Time{}, err
	}
	if len(fields) == 0 {
		return 0, time.Time{}, nil
	}

	score, _ := strconv.Atoi(fields["score"])
	updatedAt, perr := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if perr != nil {
		return score, time.Time{}, nil
	}

	if score < 0 {
		steps := int(time.Since(updatedAt) / s.recoveryInterval)
		if steps > 0 {
			score += steps
			if score > 0 {
				score = 0
			}
			updatedAt = updatedAt.Add(time.Duration(steps) * s.recoveryInterval)
		}
	}
	return score, updatedAt, nil
}
