// Package redis provides Redis-backed implementations of the block list and
// reputation store for multi-instance deployments. The in-memory defaults
// remain the single-process fast path; this adapter is the documented swap
// point behind the same ports, so the middleware contract does not change.
package redis

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

// opTimeout bounds every Redis round trip. The admission ports are
// synchronous, so the adapter owns its deadlines.
const opTimeout = 250 * time.Millisecond

// BlockList implements ports.BlockList on Redis. Expiry is delegated to key
// TTLs; offense history lives in a separate key whose TTL is the observation
// period, so escalation survives block expiry exactly like the in-memory list.
type BlockList struct {
	rdb    *redis.Client
	prefix string

	baseDuration      time.Duration
	durationCap       time.Duration
	observationPeriod time.Duration

	logger *slog.Logger
}

// NewBlockList creates a Redis-backed block list.
func NewBlockList(rdb *redis.Client, base, cap, observation time.Duration, logger *slog.Logger) *BlockList {
	return &BlockList{
		rdb:               rdb,
		prefix:            "rampart:block",
		baseDuration:      base,
		durationCap:       cap,
		observationPeriod: observation,
		logger:            logger,
	}
}

func (l *BlockList) blockKey(client domain.ClientKey) string {
	return l.prefix + ":entry:" + string(client)
}

func (l *BlockList) offenseKey(client domain.ClientKey) string {
	return l.prefix + ":offenses:" + string(client)
}

// IsBlocked reports whether the client's block key still exists. A Redis
// failure reports blocked=false so only the local block check fails closed.
func (l *BlockList) IsBlocked(client domain.ClientKey) (bool, domain.BlockEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	fields, err := l.rdb.HGetAll(ctx, l.blockKey(client)).Result()
	if err != nil || len(fields) == 0 {
		if err != nil {
			l.logger.Warn("redis block lookup failed", slog.String("error", err.Error()))
		}
		return false, domain.BlockEntry{}
	}
	return true, entryFromFields(client, fields)
}

// Block increments the offense counter, computes the escalated duration, and
// writes the block entry with a matching TTL.
func (l *BlockList) Block(client domain.ClientKey, kind domain.BlockKind, reason string) domain.BlockEntry {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now()

	offenses, err := l.rdb.Incr(ctx, l.offenseKey(client)).Result()
	if err != nil {
		l.logger.Warn("redis offense incr failed", slog.String("error", err.Error()))
		offenses = 1
	}
	l.rdb.Expire(ctx, l.offenseKey(client), l.observationPeriod)

	d := l.baseDuration
	for i := int64(1); i < offenses && d < l.durationCap; i++ {
		d *= 2
	}
	if d > l.durationCap {
		d = l.durationCap
	}

	entry := domain.BlockEntry{
		Client:       client,
		Kind:         kind,
		Reason:       reason,
		BlockedUntil: now.Add(d),
		OffenseCount: int(offenses),
		CreatedAt:    now,
	}

	// An active deadline further out than the escalated one is kept.
	if prev, err := l.rdb.HGet(ctx, l.blockKey(client), "blocked_until").Result(); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, prev); perr == nil && t.After(entry.BlockedUntil) {
			entry.BlockedUntil = t
			d = t.Sub(now)
		}
	}

	pipe := l.rdb.Pipeline()
	pipe.HSet(ctx, l.blockKey(client), map[string]any{
		"kind":          string(kind),
		"reason":        reason,
		"blocked_until": entry.BlockedUntil.UTC().Format(time.RFC3339Nano),
		"offenses":      offenses,
		"created_at":    now.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, l.blockKey(client), d)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("redis block write failed", slog.String("error", err.Error()))
	}
	return entry
}

// Unblock deletes the block and offense keys.
func (l *BlockList) Unblock(client domain.ClientKey) bool {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	removed, err := l.rdb.Del(ctx, l.blockKey(client), l.offenseKey(client)).Result()
	if err != nil {
		l.logger.Warn("redis unblock failed", slog.String("error", err.Error()))
		return false
	}
	return removed > 0
}

// Entries scans the active block keys. Admin-only; not on the decision path.
func (l *BlockList) Entries() []domain.BlockEntry {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []domain.BlockEntry
	iter := l.rdb.Scan(ctx, 0, l.prefix+":entry:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := l.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		client := domain.ClientKey(key[len(l.prefix+":entry:"):])
		out = append(out, entryFromFields(client, fields))
	}
	return out
}

// Sweep is a no-op: Redis TTLs handle expiry.
func (l *BlockList) Sweep() int {
	return 0
}

func entryFromFields(client domain.ClientKey, fields map[string]string) domain.BlockEntry {
	entry := domain.BlockEntry{
		Client: client,
		Kind:   domain.BlockKind(fields["kind"]),
		Reason: fields["reason"],
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["blocked_until"]); err == nil {
		entry.BlockedUntil = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		entry.CreatedAt = t
	}
	if n, err := strconv.Atoi(fields["offenses"]); err == nil {
		entry.OffenseCount = n
	}
	return entry
}
