// Package sqldb persists violation events and block history so the
// audit/alerting collaborator can consume them out of band.
package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rampartlabs/rampart/internal/core/domain"
)

// Store is the SQLite implementation of ports.ViolationStore.
type Store struct {
	db *sqlx.DB
}

// NewSQLite opens (or creates) the database at dbPath and initializes the
// schema.
func NewSQLite(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		client TEXT NOT NULL,
		category TEXT NOT NULL,
		kind TEXT NOT NULL,
		reputation INTEGER NOT NULL,
		detail TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_violations_client ON violations(client, created_at);

	CREATE TABLE IF NOT EXISTS blocks (
		client TEXT NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL,
		blocked_until TIMESTAMP NOT NULL,
		offense_count INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocks_client ON blocks(client, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AppendViolation inserts one violation event.
func (s *Store) AppendViolation(ctx context.Context, event *domain.ViolationEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO violations (id, client, category, kind, reputation, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Client), string(event.Category), string(event.Kind),
		event.Reputation, event.Detail, event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// AppendBlock records a block entry for history.
func (s *Store) AppendBlock(ctx context.Context, entry *domain.BlockEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (client, kind, reason, blocked_until, offense_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(entry.Client), string(entry.Kind), entry.Reason, entry.BlockedUntil.UTC(),
		entry.OffenseCount, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

type violationRow struct {
	ID         string    `db:"id"`
	Client     string    `db:"client"`
	Category   string    `db:"category"`
	Kind       string    `db:"kind"`
	Reputation int       `db:"reputation"`
	Detail     string    `db:"detail"`
	CreatedAt  time.Time `db:"created_at"`
}

// RecentViolations returns the newest events for a client, newest first.
func (s *Store) RecentViolations(ctx context.Context, client domain.ClientKey, limit int) ([]*domain.ViolationEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []violationRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, client, category, kind, reputation, detail, created_at
		 FROM violations WHERE client = ? ORDER BY created_at DESC LIMIT ?`,
		string(client), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select violations: %w", err)
	}

	events := make([]*domain.ViolationEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, &domain.ViolationEvent{
			ID:         row.ID,
			Client:     domain.ClientKey(row.Client),
			Category:   domain.Category(row.Category),
			Kind:       domain.ViolationKind(row.Kind),
			Reputation: row.Reputation,
			Detail:     row.Detail,
			Timestamp:  row.CreatedAt,
		})
	}
	return events, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
