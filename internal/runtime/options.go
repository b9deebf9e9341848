package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/rampartlabs/rampart/internal/adapters/config/file"
	"github.com/rampartlabs/rampart/internal/core/ports"
	"github.com/rampartlabs/rampart/internal/storage/sqldb"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload. The file is
// watched; limit and path-table changes apply without a restart.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.configProvider = provider
		return nil
	}
}

// WithSQLite persists violation events and block history to SQLite. This
// overrides the storage section of the loaded config.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqldb.NewSQLite(path)
		if err != nil {
			return fmt.Errorf("create sqlite violation store: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithRedis backs the block list and reputation store with Redis so multiple
// gateway instances share admission state. Block and reputation parameters
// still come from the loaded config. This overrides the redis section of the
// config.
func WithRedis(addr, password string, db int) Option {
	return func(g *Gateway) error {
		g.redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
		return nil
	}
}

// WithHandler mounts the protected downstream handler. Requests reach it
// only after admission.
func WithHandler(h http.Handler) Option {
	return func(g *Gateway) error {
		g.handler = h
		return nil
	}
}

// WithLogger sets a custom logger. Pass this before other options so their
// construction logs use it.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithConfigProvider sets a custom config provider, for advanced cases where
// the caller controls config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.configProvider = provider
		return nil
	}
}

// WithEventPublisher sets a custom event publisher, replacing the default
// direct-to-storage one.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		g.events = publisher
		return nil
	}
}

// WithViolationStore sets a custom violation store.
func WithViolationStore(store ports.ViolationStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}
