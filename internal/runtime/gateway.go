// Package runtime wires configuration, admission state, storage, events, and
// the HTTP server into a runnable gateway.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/rampartlabs/rampart/internal/adapters/events/direct"
	redisstore "github.com/rampartlabs/rampart/internal/adapters/store/redis"
	"github.com/rampartlabs/rampart/internal/admission"
	"github.com/rampartlabs/rampart/internal/core/ports"
	"github.com/rampartlabs/rampart/internal/pkg/config"
	"github.com/rampartlabs/rampart/internal/server"
	"github.com/rampartlabs/rampart/internal/storage/sqldb"
)

// Gateway is the admission gateway runtime. Construct with New, then Start.
type Gateway struct {
	configProvider ports.ConfigProvider
	store          ports.ViolationStore
	events         ports.EventPublisher
	handler        http.Handler
	logger         *slog.Logger
	redisClient    *redis.Client

	cfg    *config.Config
	state  *admission.State
	server *server.Server

	cancel context.CancelFunc
	errCh  chan error
}

// New creates a gateway from functional options. Unset options fall back to
// defaults: config.yaml, no persistence, no event publishing, 404 handler.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger: slog.Default(),
		errCh:  make(chan error, 1),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Start loads configuration, assembles the admission state, and begins
// serving. It returns once the listener is up; serve errors surface on Wait.
func (g *Gateway) Start(ctx context.Context) error {
	cfg, err := g.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	g.cfg = cfg

	g.state = admission.NewState(cfg.Admission, g.logger)

	if g.redisClient == nil && cfg.Redis.Enabled {
		g.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	if g.redisClient != nil {
		g.state.Blocks = redisstore.NewBlockList(
			g.redisClient,
			cfg.Admission.Block.BaseDuration,
			cfg.Admission.Block.DurationCap,
			cfg.Admission.Block.ObservationPeriod,
			g.logger,
		)
		g.state.Reputation = redisstore.NewReputation(
			g.redisClient,
			cfg.Admission.Reputation.Floor,
			cfg.Admission.Reputation.RecoveryInterval,
			g.logger,
		)
		g.logger.Info("using redis-backed block list and reputation store",
			slog.String("addr", g.redisClient.Options().Addr))
	}

	if g.store == nil && cfg.Storage.Type == "sqlite" {
		store, err := sqldb.NewSQLite(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open violation store: %w", err)
		}
		g.store = store
	}

	if g.events == nil && g.store != nil {
		publisher, err := direct.NewPublisher(g.store, g.logger)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		g.events = publisher
	}

	g.server = server.New(
		cfg.Server.Port,
		cfg.Server.RequestTimeout,
		g.state,
		g.events,
		g.store,
		g.logger,
	)
	if g.handler != nil {
		g.server.Mount(g.handler)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	go g.state.RunSweeper(runCtx)

	if g.configProvider != nil {
		err := g.configProvider.Watch(runCtx, func(next *config.Config) {
			g.state.ApplyConfig(next.Admission)
		})
		if err != nil {
			g.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		}
	}

	go func() {
		g.errCh <- g.server.Start()
	}()

	return nil
}

// Wait blocks until the server exits and returns its error, if any.
func (g *Gateway) Wait() error {
	return <-g.errCh
}

// Shutdown stops the server, the sweeper, and every owned resource.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}

	var firstErr error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if g.events != nil {
		if err := g.events.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.configProvider != nil {
		if err := g.configProvider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if g.redisClient != nil {
		if err := g.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Gateway) loadConfig(ctx context.Context) (*config.Config, error) {
	if g.configProvider != nil {
		return g.configProvider.Load(ctx)
	}
	return config.Load()
}
