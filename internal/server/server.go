package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rampartlabs/rampart/internal/admission"
	"github.com/rampartlabs/rampart/internal/core/ports"
)

// Server hosts the admission middleware in front of the protected routes.
type Server struct {
	Router *chi.Mux
	Port   int

	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the router and middleware chain. The admission middleware runs
// after request ID and logging so denials are logged with their client key,
// and before the protected handler so denied requests never reach it.
func New(port int, requestTimeout time.Duration, state *admission.State, events ports.EventPublisher, store ports.ViolationStore, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "rampart")
	})
	r.Use(AdmissionMiddleware(state, events, store, logger))

	s := &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}

	r.Get("/health", s.handleHealth)
	mountAdmin(r, state, store)

	return s
}

// Mount attaches the protected downstream handler at the root. Requests only
// reach it after admission.
func (s *Server) Mount(handler http.Handler) {
	s.Router.Handle("/*", handler)
}

// Start begins serving and blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
