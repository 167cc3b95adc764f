package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/enforcement"
	"github.com/opensource-finance/harrier/internal/escalation"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/signals"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// Dependencies are the services the HTTP API fronts.
type Dependencies struct {
	Repo          domain.Repository
	Bus           domain.EventBus
	Gate          *enforcement.Gate
	Velocity      *velocity.Service
	Registrations *detect.RegistrationChecker
	Escalation    *escalation.Service

	// Catalog bounds which signal ids clients may report. Nil accepts any id.
	Catalog *signals.Catalog

	Version string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", RequestIDHeader, TraceIDHeader, AdminIDHeader, "traceparent", "tracestate"},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	router.Use(middleware.RealIP)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(RecoverMiddleware)

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/v1", func(r chi.Router) {
		r.Post("/enforcement/check", handler.CheckFeature)
		r.Post("/velocity/peek", handler.PeekVelocity)
		r.Get("/users/{id}/tier", handler.GetTier)

		r.Group(func(r chi.Router) {
			if cfg.RegistrationRateLimit > 0 {
				r.Use(httprate.Limit(
					cfg.RegistrationRateLimit,
					time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByRealIP),
					httprate.WithLimitHandler(rateLimited),
				))
			}
			r.Post("/registrations/check", handler.CheckRegistration)
		})

		// Marketplace ingestion
		r.Post("/fingerprints", handler.RecordFingerprint)
		r.Put("/accounts/{id}", handler.UpsertAccount)
		r.Post("/ledger", handler.AppendLedger)
		r.Post("/users/{id}/observations", handler.RecordObservations)
		r.Post("/users/{id}/events", handler.ReportEvent)
		r.Post("/users/{id}/score", handler.RequestScore)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminMiddleware)

			r.Get("/tickets", handler.ListTickets)
			r.Get("/tickets/{id}", handler.GetTicket)
			r.Post("/tickets/{id}/claim", handler.ClaimTicket)
			r.Post("/tickets/{id}/override", handler.OverrideTicket)
			r.Post("/tickets/{id}/resolve", handler.ResolveTicket)

			r.Post("/users/{id}/whitelist", handler.WhitelistUser)
			r.Get("/users/{id}/profile", handler.GetProfile)
			r.Get("/users/{id}/events", handler.ListEvents)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = s.httpServer()
	return s.server.ListenAndServe()
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Serve runs the server until ctx is cancelled, then drains connections.
func (s *Server) Serve(ctx context.Context) error {
	s.server = s.httpServer()
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening",
			"host", s.config.Host,
			"port", s.config.Port,
		)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) String() string { return "http-server" }

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error: "too many registration attempts",
		Code:  "RATE_LIMITED",
	})
}
