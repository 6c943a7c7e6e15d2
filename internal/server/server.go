package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dukerupert/keygate/internal/entitlement"
	"github.com/dukerupert/keygate/internal/events"
	"github.com/dukerupert/keygate/internal/handler"
	"github.com/dukerupert/keygate/internal/metrics"
	"github.com/dukerupert/keygate/internal/middleware"
	"github.com/dukerupert/keygate/internal/session"
	"github.com/dukerupert/keygate/internal/store"
	ws "github.com/dukerupert/keygate/internal/websocket"
)

const readyTimeout = 2 * time.Second

// Config holds the HTTP-facing settings.
type Config struct {
	AdminPassphrase string
	AllowedOrigins  []string
	RateLimit       int
	RateWindow      time.Duration
}

// Deps are the collaborators the server wires together.
type Deps struct {
	Tokens   store.Tokens
	Accounts store.Accounts
	// Ping reports database reachability for /readyz.
	Ping       func(context.Context) error
	Sessions   *session.Manager
	Mailer     handler.Mailer
	Publishers []events.Publisher
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Clock      entitlement.Clock
}

type Server struct {
	cfg      Config
	deps     Deps
	hub      *ws.Hub
	events   *events.Fanout
	tokenH   *handler.TokenHandler
	authH    *handler.AuthHandler
	adminH   *handler.AdminHandler
	resolver *entitlement.Resolver
	logger   *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	hub := ws.NewHub(logger)
	fanout := events.NewFanout(logger, append([]events.Publisher{hub}, deps.Publishers...)...)

	issuer := entitlement.NewIssuer(deps.Tokens, deps.Clock)
	activator := entitlement.NewActivator(deps.Tokens, deps.Clock)
	resolver := entitlement.NewResolver(deps.Tokens, deps.Clock)

	return &Server{
		cfg:      cfg,
		deps:     deps,
		hub:      hub,
		events:   fanout,
		resolver: resolver,
		tokenH: handler.NewTokenHandler(issuer, activator, resolver, deps.Tokens, deps.Sessions,
			deps.Mailer, fanout, deps.Metrics, deps.Clock, logger.With("component", "token")),
		authH:  handler.NewAuthHandler(deps.Accounts, deps.Sessions, logger.With("component", "auth")),
		adminH: handler.NewAdminHandler(deps.Tokens, fanout, logger.With("component", "admin")),
		logger: logger,
	}
}

// Hub returns the admin event hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http")))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "HX-Request", middleware.AdminPassphraseHeader},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(s.deps.Sessions.Middleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get(middleware.LoginPath, hintHandler("POST /api/login with {\"email\", \"password\"}"))
	r.Get(middleware.ActivatePath, hintHandler("POST /api/activate with {\"token\"}"))

	requireAuth := middleware.RequireAuth(s.deps.Metrics)
	requireAdmin := middleware.RequireAdmin(s.cfg.AdminPassphrase, s.deps.Metrics)
	requireEntitlement := middleware.RequireEntitlement(s.resolver, s.deps.Metrics, s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit())
			r.Post("/signup", s.authH.Signup)
			r.Post("/login", s.authH.Login)
			r.Post("/tokens/validate", s.tokenH.Validate)
			r.With(requireAuth).Post("/activate", s.tokenH.Activate)
		})

		r.With(requireAuth).Post("/logout", s.authH.Logout)
		r.With(requireAuth).Get("/entitlement", s.tokenH.Entitlement)
		r.With(requireAuth, requireEntitlement).Get("/protected", s.tokenH.Protected)
		r.With(requireAdmin).Post("/tokens", s.tokenH.Issue)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Get("/tokens", s.adminH.ListTokens)
		r.Post("/tokens/{id}/revoke", s.adminH.RevokeToken)
		r.Get("/events", ws.HandleEvents(s.hub, s.cfg.AllowedOrigins))
	})

	return otelhttp.NewHandler(r, "keygate",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(s.cfg.RateLimit, s.cfg.RateWindow,
		httprate.WithKeyFuncs(middleware.ClientKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
		}),
	)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func hintHandler(hint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"hint": hint})
	}
}
