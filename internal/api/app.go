package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/osbits/expira/internal/config"
	"github.com/osbits/expira/internal/product"
	"github.com/osbits/expira/internal/runner"
)

// Store is the read side the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	GetProduct(ctx context.Context, id string) (product.Product, error)
	ListProducts(ctx context.Context) ([]product.Product, error)
	ListCheckResults(ctx context.Context, productID string, limit int) ([]product.CheckResult, error)
	StatusCounts(ctx context.Context) (map[product.Status]int, error)
}

// App wires storage, the runner and HTTP handlers together.
type App struct {
	cfg            config.ServerConfig
	store          Store
	runner         *runner.Runner
	scheduler      *runner.Scheduler
	allowlist      *allowlist
	trustedProxies []*net.IPNet
	logger         *slog.Logger
	namespace      string
}

// New constructs an App. scheduler may be nil.
func New(cfg config.ServerConfig, store Store, run *runner.Runner, scheduler *runner.Scheduler, logger *slog.Logger) (*App, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if run == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	al, err := newAllowlist(cfg.AllowedIPs)
	if err != nil {
		return nil, fmt.Errorf("build allowlist: %w", err)
	}
	trusted, err := parseCIDRs(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	return &App{
		cfg:            cfg,
		store:          store,
		runner:         run,
		scheduler:      scheduler,
		allowlist:      al,
		trustedProxies: trusted,
		logger:         logger,
		namespace:      "expira",
	}, nil
}

// Routes returns the HTTP handler tree.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if a.cfg.LogRequests {
		r.Use(middleware.Logger)
	}
	r.Use(a.ipAllowMiddleware)
	r.Get("/healthcheck", a.handleHealth)
	r.Get("/metrics", a.handleMetrics)
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", a.handleListProducts)
		r.Route("/{productID}", func(r chi.Router) {
			r.Get("/", a.handleGetProduct)
			r.Post("/check", a.handleCheckProduct)
			r.Get("/checks", a.handleListChecks)
		})
	})
	return r
}

func (a *App) ipAllowMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allowlist.allowed(clientIP(r, a.trustedProxies)) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
