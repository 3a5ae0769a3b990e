package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/osbits/expira/internal/api"
	"github.com/osbits/expira/internal/checks"
	"github.com/osbits/expira/internal/config"
	"github.com/osbits/expira/internal/notifier"
	"github.com/osbits/expira/internal/observability"
	"github.com/osbits/expira/internal/render"
	"github.com/osbits/expira/internal/runner"
	"github.com/osbits/expira/internal/storage"
)

type flags struct {
	configPath      string
	envPath         string
	checkID         string
	listen          string
	shutdownTimeout time.Duration
}

func main() {
	var f flags
	defaultConfig := os.Getenv("EXPIRA_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yml"
	}
	flag.StringVar(&f.configPath, "config", defaultConfig, "path to configuration file")
	flag.StringVar(&f.envPath, "env", ".env", "path to optional env file")
	flag.StringVar(&f.checkID, "check", "", "check a single product and exit")
	flag.StringVar(&f.listen, "listen", "", "override listen address")
	flag.DurationVar(&f.shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(f, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("expira stopped", "error", err)
		os.Exit(1)
	}
}

func run(f flags, logger *slog.Logger) error {
	observability.LoadDotEnv(logger, f.envPath)
	reporter := observability.SetupRollbar(logger, "expira")
	defer reporter.Close()
	defer reporter.Recover()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if f.listen != "" {
		cfg.Server.Listen = f.listen
	}
	secrets, err := cfg.ResolveSecrets()
	if err != nil {
		return fmt.Errorf("resolve secrets: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Path, storage.Options{
		CheckResultRetention:  cfg.Storage.CheckResultRetention,
		NotificationRetention: cfg.Storage.NotificationLogRetention,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := signalContext(logger)
	defer cancel()

	if err := seedProducts(ctx, cfg, store); err != nil {
		return err
	}

	registry, err := notifier.Build(notifier.Factory{Secrets: secrets, Render: render.New()}, cfg.Notifiers, store, logger)
	if err != nil {
		return fmt.Errorf("build notifiers: %w", err)
	}

	opts := checks.OptionsFromConfig(cfg.Engine)
	opts.Logger = logger
	engine := checks.NewEngine(opts)
	checker := runner.New(engine, store, registry, runner.Options{
		LogRuns: cfg.Service.Defaults.LogRuns,
		Logger:  logger,
	})

	if f.checkID != "" {
		return checkOnce(ctx, checker, f.checkID)
	}

	scheduler, err := runner.NewScheduler(checker, runner.SchedulerOptionsFromConfig(cfg, logger))
	if err != nil {
		return fmt.Errorf("initialise scheduler: %w", err)
	}
	app, err := api.New(cfg.Server, store, checker, scheduler, logger)
	if err != nil {
		return fmt.Errorf("initialise api: %w", err)
	}
	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      app.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Server.Listen, "db", cfg.Storage.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
		return nil
	})
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		reporter.Error(err, map[string]interface{}{"listen": cfg.Server.Listen})
	}
	logger.Info("server stopped")
	return err
}

func seedProducts(ctx context.Context, cfg *config.Config, store *storage.Store) error {
	for _, seed := range cfg.Products {
		p, err := seed.Product()
		if err != nil {
			return err
		}
		if err := store.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("seed product %q: %w", seed.ID, err)
		}
	}
	return nil
}

func checkOnce(ctx context.Context, checker *runner.Runner, id string) error {
	resp, err := checker.CheckProduct(ctx, id)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err != nil {
		if errors.Is(err, runner.ErrProductNotFound) {
			_ = enc.Encode(resp)
		}
		return err
	}
	return enc.Encode(resp)
}

func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-signals:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
