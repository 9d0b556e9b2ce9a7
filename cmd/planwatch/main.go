// Package main wires together the planning-portal scraping service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch/internal/api"
	"github.com/planwatch/planwatch/internal/config"
	"github.com/planwatch/planwatch/internal/headless"
	"github.com/planwatch/planwatch/internal/logging"
	"github.com/planwatch/planwatch/internal/metrics"
	"github.com/planwatch/planwatch/internal/policy/ratelimit"
	"github.com/planwatch/planwatch/internal/portal"
	"github.com/planwatch/planwatch/internal/scraper"
	"github.com/planwatch/planwatch/internal/status"
	"github.com/planwatch/planwatch/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Run a single scrape of every borough and exit")
	interval := flag.Duration("interval", 0, "Re-run the full scrape on this interval (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once, *interval); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, once bool, interval time.Duration) error {
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime(),
	}, cfg.Keywords, logger)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	var renderer portal.Renderer
	if cfg.Headless.Enabled {
		chromeRenderer, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			renderer = chromeRenderer
			defer chromeRenderer.Close()
		}
	}

	retry := portal.NewRetryPolicy(cfg.Scraper.MaxRetries, 500*time.Millisecond)
	factory := func(borough scraper.BoroughConfig) (scraper.PortalVariant, error) {
		return portal.NewVariant(portal.VariantConfig{
			Borough:       borough,
			MaxCandidates: cfg.Scraper.MaxCandidates,
			Client: portal.ClientConfig{
				UserAgent:     cfg.Scraper.UserAgent,
				RespectRobots: cfg.Scraper.RespectRobots,
				Timeout:       cfg.Timeout(),
				RequestDelay:  cfg.RequestDelay(),
				Retry:         retry,
				Logger:        logger,
			},
			Renderer: renderer,
			Logger:   logger,
		})
	}

	hub := status.NewHub()
	orchestrator := scraper.NewOrchestrator(scraper.OrchestratorConfig{
		Boroughs:    cfg.Boroughs,
		Keywords:    cfg.Keywords,
		MaxParallel: cfg.Scraper.MaxParallel,
		Factory:     factory,
		Store:       store,
		Pacer:       ratelimit.New(cfg.KeywordDelay()),
		Hub:         hub,
		Logger:      logger,
	})

	if once {
		results, err := orchestrator.ScrapeAll(ctx)
		if err != nil {
			return err
		}
		logRunResults(logger, results)
		return nil
	}

	if interval > 0 {
		go runScheduler(ctx, orchestrator, logger, interval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(orchestrator, store, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	orchestrator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// runScheduler kicks off a full scrape immediately and then on every tick.
// An in-flight run makes the tick a no-op rather than queueing.
func runScheduler(ctx context.Context, orchestrator *scraper.Orchestrator, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		results, err := orchestrator.ScrapeAll(ctx)
		switch {
		case errors.Is(err, scraper.ErrAlreadyRunning):
			logger.Info("scheduled scrape skipped, run already in progress")
		case err != nil:
			logger.Error("scheduled scrape failed", zap.Error(err))
		default:
			logRunResults(logger, results)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func logRunResults(logger *zap.Logger, results []scraper.Result) {
	for _, r := range results {
		if r.Success {
			logger.Info("borough scrape succeeded",
				zap.String("borough", r.Borough),
				zap.Int("total_found", r.Session.TotalFound),
				zap.Int("new_found", r.Session.NewFound),
				zap.Duration("duration", r.Duration),
			)
			continue
		}
		logger.Error("borough scrape failed",
			zap.String("borough", r.Borough),
			zap.String("error", r.Error),
			zap.Duration("duration", r.Duration),
		)
	}
}
