// Command collector runs the listing collection service: periodic
// scraping of configured marketplaces, reconciliation against Postgres,
// and notification delivery.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/clock/system"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/config"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/events"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/events/sinks"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/fetcher/headless"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/fetcher/static"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/listing"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/logging"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/reconcile"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scheduler"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper/fourzida"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper/halooglasi"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/scraper/oglasi"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/server"
	"github.com/srdjanbozic/Real-Estate-Data-Collection-System/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env and defaults apply)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "collector: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.File)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retry := cfg.RetryPolicy()

	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	}, retry)
	if err != nil {
		return err
	}
	defer store.Close()

	hub, err := buildHub(cfg, logger)
	if err != nil {
		return err
	}

	clock := system.Clock{}
	reconciler := reconcile.New(store, hub, clock, cfg.Scraper.StalenessWindow, logger)

	registry := scraper.NewRegistry()
	registry.Register("oglasi", oglasi.New)
	// The sales index shares markup with the rental index; it runs as its
	// own source so staleness and history never mix the two.
	registry.Register("oglasi-prodaja", oglasi.New)
	registry.Register("4zida", fourzida.New)
	registry.Register("halooglasi", halooglasi.New)

	fetchers, closeFetchers, err := buildFetchers(cfg)
	if err != nil {
		return err
	}
	defer closeFetchers()

	sched, err := scheduler.New(
		scheduler.Config{
			Concurrency:   cfg.Scraper.Concurrency,
			MaxPages:      cfg.Scraper.MaxPages,
			CycleInterval: cfg.Scraper.CycleInterval,
			ShutdownGrace: cfg.Scraper.ShutdownGrace,
		},
		cfg.EnabledSources(),
		registry,
		fetchers,
		reconciler,
		retry,
		clock,
		logger,
	)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.Port, logger)
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	logger.Info("collector started",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("sources", registry.Names()),
		zap.Duration("cycle_interval", cfg.Scraper.CycleInterval),
	)

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	select {
	case err := <-serverErr:
		stop()
		<-runErr
		shutdown(hub, srv, logger)
		return err
	case err := <-runErr:
		shutdown(hub, srv, logger)
		return err
	}
}

func buildHub(cfg config.Config, logger *zap.Logger) (*events.Hub, error) {
	sinkList := []events.Sink{
		sinks.NewLog(logger),
		sinks.NewPrometheus(),
	}
	if cfg.Telegram.Enabled {
		tg, err := sinks.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			return nil, err
		}
		sinkList = append(sinkList, tg)
	}
	return events.NewHub(events.Config{Logger: logger}, sinkList...), nil
}

func buildFetchers(cfg config.Config) (map[string]listing.Fetcher, func(), error) {
	fetchers := map[string]listing.Fetcher{
		scraper.KindStatic: static.New(static.Config{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
		}),
	}

	needHeadless := false
	for _, src := range cfg.EnabledSources() {
		if src.Kind == scraper.KindHeadless {
			needHeadless = true
		}
	}
	closeFn := func() {}
	if needHeadless {
		hf, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		fetchers[scraper.KindHeadless] = hf
		closeFn = hf.Close
	}
	return fetchers, closeFn, nil
}

func shutdown(hub *events.Hub, srv *server.Server, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("event hub shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	logger.Info("collector stopped")
}
