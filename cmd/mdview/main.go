package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mdview/internal/cache"
	"mdview/internal/config"
	"mdview/internal/fetch"
	server "mdview/internal/http"
	"mdview/internal/jobs"
	"mdview/internal/manifest"
	"mdview/internal/migrate"
	"mdview/internal/pipeline"
	"mdview/internal/shell"
	"mdview/internal/strategy"
	"mdview/internal/transcode"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))

	store := openStore(cfg)
	defer store.Close()

	fetcher := fetch.NewHTTPFetcher(fetch.OptionsFromConfig(cfg.Origin.UserAgent, cfg.Fetch.OriginTimeoutMs, cfg.Fetch.MaxBodyBytes))

	plugin := pipeline.NewMarkdown(pipeline.MarkdownOptions{
		Transcoder: transcode.New(transcode.Options{
			Extensions:    cfg.Markdown.Extensions,
			AutoHeadingID: cfg.Markdown.AutoHeadingID,
			Safe:          cfg.Markdown.Safe,
		}),
		Manifests:   manifest.NewResolver(fetcher, config.Millis(cfg.Fetch.ManifestTimeoutMs)),
		Shells:      shell.NewLoader(fetcher, config.Millis(cfg.Fetch.ShellTimeoutMs), logger),
		ConvertHTML: cfg.Fetch.ConvertHTML,
		Logger:      logger,
	})
	runner := pipeline.NewRunner(fetcher, plugin, config.Millis(cfg.Fetch.OriginTimeoutMs), logger)

	handler := strategy.New(store, runner, strategy.Options{
		CacheName:     cfg.Cache.Name,
		Match:         regexp.MustCompile(cfg.Markdown.Pattern),
		StaleFallback: cfg.Strategy.StaleFallbackEnabled(),
		Dedupe:        cfg.Strategy.Dedupe,
	}, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	activateCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	if err := handler.Activate(activateCtx); err != nil {
		cancel()
		log.Fatalf("activate cache %q failed: %v", cfg.Cache.Name, err)
	}
	cancel()

	policy, err := cache.PolicyFromConfig(cfg.Cache.Eviction.Policy, cfg.Cache.Eviction.MaxAge())
	if err != nil {
		log.Fatalf("eviction policy: %v", err)
	}
	janitor := jobs.NewJanitor(policy, cfg.Cache.Eviction.SweepInterval(), logger, handler.Cache())
	go janitor.Start(rootCtx)

	s, err := server.NewServer(cfg, server.Deps{Handler: handler, Store: store}, logger)
	if err != nil {
		log.Fatalf("server setup failed: %v", err)
	}

	go func() {
		<-rootCtx.Done()
		_ = s.Shutdown()
	}()

	logger.Info("listening", "addr", cfg.Addr(), "origin", cfg.Origin.BaseURL, "cache_backend", cfg.Cache.Backend)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func openStore(cfg *config.Config) cache.Store {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		st, err := cache.NewRedisStoreFromURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("redis cache failed: %v", err)
		}
		return st
	case config.BackendPostgres:
		// Run migrations on a short-lived connection
		if err := migrate.Run(cfg.Database.DSN); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		db, err := sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db failed: %v", err)
		}
		// Basic pool settings; adjust as needed
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		return cache.NewPostgresStore(db)
	default:
		return cache.NewMemoryStore()
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
