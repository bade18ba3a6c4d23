package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"homegame/apps/server/internal/auth"
	"homegame/apps/server/internal/config"
	"homegame/apps/server/internal/expiry"
	"homegame/apps/server/internal/httpapi"
	"homegame/apps/server/internal/notify"
	"homegame/apps/server/internal/settlement"
	"homegame/apps/server/internal/store"
)

const shutdownTimeout = 10 * time.Second

var CLI struct {
	Config      string `short:"c" long:"config" default:"homegame.hcl" help:"Path to HCL configuration file"`
	Addr        string `short:"a" long:"addr" help:"Server address to bind to (overrides config)"`
	LogLevel    string `short:"l" long:"log-level" env:"LOG_LEVEL" help:"Log level (overrides config)"`
	StoreMode   string `long:"store-mode" env:"STORE_MODE" help:"memory, sqlite or postgres (overrides config)"`
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" help:"Postgres DSN (overrides config)"`
	LocalDBPath string `long:"local-db-path" env:"LOCAL_DATABASE_PATH" help:"SQLite file path (overrides config)"`
	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" help:"Redis address for sessions and notifications (overrides config)"`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("homegame"),
		kong.Description("Settlement and checkout server for home cash games."))

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		kctx.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	level, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", cfg.Server.LogLevel)
		level = log.InfoLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		kctx.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return nil, err
	}
	if CLI.Addr != "" {
		cfg.Server.Address = CLI.Addr
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if CLI.StoreMode != "" {
		cfg.Store.Mode = CLI.StoreMode
	}
	if CLI.DatabaseURL != "" {
		cfg.Store.DatabaseURL = CLI.DatabaseURL
	}
	if CLI.LocalDBPath != "" {
		cfg.Store.LocalPath = CLI.LocalDBPath
	}
	if CLI.RedisAddr != "" {
		cfg.Redis.Addr = CLI.RedisAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	clock := quartz.NewReal()

	db, storeMode, err := store.Open(cfg.Store.Mode, cfg.Store.DatabaseURL, cfg.Store.LocalPath)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	feed, feedMode, err := notify.NewFeed(ctx, cfg.Redis.Addr)
	if err != nil {
		return fmt.Errorf("init notifications: %w", err)
	}
	defer feed.Close()

	sessions, sessionMode, err := auth.NewService(ctx, cfg.Redis.Addr, cfg.SessionTTL(), clock)
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}
	defer sessions.Close()

	games := settlement.NewService(db, feed, clock, logger)
	sweeper := expiry.NewSweeper(games, clock, cfg.ExpiryInterval(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	auth.NewHTTPHandler(sessions).RegisterRoutes(mux)
	httpapi.NewHTTPHandler(games, sessions, feed, httpapi.Options{
		RequestTimeout: cfg.RequestTimeout(),
		GameTTL:        cfg.GameTTL(),
		AutoValidate:   cfg.AutoValidate(),
	}, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Starting homegame server",
		"addr", cfg.Server.Address,
		"store", storeMode,
		"notifications", feedMode,
		"sessions", sessionMode,
		"game_ttl", cfg.GameTTL())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
