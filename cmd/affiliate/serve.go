package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"affiliate/internal/auth"
	"affiliate/internal/catalog"
	"affiliate/internal/config"
	"affiliate/internal/db"
	"affiliate/internal/dmqueue"
	httpx "affiliate/internal/http"
	"affiliate/internal/instagram"
	"affiliate/internal/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook/admin API and the DM dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		defer func() { _ = logger.Sync() }()

		gdb, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Infow("schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := dmqueue.NewMetrics(reg)

	limiter := recipientLimiter(ctx, cfg, logger)

	store := &instagram.ConfigStore{
		DB: gdb,
		Fallback: instagram.Credentials{
			AccessToken: cfg.Instagram.AccessToken,
			AccountID:   cfg.Instagram.AccountID,
		},
	}

	repo := &dmqueue.Repo{DB: gdb}
	ledger := dmqueue.NewLedger(gdb, cfg.Dispatch.HourlyCap, cfg.Dispatch.MinSpacing)
	disp := dmqueue.NewDispatcher(
		repo,
		ledger,
		&catalog.Composer{DB: gdb, SiteURL: cfg.Instagram.SiteURL},
		instagram.NewClient(cfg.Instagram.APIBase),
		store,
		dmqueue.Options{
			TickSpacing:      cfg.Dispatch.TickSpacing,
			RateLimitBackoff: cfg.Dispatch.RateLimitBackoff,
			Limiter:          limiter,
			Metrics:          metrics,
			Logger:           logger,
		},
	)
	gate := &dmqueue.Gate{
		Repo:        repo,
		Worker:      disp,
		Limiter:     limiter,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Metrics:     metrics,
		Logger:      logger.Named("gate"),
	}

	router := httpx.NewRouter(cfg, httpx.Deps{
		DB:         gdb,
		JWT:        auth.NewJWT(cfg.JWTSecret),
		Gate:       gate,
		Dispatcher: disp,
		Config:     store,
		Gatherer:   reg,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Recover before Run so a wake-up is waiting if work was left behind.
		if err := disp.Recover(gctx); err != nil {
			logger.Errorw("recover dispatcher", "error", err)
		}
		disp.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Infow("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// recipientLimiter returns nil when Redis is not configured or unreachable;
// admission then relies on the account-wide ledger alone.
func recipientLimiter(ctx context.Context, cfg config.Config, logger *log.Logger) dmqueue.RecipientLimiter {
	if cfg.Redis.Addr == "" {
		logger.Infow("REDIS_ADDR not set - per-recipient limit disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warnw("redis unavailable - per-recipient limit disabled", "addr", cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return nil
	}
	return dmqueue.NewRedisRecipientLimiter(client, cfg.Dispatch.PerRecipientHourly)
}
