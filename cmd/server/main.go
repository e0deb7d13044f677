package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/emergency-dispatch/internal/audit"
	"github.com/example/emergency-dispatch/internal/billing"
	"github.com/example/emergency-dispatch/internal/config"
	"github.com/example/emergency-dispatch/internal/dispatch"
	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/geo"
	httpapi "github.com/example/emergency-dispatch/internal/http"
	"github.com/example/emergency-dispatch/internal/logging"
	"github.com/example/emergency-dispatch/internal/storage"
	"github.com/example/emergency-dispatch/internal/transport"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// optional migration: apply migrations/001_create_sos_archive.sql if requested
	if cfg.PGDSN != "" && cfg.RunMigrations {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_sos_archive.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					logger.Error("migration exec failed", "error", err)
				} else {
					logger.Info("migration applied", "file", "001_create_sos_archive.sql")
				}
			}
			_ = db.Close()
		} else {
			logger.Error("migration db open failed", "error", err)
		}
	}

	hub := transport.NewHub(logger)
	coord := dispatch.New(hub, logger)
	coord.DefaultSpeedMps = cfg.DefaultSpeedMps
	coord.TripFeeCents = cfg.TripFeeCents
	coord.Currency = cfg.Currency

	if cfg.RedisAddr != "" {
		coord.Mirror = geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := audit.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer pub.Close()
		coord.Audit = pub
	}
	if cfg.PGDSN != "" {
		if pa, err := storage.NewPostgresArchive(cfg.PGDSN); err == nil {
			coord.Archive = pa
		} else {
			logger.Error("postgres archive unavailable, using memory archive", "error", err)
		}
	}
	if coord.Archive == nil {
		coord.Archive = storage.NewMemoryArchive()
	}
	if cfg.StripeAPIKey != "" && cfg.TripFeeCents > 0 {
		coord.Biller = billing.NewStripeClient(cfg.StripeAPIKey)
	}
	if cfg.OSRMEndpoint != "" {
		coord.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reaper := dispatch.NewReaper(coord, cfg.SweepInterval, cfg.RetentionWindow)
	go reaper.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(coord, hub, cfg.WebDir, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("emergency-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
