// Command fstorage serves the authenticated file storage API.
//
// Configuration comes from the environment, optionally layered over the
// YAML or JSON file named by FSTORAGE_CONFIG_FILE. AUTH_BASE_URL and
// MINIO_ACCESS_KEY are required; see internal/server.Config for the rest.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StricklySoft/stricklysoft-fstorage/internal/files"
	"github.com/StricklySoft/stricklysoft-fstorage/internal/server"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/auth"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/config"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const tracingFlushTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fstorage: exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.MustLoad[server.Config](
		config.New().WithFile(os.Getenv("FSTORAGE_CONFIG_FILE")),
	)

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = version
	}
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), tracingFlushTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("fstorage: tracing shutdown failed", "error", err)
		}
	}()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("fstorage: client close failed", "error", err)
			}
		}
	}()

	store, err := minio.NewClient(ctx, cfg.MinIO)
	if err != nil {
		return err
	}
	closers = append(closers, store.Close)
	checks := map[string]server.HealthCheck{"minio": store.Health}

	var catalog files.Catalog = files.NopCatalog{}
	var pgCatalog *files.PostgresCatalog
	if cfg.Postgres.Enabled {
		db, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { db.Close(); return nil })
		checks["postgres"] = db.Health
		pgCatalog = files.NewPostgresCatalog(db)
		catalog = pgCatalog
	}

	resolverOpts := []auth.ResolverOption{auth.WithResolverLogger(logger)}
	if cfg.Redis.Enabled {
		kv, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		closers = append(closers, kv.Close)
		checks["redis"] = kv.Health
		resolverOpts = append(resolverOpts,
			auth.WithSharedStore(auth.NewRedisKeyStore(kv, kv.Key("jwks")+":")))
	}

	fetcher, err := auth.NewKeySetFetcher(cfg.AuthBaseURL, auth.WithFetchTimeout(cfg.KeySetTimeout))
	if err != nil {
		return err
	}
	verifier := auth.NewTokenVerifier(
		auth.NewKeyResolver(auth.NewKeyCache(), fetcher, resolverOpts...),
		auth.WithClockSkew(cfg.ClockSkew),
	)

	fileSvc, err := files.NewService(store, catalog, files.Options{
		Bucket:        cfg.Storage.Bucket,
		PublicBaseURL: cfg.PublicBaseURL(),
		MaxFileBytes:  cfg.MaxUploadBytes,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	var httpServer *server.Server
	svc, err := lifecycle.NewServiceBuilder("fstorage", version).
		WithLogger(logger).
		WithOnStart(func(ctx context.Context) error {
			if err := store.EnsureBucket(ctx, cfg.Storage.Bucket); err != nil {
				return err
			}
			if pgCatalog != nil {
				if err := pgCatalog.EnsureSchema(ctx); err != nil {
					return err
				}
			}
			return httpServer.Start(ctx)
		}).
		WithOnStop(func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		}).
		Build()
	if err != nil {
		return err
	}

	router := server.NewRouter(cfg, server.Dependencies{
		Verifier:  verifier,
		Files:     fileSvc,
		Readiness: svc,
		Checks:    checks,
		Logger:    logger,
	})
	httpServer = server.New(cfg, router, logger)

	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("fstorage: ready",
		"addr", httpServer.Addr(),
		"bucket", cfg.Storage.Bucket,
		"authority", fetcher.URL(),
		"catalog", pgCatalog != nil,
		"shared_key_store", cfg.Redis.Enabled,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("fstorage: shutdown signal received")
	case err, ok := <-httpServer.Errors():
		if ok {
			serveErr = fmt.Errorf("fstorage: http server stopped: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, svc.Stop(shutdownCtx))
}
