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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Telecare/internal/adapters/http"
	"github.com/dkeye/Telecare/internal/adapters/storage/blob"
	"github.com/dkeye/Telecare/internal/adapters/storage/sqlite"
	"github.com/dkeye/Telecare/internal/app"
	"github.com/dkeye/Telecare/internal/app/audit"
	"github.com/dkeye/Telecare/internal/app/chat"
	"github.com/dkeye/Telecare/internal/app/files"
	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/config"
	transporthttp "github.com/dkeye/Telecare/internal/transport/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := blob.New(afero.NewOsFs(), cfg.Storage.BlobDir, cfg.Storage.BlobBaseURL)
	if err != nil {
		return err
	}

	auditLog := audit.NewLogger(db.Audit(), cfg.AuditBuffer, cfg.AuditWriteTimeout)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := auditLog.Close(closeCtx); err != nil {
			log.Warn().Err(err).Int64("dropped", auditLog.Dropped()).Msg("audit log not drained")
		}
	}()

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Hub:   signaling.NewHub(app.SimplePolicy{}, auditLog),
		Chat:  chat.NewStore(db.Chat()),
		Notes: db.Notes(),
		Files: files.NewRegistry(blobs, db.Files(), cfg.Storage.MaxUploadBytes, auditLog),
		Audit: auditLog,
		Blobs: blobs.Dir(),
		Health: []transporthttp.Check{
			{Name: "sqlite", Run: func(context.Context) error { return db.Ping() }},
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Telecare server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	return g.Wait()
}
