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

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lobby-mapban/internal/config"
	"github.com/DoyleJ11/lobby-mapban/internal/exclusion"
	"github.com/DoyleJ11/lobby-mapban/internal/httpapi"
	"github.com/DoyleJ11/lobby-mapban/internal/hub"
	"github.com/DoyleJ11/lobby-mapban/internal/lobby"
	"github.com/DoyleJ11/lobby-mapban/internal/obs"
	"github.com/DoyleJ11/lobby-mapban/internal/store"
)

const (
	shutdownTimeout  = 10 * time.Second
	archiveQueueSize = 64
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archive, err := openArchive(cfg, log)
	if err != nil {
		return err
	}

	writer := store.NewWriter(archive, log.Named("archive"), archiveQueueSize)
	metrics := obs.NewMetrics(nil)
	ledger := exclusion.New(
		exclusion.WithBlockDuration(cfg.BlockDuration),
		exclusion.WithLogger(log.Named("exclusion")),
		exclusion.WithMetrics(metrics),
	)

	h := hub.NewHub(ctx, hub.Options{
		Logger:      log,
		Ledger:      ledger,
		TurnTimeout: cfg.TurnTimeout,
		OnResolved:  func(r lobby.Result) { writer.Enqueue(r) },
		Metrics:     metrics,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(httpapi.Deps{Hub: h, Ledger: ledger, Archive: archive, Logger: log}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ledger.Run(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		return writer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		err = multierr.Append(err, h.Close(shutdownCtx))
		ledger.Reset()
		return err
	})

	err = g.Wait()
	return multierr.Append(err, archive.Close())
}

func openArchive(cfg config.Config, log *zap.Logger) (store.Archive, error) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not set, result archive disabled")
		return store.Nop{}, nil
	}
	s, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}
