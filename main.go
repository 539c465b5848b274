package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sourcegraph/conc"

	"github.com/Zachkp/folio/internal/page"
	"github.com/Zachkp/folio/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("folio stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("FOLIO_CONFIG")
	if path == "" {
		path = "folio.yaml"
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Server.DBPath, store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer st.Close()

	// the recorder outlives the session loops so their final outcomes land
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	recorder := store.NewAsyncRecorder(st, 1024, logger)
	var recWG conc.WaitGroup
	recWG.Go(func() { recorder.Run(recCtx) })

	var wg conc.WaitGroup
	reg, err := page.NewRegistry(page.RegistryConfig{
		Loader:      cfg.loader,
		Sections:    cfg.pageSections(),
		IdleTTL:     cfg.idleTTL,
		MaxSessions: cfg.Sessions.Max,
	},
		page.WithLoopFactory(page.RunnerFactory(ctx, &wg)),
		page.WithOutcomeRecorder(recorder),
		page.WithRegistryLogger(logger),
	)
	if err != nil {
		return err
	}
	wg.Go(func() { reg.Run(ctx, cfg.sweepEvery) })
	wg.Go(func() { runVisitorCleanup(ctx, st, cfg.visitorRetention, logger) })

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newServer(ctx, cfg, logger, reg, st).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "sections", len(cfg.Sections))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	wg.Wait()
	stopRecorder()
	recWG.Wait()
	return serveErr
}
