package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"model_registry/internal/httpapi"
	"model_registry/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

// ServeOptions tweaks the long-running server
type ServeOptions struct {
	// SyncOnStart runs one model sync before the schedule takes over
	SyncOnStart bool
	// Listener overrides the configured port, mostly for tests
	Listener net.Listener
}

// Handler builds the HTTP surface over the app's services
func (a *App) Handler() http.Handler {
	return httpapi.NewRouter(&httpapi.Dependencies{
		Registry:    a.Registry,
		Completions: a.Completions,
		Usage:       a.Recorder,
		Store:       a.DB,
		Models:      a.ModelRepo,
		Records:     a.UsageRepo,
		Pipeline:    a.UsageWorker,
		Gatherer:    a.Prometheus,
	})
}

// Serve runs the HTTP server, the usage worker and the sync schedule until
// ctx is cancelled, then shuts everything down in dependency order.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	sched, err := scheduler.New(a.Registry, scheduler.Config{
		Schedule:    a.Config.Registry.SyncSchedule,
		SyncOnStart: opts.SyncOnStart,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + a.Config.HTTPPort,
		Handler:      a.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: a.Config.OpenRouter.Timeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// The worker outlives the serve context; Shutdown drains and stops it.
	a.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		var err error
		if opts.Listener != nil {
			logger.Info("Model registry listening", "addr", opts.Listener.Addr().String())
			err = server.Serve(opts.Listener)
		} else {
			logger.Info("Model registry listening", "addr", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
		}
		if err := a.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		logger.Info("Server exited")
		return errors.Join(errs...)
	})

	return g.Wait()
}
