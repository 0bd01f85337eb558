package commands

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	httpAdapter "github.com/cwygoda/mediagrab/internal/adapter/http"
	"github.com/cwygoda/mediagrab/internal/sweeper"
)

const shutdownTimeout = 10 * time.Second

// ServeAction runs the HTTP API, the scheduler and the sweeper until the
// context is cancelled.
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	app, err := NewAppContext(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config
	if port := cmd.Int("port"); port != 0 {
		cfg.Port = port
	}

	app.Log.Info("starting mediagrab",
		"port", cfg.Port,
		"work_dir", cfg.WorkDir,
		"history", cfg.DBPath,
		"platforms", len(app.Platforms.Platforms()),
		"max_concurrency", cfg.MaxConcurrency,
		"max_queue", cfg.MaxQueue,
	)

	srv := httpAdapter.NewServer(app.Service, httpAdapter.Options{
		Addr:           cfg.Addr(),
		CORSOrigins:    httpAdapter.ParseOrigins(cfg.CORSOrigins),
		CookieMaxBytes: cfg.CookieMaxBytes,
		Uploads:        app.Workspace,
		Stats:          func() any { return app.Scheduler.Stats() },
		Version:        cmd.Root().Version,
	})
	sw := sweeper.New(app.Store, app.Service, cfg.JobTTL, cfg.SweepInterval)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.Scheduler.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		sw.Run(runCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		app.Log.Info("HTTP server listening", "addr", srv.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		app.Log.Info("shutting down")
	case err = <-errCh:
		app.Log.Error("HTTP server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		app.Log.Warn("HTTP server shutdown", "error", serr)
	}

	cancel()
	wg.Wait()
	app.Log.Info("shutdown complete")
	return err
}
