package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
)

const readHeaderTimeout = 5 * time.Second

type daemon struct {
	engine          *engine.Engine
	logger          *slog.Logger
	interval        time.Duration
	metricsAddr     string
	metricsHandler  http.Handler
	shutdownTimeout time.Duration
}

// run blocks until ctx is done or the metrics server fails.
func (d *daemon) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.sweepLoop(ctx)
	})

	if d.metricsAddr != "" {
		server := &http.Server{
			Addr:              d.metricsAddr,
			Handler:           d.routes(),
			ReadHeaderTimeout: readHeaderTimeout,
		}

		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		g.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
			defer cancel()

			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", d.metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// sweepLoop sweeps once right away and then on every tick. Failed sweeps are logged and
// retried on the next tick.
func (d *daemon) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.sweep(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep runs the overdue sweep before the expiry sweep, so a ban set in this round is never
// cleared in the same round.
func (d *daemon) sweep(ctx context.Context) {
	system := lending.SystemPrincipal()

	overdue, err := d.engine.SweepOverdue(ctx, system)
	d.logSweep(ctx, "overdue", overdue, err)

	if ctx.Err() != nil {
		return
	}

	expired, err := d.engine.SweepExpiredBlacklist(ctx, system)
	d.logSweep(ctx, "expired_blacklist", expired, err)
}

func (d *daemon) logSweep(ctx context.Context, sweep string, report engine.SweepReport, err error) {
	if err != nil {
		if lending.IsCancellation(err) {
			return
		}

		d.logger.ErrorContext(ctx, "sweep failed", "sweep", sweep, "error", err.Error())

		return
	}

	d.logger.InfoContext(ctx, "sweep finished",
		"sweep", sweep,
		"candidates", report.Candidates,
		"affected", len(report.Affected),
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
}
