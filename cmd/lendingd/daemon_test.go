package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoollibrary/lendingengine/internal/config"
	"github.com/schoollibrary/lendingengine/lending"
	"github.com/schoollibrary/lendingengine/lending/engine"
	"github.com/schoollibrary/lendingengine/lending/promadapters"
	"github.com/schoollibrary/lendingengine/lending/sqlengine"
	"github.com/schoollibrary/lendingengine/testutil/fixtures"
	"github.com/schoollibrary/lendingengine/testutil/spies"
	"github.com/schoollibrary/lendingengine/testutil/sqlitetest"
)

var termStart = time.Date(2026, time.September, 7, 8, 0, 0, 0, time.UTC)

func newTestDaemon(t *testing.T, clock *fixtures.Clock, logSpy *spies.LogHandlerSpy) (*daemon, *sqlengine.Store) {
	t.Helper()

	registry := prometheus.NewRegistry()
	store := sqlitetest.NewStore(t)
	eng, err := engine.New(store,
		engine.WithClock(clock.Now),
		engine.WithMetrics(promadapters.NewMetricsCollector(registry)),
	)
	require.NoError(t, err)

	d := &daemon{
		engine:          eng,
		logger:          slog.New(logSpy),
		interval:        time.Hour,
		metricsHandler:  (&observability{registry: registry}).metricsHandler(),
		shutdownTimeout: time.Second,
	}

	return d, store
}

func Test_Daemon_SweepBansLateBorrowers(t *testing.T) {
	// setup
	clock := fixtures.NewClock(termStart)
	logSpy := spies.NewLogHandlerSpy(false)
	d, store := newTestDaemon(t, clock, logSpy)

	late := uuid.New()
	material := fixtures.GivenMaterial(t, store, 1)
	fixtures.GivenPickedUpLoan(t, store, material.ID, late, termStart, 14)
	clock.AdvanceDays(14 + 31)

	// act
	d.sweep(context.Background())

	// assert
	assert.True(t, logSpy.HasInfoLogWithMessage("sweep finished").WithAttr("sweep", "overdue").Assert())
	assert.True(t, logSpy.HasInfoLogWithMessage("sweep finished").WithAttr("sweep", "expired_blacklist").Assert())
	assert.False(t, logSpy.HasErrorLogWithMessage("sweep failed").Assert())

	status, err := d.engine.BorrowingStatus(context.Background(), late)
	require.NoError(t, err)
	assert.True(t, status.Banned)
}

func Test_Daemon_ServesMetricsAndHealth(t *testing.T) {
	// setup
	clock := fixtures.NewClock(termStart)
	d, _ := newTestDaemon(t, clock, spies.NewLogHandlerSpy(false))
	server := httptest.NewServer(d.routes())
	defer server.Close()

	_, err := d.engine.SweepOverdue(context.Background(), lending.SystemPrincipal())
	require.NoError(t, err)

	// act
	metricsResponse, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResponse.Body.Close()
	body, err := io.ReadAll(metricsResponse.Body)
	require.NoError(t, err)

	healthResponse, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer healthResponse.Body.Close()

	// assert
	assert.Equal(t, http.StatusOK, metricsResponse.StatusCode)
	assert.Contains(t, string(body), "lending_engine_")
	assert.Equal(t, http.StatusOK, healthResponse.StatusCode)
}

func Test_Daemon_StopsWhenContextIsCanceled(t *testing.T) {
	// setup
	clock := fixtures.NewClock(termStart)
	d, _ := newTestDaemon(t, clock, spies.NewLogHandlerSpy(false))
	d.metricsAddr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	// act
	time.Sleep(50 * time.Millisecond)
	cancel()

	// assert
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func Test_RootCommand_RegistersFlags(t *testing.T) {
	cmd := newRootCommand()

	for _, name := range []string{"db-driver", "db-dsn", "db-max-conns", "log-level", "sweep-interval", "metrics-addr", "otel"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func Test_Run_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Config{Driver: "oracle", DSN: "x", MaxConns: 1, SweepInterval: time.Minute, LogLevel: "info"}

	err := run(context.Background(), cfg)

	assert.ErrorIs(t, err, config.ErrUnknownDriver)
}
