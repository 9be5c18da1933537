package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypothesis/h-sub005/health"
)

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (p *fakePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePinger) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestWatchDatabaseTracksHealth(t *testing.T) {
	pinger := &fakePinger{}
	monitor := health.NewMonitor()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_database_healthy"})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- watchDatabase(ctx, pinger, monitor, gauge, time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		status, ok := monitor.Get("database")
		return ok && !status.IsUnhealthy() && testutil.ToFloat64(gauge) == 1
	}, time.Second, 5*time.Millisecond)

	pinger.setErr(errors.New("pool exhausted"))

	require.Eventually(t, func() bool {
		status, ok := monitor.Get("database")
		return ok && status.IsUnhealthy() && testutil.ToFloat64(gauge) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
