package collector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"kite-collector/pkg/shared"
)

func istTime(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2025, 8, 8, hour, min, 0, 0, istLoc(t))
}

func TestSchedulerPromotesOnOpenWithLiveFeed(t *testing.T) {
	at := istTime(t, 9, 0)
	s := NewScheduler(defaultSession(), istLoc(t), nil, nil, shared.NewNopLogger(), newTestMetrics())
	s.now = func() time.Time { return at }
	s.state = StateAwaitingOpen

	s.MarkConnected()
	require.Equal(t, StateAwaitingOpen, s.State())

	at = istTime(t, 9, 15)
	s.tick(at)
	require.Equal(t, StateStreaming, s.State())
}

func TestSchedulerConnectAfterOpenStreamsImmediately(t *testing.T) {
	at := istTime(t, 10, 30)
	s := NewScheduler(defaultSession(), istLoc(t), nil, nil, shared.NewNopLogger(), newTestMetrics())
	s.now = func() time.Time { return at }
	s.state = StateAwaitingOpen

	s.MarkConnected()
	require.Equal(t, StateStreaming, s.State())
}

func TestSchedulerDisconnectDemotesAndWarnsInWindow(t *testing.T) {
	at := istTime(t, 11, 0)
	log := &recordingLogger{}
	s := NewScheduler(defaultSession(), istLoc(t), nil, nil, log, newTestMetrics())
	s.now = func() time.Time { return at }
	s.state = StateAwaitingOpen
	s.MarkConnected()
	require.Equal(t, StateStreaming, s.State())

	s.MarkDisconnected(1006, "read timeout")
	require.Equal(t, StateDisconnected, s.State())
	require.Equal(t, 1, log.warnCount())

	// Every poll repeats the warning while the market is open.
	s.tick(at)
	require.Equal(t, 2, log.warnCount())
	require.Equal(t, StateDisconnected, s.State())

	// Reconnection promotes straight back to streaming.
	s.MarkConnected()
	require.Equal(t, StateStreaming, s.State())
	s.tick(at)
	require.Equal(t, 2, log.warnCount())
}

func TestSchedulerDisconnectOutsideWindowStaysQuiet(t *testing.T) {
	at := istTime(t, 8, 0)
	log := &recordingLogger{}
	s := NewScheduler(defaultSession(), istLoc(t), nil, nil, log, newTestMetrics())
	s.now = func() time.Time { return at }
	s.state = StateAwaitingOpen

	s.MarkDisconnected(1000, "pre-open")
	require.Equal(t, StateAwaitingOpen, s.State())
	require.Zero(t, log.warnCount())

	s.tick(at)
	require.Zero(t, log.warnCount())
}

func TestSchedulerEODWindsDownExactlyOnce(t *testing.T) {
	at := istTime(t, 15, 45)
	var stops atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	m := newTestMetrics()
	s := NewScheduler(defaultSession(), istLoc(t), func() { stops.Add(1) }, cancel, shared.NewNopLogger(), m)
	s.now = func() time.Time { return at }
	s.state = StateStreaming
	s.connected = true

	s.tick(at)
	require.Equal(t, StateWindingDown, s.State())
	require.Equal(t, int32(1), stops.Load())
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.Equal(t, float64(StateWindingDown), testutil.ToFloat64(m.state))

	// Later polls and callbacks are no-ops.
	s.tick(at)
	s.MarkGiveUp()
	require.Equal(t, int32(1), stops.Load())
	require.Equal(t, StateWindingDown, s.State())
}

func TestSchedulerGiveUpWindsDownEarly(t *testing.T) {
	at := istTime(t, 11, 0)
	var stops atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(defaultSession(), istLoc(t), func() { stops.Add(1) }, cancel, shared.NewNopLogger(), newTestMetrics())
	s.now = func() time.Time { return at }
	s.state = StateStreaming

	s.MarkGiveUp()
	require.Equal(t, StateWindingDown, s.State())
	require.Equal(t, int32(1), stops.Load())
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestSchedulerRunAfterEODWindsDownImmediately(t *testing.T) {
	at := istTime(t, 16, 0)
	var stops atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(defaultSession(), istLoc(t), func() { stops.Add(1) }, cancel, shared.NewNopLogger(), newTestMetrics())
	s.now = func() time.Time { return at }

	s.Run(context.Background())

	require.Equal(t, StateWindingDown, s.State())
	require.Equal(t, int32(1), stops.Load())
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestSchedulerConsolidationThenDone(t *testing.T) {
	m := newTestMetrics()
	s := NewScheduler(defaultSession(), istLoc(t), nil, nil, shared.NewNopLogger(), m)
	s.state = StateWindingDown

	s.BeginConsolidation()
	require.Equal(t, StateConsolidating, s.State())
	s.MarkDone()
	require.Equal(t, StateDone, s.State())
	require.Equal(t, float64(StateDone), testutil.ToFloat64(m.state))
}
