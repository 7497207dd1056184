package collector

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"kite-collector/pkg/shared"
)

// scriptedFeed drives App.Run without a websocket: Connect fires the
// connected callback, runs the script, then blocks until Stop.
type scriptedFeed struct {
	script func(f *scriptedFeed)
	err    error

	onConnected    func()
	onTick         func(shared.Tick)
	onDisconnected func(code int, reason string)
	onGiveUp       func()

	mu         sync.Mutex
	subscribed [][]uint32

	stopOnce sync.Once
	stopped  chan struct{}
}

func newScriptedFeed(script func(f *scriptedFeed)) *scriptedFeed {
	return &scriptedFeed{script: script, stopped: make(chan struct{})}
}

func (f *scriptedFeed) OnConnected(fn func())                      { f.onConnected = fn }
func (f *scriptedFeed) OnTick(fn func(shared.Tick))                { f.onTick = fn }
func (f *scriptedFeed) OnDisconnected(fn func(code int, r string)) { f.onDisconnected = fn }
func (f *scriptedFeed) OnGiveUp(fn func())                         { f.onGiveUp = fn }

func (f *scriptedFeed) Subscribe(tokens []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, append([]uint32(nil), tokens...))
	return nil
}

func (f *scriptedFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

func (f *scriptedFeed) Connect(ctx context.Context) error {
	f.onConnected()
	if f.script != nil {
		f.script(f)
	}
	select {
	case <-ctx.Done():
	case <-f.stopped:
	}
	return f.err
}

type fixedResolver struct {
	tokens []uint32
	err    error
}

func (r fixedResolver) Resolve(ctx context.Context, today time.Time) ([]uint32, error) {
	return r.tokens, r.err
}

func TestAppRunFullSessionToArtifact(t *testing.T) {
	loc := istLoc(t)
	now := func() time.Time { return time.Date(2025, 8, 8, 10, 0, 0, 0, loc) }

	buf := NewBuffer()
	store := newTestStore(t)
	m := newTestMetrics()
	sink := &fakeSink{}
	log := shared.NewNopLogger()

	feed := newScriptedFeed(func(f *scriptedFeed) {
		base := time.Date(2025, 8, 8, 10, 0, 1, 0, loc)
		for i := 0; i < 5; i++ {
			tk := mkTick(uint32(100+i%2), i)
			tk.CapturedAt = base.Add(time.Duration(i) * time.Second)
			f.onTick(tk)
		}
		f.onDisconnected(1006, "wobble")
		f.onGiveUp()
	})

	cons := NewConsolidator(buf, store, loc, filepath.Join(t.TempDir(), "final"), sink, "banknifty_data/", log, m)
	cons.now = now

	app := &App{
		Session:  defaultSession(),
		Loc:      loc,
		Buffer:   buf,
		Feed:     feed,
		Resolver: fixedResolver{tokens: []uint32{100, 101}},
		Flusher:  NewFlusher(buf, store, time.Hour, nil, log, m),
		Cons:     cons,
		Log:      log,
		M:        m,
		Now:      now,
	}

	require.NoError(t, app.Run(context.Background()))

	require.Equal(t, [][]uint32{{100, 101}}, feed.subscribed)
	require.Equal(t, []string{"banknifty_data/banknifty_fo_data_20250808.parquet"}, sink.keys)
	require.Zero(t, buf.Len())
	require.Equal(t, float64(StateDone), testutil.ToFloat64(m.state))
	require.Equal(t, float64(5), testutil.ToFloat64(m.ticksIn))

	names, err := store.List()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestAppRunStopsFeedWhenResolutionFails(t *testing.T) {
	loc := istLoc(t)
	now := func() time.Time { return time.Date(2025, 8, 8, 10, 0, 0, 0, loc) }

	buf := NewBuffer()
	store := newTestStore(t)
	m := newTestMetrics()
	log := shared.NewNopLogger()

	feed := newScriptedFeed(nil)
	// A feed error after the failed resolution must not fail the session.
	feed.err = errors.New("ws handshake lost")

	cons := NewConsolidator(buf, store, loc, t.TempDir(), nil, "", log, m)
	cons.now = now

	app := &App{
		Session:  defaultSession(),
		Loc:      loc,
		Buffer:   buf,
		Feed:     feed,
		Resolver: fixedResolver{err: errors.New("instrument dump unavailable")},
		Flusher:  NewFlusher(buf, store, time.Hour, nil, log, m),
		Cons:     cons,
		Log:      log,
		M:        m,
		Now:      now,
	}

	require.NoError(t, app.Run(context.Background()))
	require.Empty(t, feed.subscribed)
	require.Equal(t, float64(StateDone), testutil.ToFloat64(m.state))
}

func TestAppRunReturnsHandOffError(t *testing.T) {
	loc := istLoc(t)
	now := func() time.Time { return time.Date(2025, 8, 8, 10, 0, 0, 0, loc) }

	buf := NewBuffer()
	store := newTestStore(t)
	m := newTestMetrics()
	sink := &fakeSink{err: errors.New("bucket gone")}
	log := shared.NewNopLogger()

	feed := newScriptedFeed(func(f *scriptedFeed) {
		f.onTick(mkTick(100, 0))
		f.onGiveUp()
	})

	cons := NewConsolidator(buf, store, loc, filepath.Join(t.TempDir(), "final"), sink, "banknifty_data/", log, m)
	cons.now = now

	app := &App{
		Session:  defaultSession(),
		Loc:      loc,
		Buffer:   buf,
		Feed:     feed,
		Resolver: fixedResolver{tokens: []uint32{100}},
		Flusher:  NewFlusher(buf, store, time.Hour, nil, log, m),
		Cons:     cons,
		Log:      log,
		M:        m,
		Now:      now,
	}

	err := app.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "artifact hand-off")
	require.Equal(t, float64(StateDone), testutil.ToFloat64(m.state))
}
