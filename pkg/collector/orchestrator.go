package collector

import (
	"context"
	"sync"
	"time"

	"kite-collector/pkg/shared"
)

// Feed is the websocket boundary. Connect blocks until the stream ends;
// callbacks fire from the feed's own goroutines.
type Feed interface {
	OnConnected(func())
	OnTick(func(shared.Tick))
	OnDisconnected(func(code int, reason string))
	OnGiveUp(func())
	Subscribe(tokens []uint32) error
	Connect(ctx context.Context) error
	Stop()
}

// Resolver selects the day's instrument universe.
type Resolver interface {
	Resolve(ctx context.Context, today time.Time) ([]uint32, error)
}

// App wires one trading session together: feed callbacks into the buffer,
// flusher and scheduler in the background, consolidation after shutdown.
type App struct {
	Session  shared.SessionConfig
	Loc      *time.Location
	Buffer   *Buffer
	Feed     Feed
	Resolver Resolver
	Flusher  *Flusher
	Cons     *Consolidator
	Log      shared.Logger
	M        *Metrics
	Now      func() time.Time
}

// Run drives the session from connect to artifact. It blocks on the feed
// connection in the calling goroutine and returns only the consolidation
// outcome; a feed that ends in error has already been logged and simply
// moves the day into wind-down.
func (a *App) Run(ctx context.Context) error {
	now := a.Now
	if now == nil {
		now = time.Now
	}

	streamCtx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	sched := NewScheduler(a.Session, a.Loc, a.Feed.Stop, shutdown, shared.Named(a.Log, "scheduler"), a.M)
	sched.now = now

	a.Feed.OnConnected(func() {
		a.Log.Infof("feed connected")
		sched.MarkConnected()
		tokens, err := a.Resolver.Resolve(streamCtx, now().In(a.Loc))
		if err != nil {
			a.Log.Errorf("instrument resolution failed, stopping feed: %v", err)
			a.Feed.Stop()
			return
		}
		if err := a.Feed.Subscribe(tokens); err != nil {
			a.Log.Errorf("subscribe failed, stopping feed: %v", err)
			a.Feed.Stop()
			return
		}
		a.Log.Infof("subscribed to %d instruments", len(tokens))
	})
	a.Feed.OnTick(func(tk shared.Tick) {
		a.Buffer.Append(tk)
		a.M.ticksIn.Inc()
		a.M.bufferDepth.Inc()
	})
	a.Feed.OnDisconnected(sched.MarkDisconnected)
	a.Feed.OnGiveUp(sched.MarkGiveUp)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Flusher.Run(streamCtx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(streamCtx)
	}()

	if err := a.Feed.Connect(streamCtx); err != nil {
		a.Log.Errorf("feed connection ended with error: %v", err)
	}
	// No-op when the scheduler already wound the session down; covers
	// signal-driven exits and a feed that died on its own.
	sched.windDown("feed connection closed")
	wg.Wait()

	sched.BeginConsolidation()
	// The stream context is cancelled by now; consolidation and the upload
	// run on a fresh one.
	path, err := a.Cons.Run(context.Background())
	sched.MarkDone()
	if err != nil {
		return err
	}
	if path != "" {
		a.Log.Infof("session complete, artifact at %s", path)
	} else {
		a.Log.Infof("session complete, no artifact produced")
	}
	return nil
}
