package collector

import (
	"context"
	"sync"
	"time"

	"kite-collector/pkg/shared"
)

// State is the session lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateAwaitingOpen
	StateStreaming
	StateDisconnected
	StateWindingDown
	StateConsolidating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingOpen:
		return "awaiting_open"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	case StateWindingDown:
		return "winding_down"
	case StateConsolidating:
		return "consolidating"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Scheduler owns the session state machine. It polls the exchange wall
// clock once per minute, warns when the feed is down inside the open
// window, and triggers wind-down at the EOD processing time. Wind-down
// stops the feed and cancels the shutdown context exactly once, no matter
// how many triggers race.
type Scheduler struct {
	session  shared.SessionConfig
	loc      *time.Location
	log      shared.Logger
	m        *Metrics
	now      func() time.Time
	stopFeed func()
	shutdown context.CancelFunc

	mu        sync.Mutex
	state     State
	connected bool
}

func NewScheduler(session shared.SessionConfig, loc *time.Location, stopFeed func(), shutdown context.CancelFunc, log shared.Logger, m *Metrics) *Scheduler {
	return &Scheduler{
		session:  session,
		loc:      loc,
		log:      log,
		m:        m,
		now:      time.Now,
		stopFeed: stopFeed,
		shutdown: shutdown,
		state:    StateIdle,
	}
}

// Run polls until wind-down or ctx cancellation, waking on minute
// boundaries. The first evaluation happens immediately, so a collector
// started after EOD winds down without streaming.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateIdle {
		s.setStateLocked(StateAwaitingOpen)
	}
	s.mu.Unlock()

	for {
		s.tick(s.now())
		if s.State() >= StateWindingDown {
			return
		}
		now := s.now()
		wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)
		if wait <= 0 {
			wait = time.Minute
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick evaluates one wall-clock poll.
func (s *Scheduler) tick(now time.Time) {
	mod := minuteOfDay(now.In(s.loc))

	s.mu.Lock()
	if s.state >= StateWindingDown {
		s.mu.Unlock()
		return
	}
	if s.state == StateAwaitingOpen && s.connected && mod >= s.session.OpenMinuteOfDay() {
		s.setStateLocked(StateStreaming)
	}
	disconnected := !s.connected
	s.mu.Unlock()

	if disconnected && mod >= s.session.OpenMinuteOfDay() && mod < s.session.CloseMinuteOfDay() {
		s.log.Warnf("market is open (%s) but the feed is not connected", now.In(s.loc).Format("15:04"))
	}
	if mod >= s.session.EODMinuteOfDay() {
		s.windDown("eod processing time reached")
	}
}

// MarkConnected records a live feed connection and promotes the session
// into streaming when the market is already open.
func (s *Scheduler) MarkConnected() {
	now := s.now()
	mod := minuteOfDay(now.In(s.loc))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	if (s.state == StateAwaitingOpen || s.state == StateDisconnected) && mod >= s.session.OpenMinuteOfDay() {
		s.setStateLocked(StateStreaming)
	}
}

// MarkDisconnected records a feed drop. Reconnection stays the feed
// client's job; the session only demotes and, inside the open window,
// warns. It never winds the day down.
func (s *Scheduler) MarkDisconnected(code int, reason string) {
	now := s.now()
	mod := minuteOfDay(now.In(s.loc))
	inWindow := mod >= s.session.OpenMinuteOfDay() && mod < s.session.CloseMinuteOfDay()

	s.mu.Lock()
	s.connected = false
	if s.state == StateStreaming {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()

	if inWindow {
		s.log.Warnf("feed disconnected during market hours: code=%d reason=%q", code, reason)
	} else {
		s.log.Infof("feed disconnected: code=%d reason=%q", code, reason)
	}
}

// MarkGiveUp winds the session down early: the feed client has exhausted
// its reconnect attempts and no more data can arrive.
func (s *Scheduler) MarkGiveUp() {
	s.windDown("feed gave up reconnecting")
}

// BeginConsolidation moves the session into the consolidation phase once
// background tasks have drained.
func (s *Scheduler) BeginConsolidation() {
	s.mu.Lock()
	s.setStateLocked(StateConsolidating)
	s.mu.Unlock()
}

// MarkDone records the end of the session.
func (s *Scheduler) MarkDone() {
	s.mu.Lock()
	s.setStateLocked(StateDone)
	s.mu.Unlock()
}

// State returns the current phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) windDown(reason string) {
	s.mu.Lock()
	if s.state >= StateWindingDown {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateWindingDown)
	s.mu.Unlock()

	// Feed and context effects run outside the lock: Stop may fire the
	// disconnect callback synchronously, which takes the lock again.
	s.log.Infof("winding down: %s", reason)
	if s.stopFeed != nil {
		s.stopFeed()
	}
	if s.shutdown != nil {
		s.shutdown()
	}
}

func (s *Scheduler) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.log.Infof("session state %s -> %s", s.state, next)
	s.state = next
	s.m.state.Set(float64(next))
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
