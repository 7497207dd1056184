package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"kite-collector/pkg/shared"
)

// Sim emits synthetic ticks so a full session can run without credentials
// or market hours. It honors the same boundary as Kite: connect fires the
// connected callback, Subscribe picks the universe, Stop ends the stream.
type Sim struct {
	step      time.Duration
	basePrice float64
	loc       *time.Location
	log       shared.Logger

	onConnected    func()
	onTick         func(shared.Tick)
	onDisconnected func(code int, reason string)
	onGiveUp       func()

	mu     sync.Mutex
	tokens []uint32
	cancel context.CancelFunc
}

func NewSim(step time.Duration, basePrice float64, loc *time.Location, log shared.Logger) *Sim {
	if step <= 0 {
		step = 100 * time.Millisecond
	}
	if basePrice <= 0 {
		basePrice = 55000
	}
	return &Sim{step: step, basePrice: basePrice, loc: loc, log: log}
}

func (s *Sim) OnConnected(fn func())                      { s.onConnected = fn }
func (s *Sim) OnTick(fn func(shared.Tick))                { s.onTick = fn }
func (s *Sim) OnDisconnected(fn func(code int, r string)) { s.onDisconnected = fn }
func (s *Sim) OnGiveUp(fn func())                         { s.onGiveUp = fn }

func (s *Sim) Subscribe(tokens []uint32) error {
	s.mu.Lock()
	s.tokens = append([]uint32(nil), tokens...)
	s.mu.Unlock()
	s.log.Infof("sim subscribed to %d tokens", len(tokens))
	return nil
}

func (s *Sim) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Connect blocks emitting a random walk per subscribed token until Stop or
// ctx cancellation, then reports a clean disconnect.
func (s *Sim) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.onConnected != nil {
		s.onConnected()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[uint32]float64)
	volumes := make(map[uint32]uint32)

	ticker := time.NewTicker(s.step)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			if s.onDisconnected != nil {
				s.onDisconnected(1000, "simulation stopped")
			}
			return nil
		case <-ticker.C:
			s.mu.Lock()
			tokens := s.tokens
			s.mu.Unlock()
			for _, tok := range tokens {
				if s.onTick != nil {
					s.onTick(s.nextTick(tok, prices, volumes, rng))
				}
			}
		}
	}
}

func (s *Sim) nextTick(tok uint32, prices map[uint32]float64, volumes map[uint32]uint32, rng *rand.Rand) shared.Tick {
	px, ok := prices[tok]
	if !ok {
		px = s.basePrice + rng.Float64()*10.0 - 5.0
	}
	px += rng.Float64()*2.0 - 1.0
	if px < 1.0 {
		px = 1.0
	}
	prices[tok] = px
	volumes[tok] += uint32(1 + rng.Intn(5))

	buy := make([]shared.DepthLevel, 0, 5)
	sell := make([]shared.DepthLevel, 0, 5)
	for i := 1; i <= 5; i++ {
		buy = append(buy, shared.DepthLevel{Price: px - float64(i)*0.05, Quantity: uint32(10 * i), Orders: uint32(i)})
		sell = append(sell, shared.DepthLevel{Price: px + float64(i)*0.05, Quantity: uint32(10 * i), Orders: uint32(i)})
	}
	return shared.Tick{
		CapturedAt:      time.Now().In(s.loc),
		InstrumentToken: tok,
		LastPrice:       px,
		Open:            px - 1,
		High:            px + 1,
		Low:             px - 2,
		Close:           px,
		Volume:          volumes[tok],
		OI:              volumes[tok] * 2,
		DepthBuy:        shared.MarshalDepth(buy),
		DepthSell:       shared.MarshalDepth(sell),
	}
}
