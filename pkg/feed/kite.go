package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"kite-collector/pkg/shared"
)

// Metrics counts websocket lifecycle events.
type Metrics struct {
	events *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		events: shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "feed_ws_events_total", Help: "Websocket lifecycle events"}, []string{"event"}),
	}
}

// Kite streams live ticks over the Zerodha websocket. Reconnection is the
// ticker's own job and surfaces here only as logs and event counters; the
// collector sees connects, ticks, disconnects and the final give-up.
type Kite struct {
	ticker         *kiteticker.Ticker
	loc            *time.Location
	subscribeBatch int
	log            shared.Logger
	m              *Metrics

	onConnected    func()
	onTick         func(shared.Tick)
	onDisconnected func(code int, reason string)
	onGiveUp       func()
}

func NewKite(apiKey, accessToken string, subscribeBatch int, loc *time.Location, log shared.Logger, m *Metrics) *Kite {
	if subscribeBatch <= 0 {
		subscribeBatch = 200
	}
	return &Kite{
		ticker:         kiteticker.New(apiKey, accessToken),
		loc:            loc,
		subscribeBatch: subscribeBatch,
		log:            log,
		m:              m,
	}
}

func (k *Kite) OnConnected(fn func())                      { k.onConnected = fn }
func (k *Kite) OnTick(fn func(shared.Tick))                { k.onTick = fn }
func (k *Kite) OnDisconnected(fn func(code int, r string)) { k.onDisconnected = fn }
func (k *Kite) OnGiveUp(fn func())                         { k.onGiveUp = fn }

// Connect wires the ticker callbacks and serves the stream. It blocks
// until Stop is called or ctx is cancelled.
func (k *Kite) Connect(ctx context.Context) error {
	t := k.ticker
	t.OnError(func(err error) {
		k.log.Errorf("websocket error: %v", err)
		k.m.events.WithLabelValues("error").Inc()
	})
	t.OnClose(func(code int, reason string) {
		k.m.events.WithLabelValues("close").Inc()
		if k.onDisconnected != nil {
			k.onDisconnected(code, reason)
		}
	})
	t.OnReconnect(func(attempt int, delay time.Duration) {
		k.log.Warnf("websocket reconnecting attempt=%d delay=%s", attempt, delay)
		k.m.events.WithLabelValues("reconnect").Inc()
	})
	t.OnConnect(func() {
		k.m.events.WithLabelValues("connect").Inc()
		if k.onConnected != nil {
			k.onConnected()
		}
	})
	t.OnNoReconnect(func(attempt int) {
		k.log.Errorf("websocket gave up after %d reconnect attempts", attempt)
		k.m.events.WithLabelValues("noreconnect").Inc()
		if k.onGiveUp != nil {
			k.onGiveUp()
		}
	})
	t.OnTick(func(tk kitemodels.Tick) {
		if k.onTick != nil {
			k.onTick(captureTick(tk, time.Now().In(k.loc)))
		}
	})

	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	t.ServeWithContext(ctx)
	return nil
}

// Subscribe registers tokens in batches and switches them to full mode so
// ticks carry OHLC, volume, OI and depth. Any batch failure is terminal.
func (k *Kite) Subscribe(tokens []uint32) error {
	if len(tokens) == 0 {
		return errors.New("no instrument tokens to subscribe")
	}
	for i, chunk := range chunkTokens(tokens, k.subscribeBatch) {
		if i > 0 {
			time.Sleep(200 * time.Millisecond)
		}
		if err := k.ticker.Subscribe(chunk); err != nil {
			return fmt.Errorf("subscribe %d tokens: %w", len(chunk), err)
		}
		if err := k.ticker.SetMode(kiteticker.ModeFull, chunk); err != nil {
			return fmt.Errorf("set full mode: %w", err)
		}
	}
	return nil
}

func (k *Kite) Stop() { k.ticker.Stop() }

// captureTick stamps a feed tick with the collector's clock and flattens
// the payload into the storage shape.
func captureTick(tk kitemodels.Tick, at time.Time) shared.Tick {
	return shared.Tick{
		CapturedAt:      at,
		InstrumentToken: tk.InstrumentToken,
		LastPrice:       tk.LastPrice,
		Open:            tk.OHLC.Open,
		High:            tk.OHLC.High,
		Low:             tk.OHLC.Low,
		Close:           tk.OHLC.Close,
		Volume:          tk.VolumeTraded,
		OI:              tk.OI,
		DepthBuy:        shared.MarshalDepth(depthLevels(tk.Depth.Buy)),
		DepthSell:       shared.MarshalDepth(depthLevels(tk.Depth.Sell)),
	}
}

func depthLevels(items [5]kitemodels.DepthItem) []shared.DepthLevel {
	out := make([]shared.DepthLevel, 0, len(items))
	for _, it := range items {
		out = append(out, shared.DepthLevel{Price: it.Price, Quantity: it.Quantity, Orders: it.Orders})
	}
	return out
}

func chunkTokens(tokens []uint32, size int) [][]uint32 {
	if size <= 0 {
		size = 200
	}
	out := [][]uint32{}
	for i := 0; i < len(tokens); i += size {
		j := i + size
		if j > len(tokens) {
			j = len(tokens)
		}
		out = append(out, tokens[i:j])
	}
	return out
}
