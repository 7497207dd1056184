package collector

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"kite-collector/pkg/shared"
)

// Flusher periodically drains the buffer into staging fragments. A batch
// that fails to persist is logged and dropped, never re-buffered; the next
// cycle starts from an empty buffer either way.
type Flusher struct {
	buf      *Buffer
	store    *FragmentStore
	interval time.Duration
	mirror   shared.Producer // nil disables the Kafka mirror
	log      shared.Logger
	m        *Metrics
}

func NewFlusher(buf *Buffer, store *FragmentStore, interval time.Duration, mirror shared.Producer, log shared.Logger, m *Metrics) *Flusher {
	return &Flusher{buf: buf, store: store, interval: interval, mirror: mirror, log: log, m: m}
}

// Run loops until ctx is cancelled. There is no final flush on the way out;
// the consolidator drains whatever remains.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.flushOnce()
		}
	}
}

func (f *Flusher) flushOnce() {
	ticks := f.buf.DrainAndClear()
	f.m.bufferDepth.Set(0)
	if len(ticks) == 0 {
		f.log.Debugf("no new ticks to flush")
		return
	}
	if f.mirror != nil {
		f.mirrorBatch(ticks)
	}
	name, err := f.store.Write(ticks)
	if err != nil {
		f.log.Errorf("flush failed, dropping %d ticks: %v", len(ticks), err)
		f.m.discarded.Add(float64(len(ticks)))
		return
	}
	f.m.fragments.Inc()
	f.m.flushBatch.Observe(float64(len(ticks)))
	f.log.Infof("flushed %d ticks to %s", len(ticks), name)
}

// mirrorBatch publishes the drained batch to Kafka, best effort. Mirror
// failures never gate the fragment write.
func (f *Flusher) mirrorBatch(ticks []shared.Tick) {
	records := make([]shared.Record, 0, len(ticks))
	for _, tk := range ticks {
		raw, err := json.Marshal(tk)
		if err != nil {
			continue
		}
		records = append(records, shared.Record{
			Key:   []byte(strconv.FormatUint(uint64(tk.InstrumentToken), 10)),
			Value: raw,
			Time:  tk.CapturedAt,
		})
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.mirror.ProduceBatch(writeCtx, records); err != nil {
		f.m.mirrorErrs.Inc()
		f.log.Warnf("tick mirror write failed for %d records: %v", len(records), err)
	}
}
