package collector

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"kite-collector/pkg/shared"
)

// Sink receives the finished artifact for durable storage.
type Sink interface {
	Put(ctx context.Context, localPath, key string) error
}

// Consolidator merges the day's fragments into one deduplicated, sorted,
// typed artifact and hands it to the durable sink. It runs exactly once,
// after the flusher and scheduler have exited.
type Consolidator struct {
	buf       *Buffer
	store     *FragmentStore
	loc       *time.Location
	finalDir  string
	sink      Sink // nil disables the hand-off
	keyPrefix string
	log       shared.Logger
	m         *Metrics
	now       func() time.Time
}

func NewConsolidator(buf *Buffer, store *FragmentStore, loc *time.Location, finalDir string, sink Sink, keyPrefix string, log shared.Logger, m *Metrics) *Consolidator {
	return &Consolidator{
		buf:       buf,
		store:     store,
		loc:       loc,
		finalDir:  finalDir,
		sink:      sink,
		keyPrefix: keyPrefix,
		log:       log,
		m:         m,
		now:       time.Now,
	}
}

// Run executes the end-of-day pipeline and returns the local artifact
// path. An empty day logs and returns no path and no error. When the
// hand-off fails the artifact stays on disk and the error is returned.
func (c *Consolidator) Run(ctx context.Context) (string, error) {
	c.log.Infof("starting end-of-day consolidation")

	c.drainRemaining()

	names, err := c.store.List()
	if err != nil {
		return "", err
	}

	rows := make([]Row, 0, 4096)
	for _, name := range names {
		loaded, skipped, err := c.store.Load(name)
		if err != nil {
			c.log.Warnf("skipping fragment: %v", err)
			c.m.fragSkipped.Inc()
			continue
		}
		if skipped > 0 {
			c.log.Warnf("fragment %s: %d rows with unparseable timestamps skipped", name, skipped)
			c.m.rowsSkipped.WithLabelValues("bad_timestamp").Add(float64(skipped))
		}
		rows = append(rows, loaded...)
		if err := c.store.Remove(name); err != nil {
			c.log.Warnf("could not remove consumed fragment %s: %v", name, err)
		}
	}

	if len(rows) == 0 {
		c.log.Infof("no data to consolidate for the session")
		return "", nil
	}
	c.log.Infof("consolidating %d rows from %d fragments", len(rows), len(names))

	records := c.build(rows)
	c.m.eodRows.Add(float64(len(records)))

	if err := os.MkdirAll(c.finalDir, 0o755); err != nil {
		return "", fmt.Errorf("create final dir: %w", err)
	}
	name := ArtifactName(c.now().In(c.loc))
	path := filepath.Join(c.finalDir, name)
	if err := WriteArtifact(path, records); err != nil {
		return "", err
	}
	c.log.Infof("daily artifact saved locally: %s (%d rows)", path, len(records))

	if c.sink != nil {
		key := c.keyPrefix + name
		if err := c.sink.Put(ctx, path, key); err != nil {
			c.log.Errorf("artifact hand-off failed, keeping local copy %s: %v", path, err)
			return path, fmt.Errorf("artifact hand-off: %w", err)
		}
		c.log.Infof("artifact uploaded as %s", key)
		if err := os.Remove(path); err != nil {
			c.log.Warnf("could not remove local artifact after upload: %v", err)
		}
	}
	return path, nil
}

// drainRemaining flushes whatever is still buffered into the last-flush
// fragment. Its name sorts after every periodic fragment, preserving
// capture order in the listing.
func (c *Consolidator) drainRemaining() {
	ticks := c.buf.DrainAndClear()
	if len(ticks) == 0 {
		return
	}
	c.log.Infof("flushing %d remaining ticks for consolidation", len(ticks))
	if _, err := c.store.WriteFinal(ticks); err != nil {
		c.log.Errorf("final flush failed, dropping %d ticks: %v", len(ticks), err)
		c.m.discarded.Add(float64(len(ticks)))
	}
}

// build normalizes timezones, orders rows, removes exact duplicates and
// coerces types, in that order. The same input always produces the same
// output.
func (c *Consolidator) build(rows []Row) []Record {
	type keyed struct {
		row Row
		tok int64
	}
	all := make([]keyed, len(rows))
	for i, r := range rows {
		r.CapturedAt = r.CapturedAt.In(c.loc)
		all[i] = keyed{row: r, tok: coerceCount(r.Token)}
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.row.CapturedAt.Equal(b.row.CapturedAt) {
			return a.row.CapturedAt.Before(b.row.CapturedAt)
		}
		return a.tok < b.tok
	})

	records := make([]Record, 0, len(all))
	seen := make(map[string]struct{}, len(all))
	dups := 0
	for _, k := range all {
		id := dedupKey(k.row)
		if _, ok := seen[id]; ok {
			dups++
			continue
		}
		seen[id] = struct{}{}
		r := k.row
		records = append(records, Record{
			Timestamp:       r.CapturedAt,
			InstrumentToken: k.tok,
			LastPrice:       coercePrice(r.LastPrice),
			Open:            coercePrice(r.Open),
			High:            coercePrice(r.High),
			Low:             coercePrice(r.Low),
			Close:           coercePrice(r.Close),
			Volume:          coerceCount(r.Volume),
			OI:              coerceCount(r.OI),
			DepthBuy:        r.DepthBuy,
			DepthSell:       r.DepthSell,
		})
	}
	if dups > 0 {
		c.log.Infof("removed %d duplicate rows", dups)
		c.m.rowsSkipped.WithLabelValues("duplicate").Add(float64(dups))
	}
	return records
}

// dedupKey identifies a row by its full raw content; coercion happens
// afterwards so two rows that only become equal at 0 stay distinct.
func dedupKey(r Row) string {
	return strings.Join([]string{
		strconv.FormatInt(r.CapturedAt.UnixNano(), 10),
		r.Token, r.LastPrice, r.Open, r.High, r.Low, r.Close,
		r.Volume, r.OI, r.DepthBuy, r.DepthSell,
	}, "\x1f")
}

// coercePrice turns a raw cell into a float64; anything unparseable or
// non-finite becomes 0 and the row is kept.
func coercePrice(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// coerceCount turns a raw cell into a non-negative int64 under the same
// rules as coercePrice.
func coerceCount(raw string) int64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return int64(v)
}
