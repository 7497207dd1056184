package collector

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"kite-collector/pkg/shared"
)

// fragmentHeader is the column order of every staging CSV. The consolidator
// depends on it; fragments with any other header are rejected at load.
var fragmentHeader = []string{
	"timestamp", "instrument_token", "last_price",
	"ohlc_open", "ohlc_high", "ohlc_low", "ohlc_close",
	"volume", "oi", "depth_buy", "depth_sell",
}

// Row is one fragment record. CapturedAt is parsed at load; every numeric
// cell stays a raw string until consolidation coerces it.
type Row struct {
	CapturedAt time.Time
	Token      string
	LastPrice  string
	Open       string
	High       string
	Low        string
	Close      string
	Volume     string
	OI         string
	DepthBuy   string
	DepthSell  string
}

func (r Row) cells() []string {
	return []string{
		r.CapturedAt.Format(time.RFC3339Nano), r.Token, r.LastPrice,
		r.Open, r.High, r.Low, r.Close,
		r.Volume, r.OI, r.DepthBuy, r.DepthSell,
	}
}

// FragmentStore owns the staging directory. Fragment names embed the write
// time so a lexicographic listing reproduces capture order; the
// pre-consolidation drain uses a prefix that sorts after all of them.
type FragmentStore struct {
	dir string
	log shared.Logger
	now func() time.Time
}

func NewFragmentStore(dir string, log shared.Logger) (*FragmentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &FragmentStore{dir: dir, log: log, now: time.Now}, nil
}

// Dir returns the staging directory path.
func (s *FragmentStore) Dir() string { return s.dir }

func (s *FragmentStore) fragmentName(prefix string) string {
	t := s.now()
	return fmt.Sprintf("%s_%s_%06d.csv", prefix, t.Format("20060102_150405"), t.Nanosecond()/1000)
}

// Write persists one flushed batch as a new fragment and returns its name.
// A partially written file is removed on failure.
func (s *FragmentStore) Write(ticks []shared.Tick) (string, error) {
	return s.write(s.fragmentName("ticks"), ticks)
}

// WriteFinal persists the pre-consolidation drain under the last-flush name.
func (s *FragmentStore) WriteFinal(ticks []shared.Tick) (string, error) {
	return s.write(s.fragmentName("ticks_last_flush"), ticks)
}

func (s *FragmentStore) write(name string, ticks []shared.Tick) (string, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create fragment %s: %w", name, err)
	}
	w := csv.NewWriter(f)
	werr := w.Write(fragmentHeader)
	for i := 0; werr == nil && i < len(ticks); i++ {
		werr = w.Write(rowFromTick(ticks[i]).cells())
	}
	if werr == nil {
		w.Flush()
		werr = w.Error()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write fragment %s: %w", name, werr)
	}
	return name, nil
}

// List returns the names of all fragments in lexicographic order.
func (s *FragmentStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list staging dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load reads one fragment. Rows whose timestamp does not parse are skipped
// and counted; a structural failure (unreadable file, wrong header, ragged
// record) fails the whole fragment and the file is left in place.
func (s *FragmentStore) Load(name string) ([]Row, int, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, 0, fmt.Errorf("open fragment %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("read fragment %s: %w", name, err)
	}
	if len(records) == 0 || !equalHeader(records[0]) {
		return nil, 0, fmt.Errorf("fragment %s: unexpected header", name)
	}

	rows := make([]Row, 0, len(records)-1)
	skipped := 0
	for _, rec := range records[1:] {
		ts, err := parseCapturedAt(rec[0])
		if err != nil {
			skipped++
			continue
		}
		rows = append(rows, Row{
			CapturedAt: ts,
			Token:      rec[1],
			LastPrice:  rec[2],
			Open:       rec[3],
			High:       rec[4],
			Low:        rec[5],
			Close:      rec[6],
			Volume:     rec[7],
			OI:         rec[8],
			DepthBuy:   rec[9],
			DepthSell:  rec[10],
		})
	}
	return rows, skipped, nil
}

// Remove deletes a consumed fragment.
func (s *FragmentStore) Remove(name string) error {
	return os.Remove(filepath.Join(s.dir, name))
}

func equalHeader(got []string) bool {
	if len(got) != len(fragmentHeader) {
		return false
	}
	for i := range got {
		if got[i] != fragmentHeader[i] {
			return false
		}
	}
	return true
}

func parseCapturedAt(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func rowFromTick(t shared.Tick) Row {
	return Row{
		CapturedAt: t.CapturedAt,
		Token:      strconv.FormatUint(uint64(t.InstrumentToken), 10),
		LastPrice:  formatPrice(t.LastPrice),
		Open:       formatPrice(t.Open),
		High:       formatPrice(t.High),
		Low:        formatPrice(t.Low),
		Close:      formatPrice(t.Close),
		Volume:     strconv.FormatUint(uint64(t.Volume), 10),
		OI:         strconv.FormatUint(uint64(t.OI), 10),
		DepthBuy:   t.DepthBuy,
		DepthSell:  t.DepthSell,
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
