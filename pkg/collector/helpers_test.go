package collector

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"kite-collector/pkg/shared"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func newTestStore(t *testing.T) *FragmentStore {
	t.Helper()
	store, err := NewFragmentStore(t.TempDir(), shared.NewNopLogger())
	require.NoError(t, err)
	return store
}

func istLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func defaultSession() shared.SessionConfig {
	return shared.SessionConfig{
		Timezone:  "Asia/Kolkata",
		OpenHour:  9,
		OpenMin:   15,
		CloseHour: 15,
		CloseMin:  30,
		EODHour:   15,
		EODMin:    45,
	}
}

// mkTick builds a tick whose sequence number is recoverable from the price.
func mkTick(tok uint32, seq int) shared.Tick {
	return shared.Tick{
		CapturedAt:      time.Date(2025, 8, 8, 9, 20, 0, seq*1000, time.UTC),
		InstrumentToken: tok,
		LastPrice:       50000 + float64(seq),
		Open:            50000,
		High:            50100,
		Low:             49900,
		Close:           50050,
		Volume:          uint32(100 + seq),
		OI:              uint32(200 + seq),
		DepthBuy:        "[]",
		DepthSell:       "[]",
	}
}

// writeRawFragment plants a fragment file directly, bypassing the store's
// naming, so tests control both content and listing order.
func writeRawFragment(t *testing.T, store *FragmentStore, name string, rows ...[]string) {
	t.Helper()
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	require.NoError(t, w.Write(fragmentHeader))
	for _, r := range rows {
		require.NoError(t, w.Write(r))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), name), b.Bytes(), 0o644))
}

func rawRow(ts, token, price string) []string {
	return []string{ts, token, price, "50000", "50100", "49900", "50050", "120", "340", "[]", "[]"}
}

// recordingLogger captures formatted lines per level for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *recordingLogger) Debugf(string, ...any) {}

func (l *recordingLogger) Infof(format string, args ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *recordingLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *recordingLogger) Errorf(format string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *recordingLogger) Fatalf(format string, args ...any) {
	l.Errorf(format, args...)
}

func (l *recordingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
