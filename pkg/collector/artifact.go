package collector

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Record is one row of the daily artifact. Column names match the staging
// CSV header so downstream consumers see a single schema end to end.
type Record struct {
	Timestamp       time.Time `parquet:"timestamp"`
	InstrumentToken int64     `parquet:"instrument_token"`
	LastPrice       float64   `parquet:"last_price"`
	Open            float64   `parquet:"ohlc_open"`
	High            float64   `parquet:"ohlc_high"`
	Low             float64   `parquet:"ohlc_low"`
	Close           float64   `parquet:"ohlc_close"`
	Volume          int64     `parquet:"volume"`
	OI              int64     `parquet:"oi"`
	DepthBuy        string    `parquet:"depth_buy"`
	DepthSell       string    `parquet:"depth_sell"`
}

// ArtifactName returns the artifact filename for a session date. One name
// per calendar date keeps re-runs idempotent: the same day always lands on
// the same file.
func ArtifactName(day time.Time) string {
	return fmt.Sprintf("banknifty_fo_data_%s.parquet", day.Format("20060102"))
}

// WriteArtifact writes records to path, replacing any previous artifact
// for the same date. Nothing is left behind on failure.
func WriteArtifact(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	w := parquet.NewGenericWriter[Record](f)
	if _, err := w.Write(records); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact file: %w", err)
	}
	return nil
}

// ReadArtifact loads a whole artifact back into memory.
func ReadArtifact(path string) ([]Record, error) {
	return parquet.ReadFile[Record](path)
}
