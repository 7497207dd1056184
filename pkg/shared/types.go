package shared

import (
	"encoding/json"
	"time"
)

// Tick is one captured market update. CapturedAt is stamped from the
// collector's clock at ingestion, never from the feed payload.
type Tick struct {
	CapturedAt      time.Time `json:"timestamp"`
	InstrumentToken uint32    `json:"instrument_token"`
	LastPrice       float64   `json:"last_price"`
	Open            float64   `json:"ohlc_open"`
	High            float64   `json:"ohlc_high"`
	Low             float64   `json:"ohlc_low"`
	Close           float64   `json:"ohlc_close"`
	Volume          uint32    `json:"volume"`
	OI              uint32    `json:"oi"`
	DepthBuy        string    `json:"depth_buy"`
	DepthSell       string    `json:"depth_sell"`
}

// DepthLevel is one rung of the five-level order book ladder carried in
// depth_buy/depth_sell.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity uint32  `json:"quantity"`
	Orders   uint32  `json:"orders"`
}

// MarshalDepth renders a ladder as the JSON string stored on the tick.
// A ladder that fails to marshal degrades to an empty array; the tick
// itself is never dropped for it.
func MarshalDepth(levels []DepthLevel) string {
	b, err := json.Marshal(levels)
	if err != nil {
		return "[]"
	}
	return string(b)
}
