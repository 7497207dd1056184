package universe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"kite-collector/pkg/shared"
)

// Selection heuristic bounds. Weekly contracts carry the day; monthly
// contracts only top up thin weeks, and the emergency fallback keeps the
// session alive when the dump looks nothing like expected.
const (
	futuresWanted      = 2
	weeklyStrikeRange  = 2000
	weeklyMinDays      = 1
	weeklyMaxDays      = 14
	weeklyCap          = 100
	weeklyFloor        = 20
	monthlyStrikeRange = 1000
	monthlyMinDays     = 15
	monthlyMaxDays     = 45
	monthlyCap         = 50
	fallbackCap        = 20
)

// Config tunes instrument selection.
type Config struct {
	Underlying  string   `envconfig:"UNIVERSE_UNDERLYING" default:"BANKNIFTY"`
	Exchange    string   `envconfig:"UNIVERSE_EXCHANGE" default:"NFO"`
	SpotSymbols []string `envconfig:"UNIVERSE_SPOT_SYMBOLS" default:"NSE:NIFTY BANK,NSE:BANKNIFTY"`
	FallbackATM float64  `envconfig:"UNIVERSE_FALLBACK_ATM" default:"55000"`
}

// kiteAPI is the slice of the Kite REST client the resolver touches.
type kiteAPI interface {
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
	GetLTP(instruments ...string) (kiteconnect.QuoteLTP, error)
}

// KiteResolver selects the day's F&O universe from the live instrument
// dump: the two nearest futures plus options around the at-the-money
// strike.
type KiteResolver struct {
	api kiteAPI
	cfg Config
	log shared.Logger
}

func NewKiteResolver(apiKey, accessToken string, cfg Config, log shared.Logger) *KiteResolver {
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return &KiteResolver{api: kc, cfg: cfg, log: log}
}

func (r *KiteResolver) Resolve(ctx context.Context, today time.Time) ([]uint32, error) {
	instruments, err := r.api.GetInstrumentsByExchange(r.cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("fetch %s instruments: %w", r.cfg.Exchange, err)
	}
	r.log.Infof("fetched %d %s instruments", len(instruments), r.cfg.Exchange)

	tokens := Build(instruments, r.cfg.Underlying, today, r.atmStrike())
	if len(tokens) == 0 {
		return nil, errors.New("no instruments selected for the session")
	}
	r.log.Infof("selected %d instruments", len(tokens))
	return tokens, nil
}

// atmStrike resolves the spot price to the nearest hundred, trying each
// configured symbol in order and falling back to a constant when all fail.
func (r *KiteResolver) atmStrike() float64 {
	for _, sym := range r.cfg.SpotSymbols {
		ltp, err := r.api.GetLTP(sym)
		if err != nil {
			r.log.Warnf("spot lookup %s failed: %v", sym, err)
			continue
		}
		if q, ok := ltp[sym]; ok && q.LastPrice > 0 {
			atm := math.Round(q.LastPrice/100) * 100
			r.log.Infof("spot %s at %.2f, atm strike %.0f", sym, q.LastPrice, atm)
			return atm
		}
	}
	r.log.Warnf("spot price unavailable, using fallback atm %.0f", r.cfg.FallbackATM)
	return r.cfg.FallbackATM
}

// Build runs the selection heuristic over an instrument dump. Expiries are
// walked in ascending order, so the same dump always yields the same
// universe.
func Build(instruments kiteconnect.Instruments, underlying string, today time.Time, atm float64) []uint32 {
	day := dateOnly(today)

	var futures []kiteconnect.Instrument
	optionsByExpiry := make(map[time.Time][]kiteconnect.Instrument)
	for _, in := range instruments {
		if in.Name != underlying {
			continue
		}
		switch in.InstrumentType {
		case "FUT":
			futures = append(futures, in)
		case "CE", "PE":
			exp := dateOnly(in.Expiry.Time)
			optionsByExpiry[exp] = append(optionsByExpiry[exp], in)
		}
	}

	sort.SliceStable(futures, func(i, j int) bool {
		return futures[i].Expiry.Time.Before(futures[j].Expiry.Time)
	})
	tokens := make([]uint32, 0, 128)
	for i := 0; i < len(futures) && i < futuresWanted; i++ {
		tokens = append(tokens, uint32(futures[i].InstrumentToken))
	}

	expiries := make([]time.Time, 0, len(optionsByExpiry))
	for exp := range optionsByExpiry {
		expiries = append(expiries, exp)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })

	weekly := 0
	for _, exp := range expiries {
		d := daysBetween(day, exp)
		if d < weeklyMinDays || d > weeklyMaxDays {
			continue
		}
		for _, opt := range optionsByExpiry[exp] {
			if opt.StrikePrice >= atm-weeklyStrikeRange && opt.StrikePrice <= atm+weeklyStrikeRange {
				tokens = append(tokens, uint32(opt.InstrumentToken))
				weekly++
			}
		}
		if weekly >= weeklyCap {
			break
		}
	}

	if weekly < weeklyFloor {
		monthly := 0
		for _, exp := range expiries {
			d := daysBetween(day, exp)
			if d < monthlyMinDays || d > monthlyMaxDays {
				continue
			}
			for _, opt := range optionsByExpiry[exp] {
				if opt.StrikePrice >= atm-monthlyStrikeRange && opt.StrikePrice <= atm+monthlyStrikeRange {
					tokens = append(tokens, uint32(opt.InstrumentToken))
					monthly++
				}
			}
			if monthly >= monthlyCap {
				break
			}
		}
	}

	if len(tokens) == 0 {
		for _, in := range instruments {
			if in.Name != underlying {
				continue
			}
			switch in.InstrumentType {
			case "FUT", "CE", "PE":
				tokens = append(tokens, uint32(in.InstrumentToken))
				if len(tokens) >= fallbackCap {
					return tokens
				}
			}
		}
	}
	return tokens
}

// Static resolves to a fixed token list; the sim feed runs against it.
type Static struct {
	Tokens []uint32
}

func (s Static) Resolve(ctx context.Context, today time.Time) ([]uint32, error) {
	return s.Tokens, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
