package pricecache

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is one tradable symbol together with its latest known quote.
// LeverageFactor is the fixed multiplier applied to order amounts for this
// instrument; it never changes after startup.
type Instrument struct {
	Ticker             string
	Description        string
	LeverageFactor     decimal.Decimal
	LastPrice          decimal.Decimal
	LastPriceUpdatedAt time.Time
}

type snapshot struct {
	instruments map[string]Instrument
	refreshedAt time.Time
}

// Cache holds the instrument catalog and last prices behind an atomically
// swapped snapshot. Readers never block writers and always observe a
// consistent view. Writers copy the current snapshot, mutate the copy and
// swap it in; non-positive prices are rejected at ingest so readers can rely
// on every stored price being positive.
type Cache struct {
	snap atomic.Pointer[snapshot]
}

func New(instruments []Instrument) *Cache {
	m := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		ticker := normalizeTicker(inst.Ticker)
		if ticker == "" {
			continue
		}
		inst.Ticker = ticker
		m[ticker] = inst
	}
	c := &Cache{}
	c.snap.Store(&snapshot{instruments: m})
	return c
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// GetInstrument returns the instrument for ticker, or false when the ticker
// is not part of the catalog. The returned value is a copy.
func (c *Cache) GetInstrument(ticker string) (Instrument, bool) {
	snap := c.snap.Load()
	inst, ok := snap.instruments[normalizeTicker(ticker)]
	return inst, ok
}

// Price returns the last known price for ticker and the time it was
// observed. ok is false when the ticker is unknown or no quote has arrived
// yet.
func (c *Cache) Price(ticker string) (decimal.Decimal, time.Time, bool) {
	inst, ok := c.GetInstrument(ticker)
	if !ok || inst.LastPriceUpdatedAt.IsZero() {
		return decimal.Decimal{}, time.Time{}, false
	}
	return inst.LastPrice, inst.LastPriceUpdatedAt, true
}

// ListInstruments returns all catalog entries sorted by ticker.
func (c *Cache) ListInstruments() []Instrument {
	snap := c.snap.Load()
	out := make([]Instrument, 0, len(snap.instruments))
	for _, inst := range snap.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Tickers returns the catalog tickers sorted ascending.
func (c *Cache) Tickers() []string {
	snap := c.snap.Load()
	out := make([]string, 0, len(snap.instruments))
	for ticker := range snap.instruments {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}

// Replace applies a full refresh: every ticker present in prices with a
// positive value gets the new quote stamped at. Tickers absent from prices
// keep their previous quote so a partial upstream response never erases
// data. Unknown tickers are ignored.
func (c *Cache) Replace(prices map[string]decimal.Decimal, at time.Time) {
	for {
		old := c.snap.Load()
		next := &snapshot{
			instruments: make(map[string]Instrument, len(old.instruments)),
			refreshedAt: at,
		}
		for ticker, inst := range old.instruments {
			if price, ok := prices[ticker]; ok && price.IsPositive() {
				inst.LastPrice = price
				inst.LastPriceUpdatedAt = at
			}
			next.instruments[ticker] = inst
		}
		if c.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// Apply updates a single quote, typically from a streaming tick. It reports
// whether the update was stored; unknown tickers and non-positive prices are
// rejected.
func (c *Cache) Apply(ticker string, price decimal.Decimal, at time.Time) bool {
	ticker = normalizeTicker(ticker)
	if !price.IsPositive() {
		return false
	}
	for {
		old := c.snap.Load()
		inst, ok := old.instruments[ticker]
		if !ok {
			return false
		}
		inst.LastPrice = price
		inst.LastPriceUpdatedAt = at
		next := &snapshot{
			instruments: make(map[string]Instrument, len(old.instruments)),
			refreshedAt: old.refreshedAt,
		}
		for k, v := range old.instruments {
			next.instruments[k] = v
		}
		next.instruments[ticker] = inst
		if c.snap.CompareAndSwap(old, next) {
			return true
		}
	}
}

// LastRefreshedAt returns the time of the last full refresh, zero before the
// first one.
func (c *Cache) LastRefreshedAt() time.Time {
	return c.snap.Load().refreshedAt
}

// Stale reports whether the last full refresh is older than ttl. A cache
// that has never been refreshed is always stale.
func (c *Cache) Stale(ttl time.Duration) bool {
	refreshedAt := c.LastRefreshedAt()
	if refreshedAt.IsZero() {
		return true
	}
	return time.Since(refreshedAt) > ttl
}
