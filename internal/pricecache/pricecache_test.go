package pricecache

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testCache() *Cache {
	return New([]Instrument{
		{Ticker: "aapl", Description: "Apple Inc.", LeverageFactor: decimal.NewFromInt(2)},
		{Ticker: "SPY", Description: "S&P 500 ETF", LeverageFactor: decimal.NewFromInt(3)},
	})
}

func TestCache_ReplaceKeepsMissingQuotes(t *testing.T) {
	c := testCache()

	if _, _, ok := c.Price("AAPL"); ok {
		t.Fatalf("expected no quote before first refresh")
	}

	t1 := time.Now().UTC()
	c.Replace(map[string]decimal.Decimal{
		"AAPL": decimal.RequireFromString("187.5"),
		"SPY":  decimal.RequireFromString("502.1"),
	}, t1)

	t2 := t1.Add(time.Minute)
	c.Replace(map[string]decimal.Decimal{
		"SPY": decimal.RequireFromString("503.4"),
	}, t2)

	price, at, ok := c.Price("AAPL")
	if !ok {
		t.Fatalf("expected AAPL quote to survive partial refresh")
	}
	if price.Cmp(decimal.RequireFromString("187.5")) != 0 {
		t.Fatalf("price=%s want=187.5", price.String())
	}
	if !at.Equal(t1) {
		t.Fatalf("at=%v want=%v", at, t1)
	}

	price, _, _ = c.Price("SPY")
	if price.Cmp(decimal.RequireFromString("503.4")) != 0 {
		t.Fatalf("price=%s want=503.4", price.String())
	}
	if !c.LastRefreshedAt().Equal(t2) {
		t.Fatalf("refreshedAt=%v want=%v", c.LastRefreshedAt(), t2)
	}
}

func TestCache_ReplaceRejectsNonPositive(t *testing.T) {
	c := testCache()
	c.Replace(map[string]decimal.Decimal{
		"AAPL": decimal.Zero,
		"SPY":  decimal.RequireFromString("-1"),
	}, time.Now().UTC())

	if _, _, ok := c.Price("AAPL"); ok {
		t.Fatalf("zero price must not be stored")
	}
	if _, _, ok := c.Price("SPY"); ok {
		t.Fatalf("negative price must not be stored")
	}
}

func TestCache_Apply(t *testing.T) {
	c := testCache()

	if c.Apply("DOGE", decimal.NewFromInt(1), time.Now()) {
		t.Fatalf("unknown ticker must be rejected")
	}
	if c.Apply("AAPL", decimal.Zero, time.Now()) {
		t.Fatalf("non-positive price must be rejected")
	}

	at := time.Now().UTC()
	if !c.Apply("aapl", decimal.RequireFromString("190.25"), at) {
		t.Fatalf("valid tick must be stored")
	}
	price, got, ok := c.Price("AAPL")
	if !ok || price.Cmp(decimal.RequireFromString("190.25")) != 0 {
		t.Fatalf("price=%s ok=%v want=190.25", price.String(), ok)
	}
	if !got.Equal(at) {
		t.Fatalf("at=%v want=%v", got, at)
	}
	if !c.LastRefreshedAt().IsZero() {
		t.Fatalf("a single tick must not count as a full refresh")
	}
}

func TestCache_Stale(t *testing.T) {
	c := testCache()
	if !c.Stale(time.Hour) {
		t.Fatalf("never-refreshed cache must be stale")
	}
	c.Replace(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(100)}, time.Now().UTC())
	if c.Stale(time.Hour) {
		t.Fatalf("fresh cache must not be stale")
	}
}

func TestCache_ListSorted(t *testing.T) {
	c := testCache()
	instruments := c.ListInstruments()
	if len(instruments) != 2 {
		t.Fatalf("len=%d want=2", len(instruments))
	}
	if instruments[0].Ticker != "AAPL" || instruments[1].Ticker != "SPY" {
		t.Fatalf("order=%s,%s want=AAPL,SPY", instruments[0].Ticker, instruments[1].Ticker)
	}
}

func TestCache_ConcurrentReadersAndWriters(t *testing.T) {
	c := testCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Apply("AAPL", decimal.NewFromInt(int64(n*100+j+1)), time.Now())
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if inst, ok := c.GetInstrument("AAPL"); ok && inst.LastPrice.IsNegative() {
					t.Errorf("observed negative price %s", inst.LastPrice)
					return
				}
			}
		}()
	}
	wg.Wait()
}
