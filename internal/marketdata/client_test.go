package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestClient_GetPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("symbol=%q want=AAPL", got)
		}
		if got := r.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("apikey=%q want=test-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":"142.90"}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "test-key")
	price, err := c.GetPrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(decimal.RequireFromString("142.90")) != 0 {
		t.Fatalf("price=%s want=142.90", price.String())
	}
}

func TestClient_GetPrices_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "AAPL,TSLA" {
			t.Errorf("symbol=%q want=AAPL,TSLA", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"AAPL":{"price":"187.5"},"TSLA":{"price":249.0}}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "")
	prices, err := c.GetPrices(context.Background(), []string{"AAPL", "TSLA"})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("len=%d want=2", len(prices))
	}
	if prices["AAPL"].Cmp(decimal.RequireFromString("187.5")) != 0 {
		t.Fatalf("AAPL=%s want=187.5", prices["AAPL"].String())
	}
	if prices["TSLA"].Cmp(decimal.RequireFromString("249")) != 0 {
		t.Fatalf("TSLA=%s want=249", prices["TSLA"].String())
	}
}

func TestClient_GetPrices_SingleSymbolFlatResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"42.1"}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "")
	prices, err := c.GetPrices(context.Background(), []string{"SPY"})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if prices["SPY"].Cmp(decimal.RequireFromString("42.1")) != 0 {
		t.Fatalf("SPY=%s want=42.1", prices["SPY"].String())
	}
}

func TestClient_GetPrices_SkipsBadEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"AAPL":{"price":"187.5"},"NOPE":{"code":404,"message":"symbol not found","status":"error"}}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "")
	prices, err := c.GetPrices(context.Background(), []string{"AAPL", "NOPE"})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("len=%d want=1 (bad entry skipped)", len(prices))
	}
	if _, ok := prices["NOPE"]; ok {
		t.Fatalf("errored symbol must be absent from result")
	}
}

func TestClient_GetPrice_UpstreamErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":404,"message":"symbol not found","status":"error"}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "")
	if _, err := c.GetPrice(context.Background(), "NOPE"); err == nil {
		t.Fatalf("expected error for in-body upstream failure")
	}
}

func TestClient_GetPrice_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.Client(), server.URL, "")
	_, err := c.GetPrice(context.Background(), "AAPL")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("status=%d want=429", apiErr.Status)
	}
}

func TestPriceEvent_At(t *testing.T) {
	event := PriceEvent{Timestamp: 1756100000}
	if got := event.At(); !got.Equal(time.Unix(1756100000, 0)) {
		t.Fatalf("at=%v want unix 1756100000", got)
	}
	if !(PriceEvent{}).At().IsZero() {
		t.Fatalf("missing timestamp must map to zero time")
	}
}
