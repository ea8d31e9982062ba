package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.twelvedata.com"

// Client is a thin REST client for the quote provider. It only covers the
// endpoints the price refresh needs.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetPrice fetches the latest price for one symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("symbol is required")
	}
	query := url.Values{}
	query.Set("symbol", symbol)
	body, err := c.doRequest(ctx, "/price", query)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return parsePrice(body)
}

// GetPrices fetches the latest prices for a batch of symbols in one call.
// The provider answers a single-symbol request with a flat object and a
// multi-symbol request with a symbol-keyed one; both are handled. Symbols
// missing from the response, or carrying per-symbol errors, are simply
// absent from the result.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	cleaned := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol != "" {
			cleaned = append(cleaned, symbol)
		}
	}
	if len(cleaned) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	query := url.Values{}
	query.Set("symbol", strings.Join(cleaned, ","))
	body, err := c.doRequest(ctx, "/price", query)
	if err != nil {
		return nil, err
	}
	if len(cleaned) == 1 {
		price, err := parsePrice(body)
		if err != nil {
			return nil, err
		}
		return map[string]decimal.Decimal{cleaned[0]: price}, nil
	}
	return parsePriceBatch(body, cleaned)
}

type priceResponse struct {
	Price   decimal.Decimal `json:"price"`
	Status  string          `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
}

// The provider reports request-level errors inside a 200 body, so the
// status field has to be checked even after a successful round trip.
func parsePrice(body []byte) (decimal.Decimal, error) {
	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse price response: %w", err)
	}
	if strings.EqualFold(resp.Status, "error") {
		return decimal.Decimal{}, fmt.Errorf("upstream error (%d): %s", resp.Code, resp.Message)
	}
	return resp.Price, nil
}

func parsePriceBatch(body []byte, symbols []string) (map[string]decimal.Decimal, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		entry, ok := raw[symbol]
		if !ok {
			continue
		}
		price, err := parsePrice(entry)
		if err != nil {
			continue
		}
		out[symbol] = price
	}
	return out, nil
}
