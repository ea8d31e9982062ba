package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const DefaultQuoteWSSURL = "wss://ws.twelvedata.com/v1/quotes/price"

type quoteSubscribeRequest struct {
	Action string               `json:"action"`
	Params quoteSubscribeParams `json:"params"`
}

type quoteSubscribeParams struct {
	Symbols string `json:"symbols"`
}

// PriceEvent is one message from the quote stream. Only event "price"
// carries a usable quote; everything else is protocol chatter.
type PriceEvent struct {
	Event     string          `json:"event"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// At converts the event's unix timestamp, zero when the provider sent none.
func (e PriceEvent) At() time.Time {
	if e.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(e.Timestamp, 0).UTC()
}

type QuoteWSClient struct {
	url    string
	apiKey string
	conn   *websocket.Conn
}

func NewQuoteWSClient(rawURL, apiKey string) *QuoteWSClient {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultQuoteWSSURL
	}
	return &QuoteWSClient{url: rawURL, apiKey: apiKey}
}

func (c *QuoteWSClient) Connect(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("ws client is nil")
	}
	dialURL := c.url
	if c.apiKey != "" {
		sep := "?"
		if strings.Contains(dialURL, "?") {
			sep = "&"
		}
		dialURL = dialURL + sep + "apikey=" + url.QueryEscape(c.apiKey)
	}
	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	return nil
}

func (c *QuoteWSClient) Close(status websocket.StatusCode, reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close(status, reason)
}

func (c *QuoteWSClient) Subscribe(ctx context.Context, symbols []string) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	req := quoteSubscribeRequest{
		Action: "subscribe",
		Params: quoteSubscribeParams{Symbols: strings.Join(symbols, ",")},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// Heartbeat sends the provider's application-level keepalive.
func (c *QuoteWSClient) Heartbeat(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	return c.conn.Write(ctx, websocket.MessageText, []byte(`{"action":"heartbeat"}`))
}

func (c *QuoteWSClient) Read(ctx context.Context) (PriceEvent, []byte, error) {
	if c == nil || c.conn == nil {
		return PriceEvent{}, nil, fmt.Errorf("ws not connected")
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return PriceEvent{}, nil, err
	}
	var event PriceEvent
	_ = json.Unmarshal(data, &event)
	return event, data, nil
}

type QuoteStreamOptions struct {
	URL               string
	APIKey            string
	Symbols           []string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BackoffMin        time.Duration
	BackoffMax        time.Duration
	Logger            *zap.Logger
}

// QuoteStream keeps a subscription to the quote feed alive, reconnecting
// with capped exponential backoff, and hands every price event to the
// consumer callback.
type QuoteStream struct {
	opts      QuoteStreamOptions
	seenFirst bool
}

func NewQuoteStream(opts QuoteStreamOptions) *QuoteStream {
	if opts.URL == "" {
		opts.URL = DefaultQuoteWSSURL
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.HeartbeatTimeout == 0 {
		opts.HeartbeatTimeout = 5 * time.Second
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 1 * time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &QuoteStream{opts: opts}
}

func (s *QuoteStream) Run(ctx context.Context, onEvent func(PriceEvent)) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	if len(s.opts.Symbols) == 0 {
		return fmt.Errorf("no symbols to stream")
	}
	backoff := s.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client := NewQuoteWSClient(s.opts.URL, s.opts.APIKey)
		if err := client.Connect(ctx); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("quote ws connect failed", zap.Error(err))
			}
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if err := client.Subscribe(ctx, s.opts.Symbols); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Warn("quote ws subscribe failed", zap.Error(err))
			}
			_ = client.Close(websocket.StatusInternalError, "subscribe failed")
			if err := sleepWithJitter(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.opts.BackoffMax)
			continue
		}
		if s.opts.Logger != nil {
			s.opts.Logger.Info("quote ws subscribed", zap.Int("symbols", len(s.opts.Symbols)))
		}
		backoff = s.opts.BackoffMin

		err := s.consume(ctx, client, onEvent)
		_ = client.Close(websocket.StatusNormalClosure, "reconnect")
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if err := sleepWithJitter(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *QuoteStream) consume(ctx context.Context, client *QuoteWSClient, onEvent func(PriceEvent)) error {
	if client == nil {
		return fmt.Errorf("ws client is nil")
	}
	heartbeatErr := make(chan error, 1)
	heartbeatCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				heartbeatErr <- heartbeatCtx.Err()
				return
			case <-ticker.C:
				beatCtx, cancelBeat := context.WithTimeout(heartbeatCtx, s.opts.HeartbeatTimeout)
				err := client.Heartbeat(beatCtx)
				cancelBeat()
				if err != nil {
					heartbeatErr <- err
					return
				}
			}
		}
	}()

	for {
		select {
		case err := <-heartbeatErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		default:
		}
		event, _, err := client.Read(ctx)
		if err != nil {
			if s.opts.Logger != nil && !errors.Is(err, context.Canceled) {
				s.opts.Logger.Warn("quote ws read failed", zap.Error(err))
			}
			return err
		}
		if s.opts.Logger != nil && !s.seenFirst {
			s.seenFirst = true
			s.opts.Logger.Info("quote ws first message", zap.String("event", event.Event))
		}
		if event.Event != "price" {
			continue
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	timer := time.NewTimer(base + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
