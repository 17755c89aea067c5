package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// HeaderUserKey carries the token returned by /user on every later call.
	HeaderUserKey = "X-USER-KEY"

	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 4 << 20
	maxErrorBody          = 256
)

// Config controls how a Session talks to the exchange.
type Config struct {
	BaseURL string
	// RequestTimeout bounds every request. Zero means 10s.
	RequestTimeout time.Duration
	// RequestInterval is the minimum gap between requests. Zero disables throttling.
	RequestInterval time.Duration
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// Session is one registered participant: a base address, an identity and the
// auth token obtained for it. The token never changes after Register.
type Session struct {
	baseURL  string
	identity string
	token    string
	http     *http.Client
	timeout  time.Duration
	ticker   *time.Ticker
	throttle <-chan time.Time
	// ready holds one token so the first request is not held back a full interval.
	ready chan struct{}
}

// Register creates the participant on the exchange and returns a Session
// carrying its token. It never retries; any failure wraps ErrRegistration.
func Register(ctx context.Context, cfg Config, identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrRegistration)
	}
	s := newSession(cfg, identity)

	var resp registerResponse
	if err := s.do(ctx, "register", http.MethodPost, "/user", registerRequest{Username: identity}, &resp); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrRegistration, identity, err)
	}
	if resp.Key == "" {
		s.Close()
		return nil, fmt.Errorf("%w: %s: response omits key", ErrRegistration, identity)
	}
	s.token = resp.Key
	return s, nil
}

func newSession(cfg Config, identity string) *Session {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Session{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		identity: identity,
		http:     client,
		timeout:  timeout,
	}
	if cfg.RequestInterval > 0 {
		s.ticker = time.NewTicker(cfg.RequestInterval)
		s.throttle = s.ticker.C
		s.ready = make(chan struct{}, 1)
		s.ready <- struct{}{}
	}
	return s
}

// Identity returns the username this session registered with.
func (s *Session) Identity() string {
	return s.identity
}

// Close releases the throttle ticker, if any.
func (s *Session) Close() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

// SubmitOrder sends one order. Failures are returned as values so trading
// loops can log them and carry on.
func (s *Session) SubmitOrder(ctx context.Context, order Order) (OrderResult, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := s.do(ctx, "order", http.MethodPost, "/order", newOrderRequest(order), &raw); err != nil {
		return nil, err
	}
	return decodeOrderResult(raw), nil
}

// Pairs lists every tradable pair with its reference price.
func (s *Session) Pairs(ctx context.Context) ([]Pair, error) {
	var raw json.RawMessage
	if err := s.do(ctx, "pair", http.MethodGet, "/pair", nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList("pair", raw)
	if err != nil {
		return nil, err
	}

	bad := itemErrors{op: "pair"}
	pairs := make([]Pair, 0, len(items))
	for i, item := range items {
		var rec pairRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			bad.add(i, err)
			continue
		}
		p, err := rec.toPair()
		if err != nil {
			bad.add(i, err)
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, bad.err()
}

// OrderList fetches every order the exchange knows about. A non-array body
// yields no entries and a FormatError. Malformed items are skipped; the valid
// ones are returned together with a FormatError describing the rest.
func (s *Session) OrderList(ctx context.Context) ([]OrderBookEntry, error) {
	var raw json.RawMessage
	if err := s.do(ctx, "orderlist", http.MethodGet, "/orderlist", nil, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList("orderlist", raw)
	if err != nil {
		return nil, err
	}

	bad := itemErrors{op: "orderlist"}
	entries := make([]OrderBookEntry, 0, len(items))
	for i, item := range items {
		var rec orderListRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			bad.add(i, err)
			continue
		}
		entry, err := rec.toEntry()
		if err != nil {
			bad.add(i, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, bad.err()
}

func (s *Session) waitThrottle(ctx context.Context) error {
	if s.throttle == nil {
		return nil
	}
	select {
	case <-s.ready:
		return nil
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.throttle:
		return nil
	}
}

// do performs one JSON round trip. Shutdown of ctx is honoured while waiting
// for the throttle but never aborts a request already in flight; the request
// itself is bounded by the session timeout.
func (s *Session) do(ctx context.Context, op, method, path string, body, target any) error {
	if err := s.waitThrottle(ctx); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, s.baseURL+path, reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set(HeaderUserKey, s.token)
	}

	res, err := s.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: op, StatusCode: res.StatusCode, Err: err}
	}
	if res.StatusCode/100 != 2 {
		return &TransportError{Op: op, StatusCode: res.StatusCode, Body: truncate(strings.TrimSpace(string(data)), maxErrorBody)}
	}
	if target == nil {
		return nil
	}
	if raw, ok := target.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &FormatError{Op: op, Reason: err.Error()}
	}
	return nil
}

func decodeOrderResult(raw json.RawMessage) OrderResult {
	if len(bytes.TrimSpace(raw)) == 0 {
		return OrderResult{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return OrderResult{"raw": string(raw)}
	}
	if m, ok := v.(map[string]any); ok {
		return OrderResult(m)
	}
	return OrderResult{"result": v}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsTransportError reports whether err is, or wraps, a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
