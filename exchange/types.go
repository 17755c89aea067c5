package exchange

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	// Buy indicates a bid order.
	Buy Side = iota + 1
	// Sell indicates an ask order.
	Sell
)

// ParseSide maps the exchange's "type" field onto a Side.
func ParseSide(value string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", value)
	}
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Opposite returns the side that would consume an order of side s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Status is the lifecycle state the exchange reports for a resting order.
type Status int

const (
	// Open orders rest on the book awaiting a counterparty.
	Open Status = iota + 1
	// Closed orders are filled or canceled.
	Closed
)

// ParseStatus maps the exchange's "closed" field onto a Status.
func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "open":
		return Open, nil
	case "closed":
		return Closed, nil
	default:
		return 0, fmt.Errorf("unknown status %q", value)
	}
}

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Order is an outbound order request. It is built fresh for every submission.
type Order struct {
	PairID   int64
	Side     Side
	Quantity decimal.Decimal
	Price    decimal.Decimal

	// QuantityToken, when set, is sent instead of Quantity exactly as the
	// exchange wrote it in the order book. It must denote Quantity.
	QuantityToken json.RawMessage
}

// Validate rejects orders the exchange must never see.
func (o Order) Validate() error {
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, int(o.Side))
	}
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidOrder, o.Quantity)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, o.Price)
	}
	if len(o.QuantityToken) > 0 {
		var q decimal.Decimal
		if err := q.UnmarshalJSON(o.QuantityToken); err != nil || !q.Equal(o.Quantity) {
			return fmt.Errorf("%w: quantity token %s does not match %s", ErrInvalidOrder, o.QuantityToken, o.Quantity)
		}
	}
	return nil
}

// OrderBookEntry is a resting order as reported by /orderlist.
type OrderBookEntry struct {
	PairID   int64
	Owner    string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Status   Status

	// QuantityToken is the quantity as it appeared on the wire.
	QuantityToken json.RawMessage
}

// Pair is a tradable instrument as reported by /pair.
type Pair struct {
	PairID         int64
	ReferencePrice decimal.Decimal
}

// OrderResult is the exchange's confirmation for a submitted order. Its shape
// is owned by the exchange, so it is kept as decoded JSON.
type OrderResult map[string]any
