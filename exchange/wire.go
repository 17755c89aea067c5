package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type registerRequest struct {
	Username string `json:"username"`
}

type registerResponse struct {
	Key string `json:"key"`
}

// orderRequest is the /order body. Quantity is a JSON number unless the order
// echoes a book entry, in which case the entry's own token is sent back.
type orderRequest struct {
	PairID   int64           `json:"pair_id"`
	Quantity json.RawMessage `json:"quantity"`
	Price    float64         `json:"price"`
	Type     string          `json:"type"`
}

type pairRecord struct {
	PairID    json.Number     `json:"pair_id"`
	SaleLotID decimal.Decimal `json:"sale_lot_id"`
}

type orderListRecord struct {
	LotID    json.Number     `json:"lot_id"`
	Closed   string          `json:"closed"`
	UserID   looseString     `json:"user_id"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity bookQuantity    `json:"quantity"`
}

// bookQuantity decodes like a decimal and keeps the token it was read from.
type bookQuantity struct {
	value decimal.Decimal
	token json.RawMessage
}

func (q *bookQuantity) UnmarshalJSON(data []byte) error {
	if err := q.value.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	q.token = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// looseString accepts a JSON string or number. User ids are compared as text.
type looseString string

func (l *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = looseString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("user_id: %w", err)
		}
		*l = looseString(n.String())
	}
	return nil
}

func newOrderRequest(o Order) orderRequest {
	qty := o.QuantityToken
	if len(qty) == 0 {
		qty = json.RawMessage(o.Quantity.String())
	}
	return orderRequest{
		PairID:   o.PairID,
		Quantity: qty,
		Price:    o.Price.InexactFloat64(),
		Type:     o.Side.String(),
	}
}

func (r pairRecord) toPair() (Pair, error) {
	id, err := r.PairID.Int64()
	if err != nil {
		return Pair{}, fmt.Errorf("pair_id: %w", err)
	}
	return Pair{PairID: id, ReferencePrice: r.SaleLotID}, nil
}

func (r orderListRecord) toEntry() (OrderBookEntry, error) {
	id, err := r.LotID.Int64()
	if err != nil {
		return OrderBookEntry{}, fmt.Errorf("lot_id: %w", err)
	}
	side, err := ParseSide(r.Type)
	if err != nil {
		return OrderBookEntry{}, err
	}
	status, err := ParseStatus(r.Closed)
	if err != nil {
		return OrderBookEntry{}, err
	}
	return OrderBookEntry{
		PairID:        id,
		Owner:         string(r.UserID),
		Side:          side,
		Price:         r.Price,
		Quantity:      r.Quantity.value,
		Status:        status,
		QuantityToken: r.Quantity.token,
	}, nil
}

// decodeList splits a JSON array into its raw items. Anything other than an
// array is a FormatError.
func decodeList(op string, data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &FormatError{Op: op, Reason: "expected array, got " + describeJSON(trimmed)}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, &FormatError{Op: op, Reason: err.Error()}
	}
	return items, nil
}

func describeJSON(data []byte) string {
	if len(data) == 0 {
		return "empty body"
	}
	switch data[0] {
	case '{':
		return "object"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// itemErrors gathers per-item decode failures into a single FormatError.
type itemErrors struct {
	op      string
	skipped int
	reasons []string
}

func (e *itemErrors) add(index int, err error) {
	e.skipped++
	if len(e.reasons) < 3 {
		e.reasons = append(e.reasons, fmt.Sprintf("item %d: %v", index, err))
	}
}

func (e *itemErrors) err() error {
	if e.skipped == 0 {
		return nil
	}
	return &FormatError{Op: e.op, Reason: strings.Join(e.reasons, "; "), Skipped: e.skipped}
}

// IsFormatError reports whether err is, or wraps, a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
