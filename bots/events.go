package bots

import (
	"time"

	"github.com/shopspring/decimal"

	"marketbots/exchange"
)

// EventKind classifies an Event.
type EventKind string

const (
	EventRegistered         EventKind = "registered"
	EventRegistrationFailed EventKind = "registration_failed"
	EventOrderSubmitted     EventKind = "order_submitted"
	EventOrderFailed        EventKind = "order_failed"
	EventPriceUnavailable   EventKind = "price_unavailable"
	EventNoOrders           EventKind = "no_orders"
	EventFormatError        EventKind = "format_error"
	EventTransportError     EventKind = "transport_error"
	EventStopped            EventKind = "stopped"
)

// Event is one observable step of a bot. ID, Time, Bot and Identity are
// stamped by the supervisor when the event is published.
type Event struct {
	ID       string               `json:"id"`
	Time     time.Time            `json:"time"`
	Bot      string               `json:"bot"`
	Identity string               `json:"identity"`
	Kind     EventKind            `json:"kind"`
	Order    *OrderView           `json:"order,omitempty"`
	Result   exchange.OrderResult `json:"result,omitempty"`
	Message  string               `json:"message,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// OrderView is the serializable form of an exchange.Order.
type OrderView struct {
	PairID   int64           `json:"pair_id"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func viewOf(o exchange.Order) *OrderView {
	return &OrderView{PairID: o.PairID, Side: o.Side.String(), Quantity: o.Quantity, Price: o.Price}
}

func orderEvent(o exchange.Order, result exchange.OrderResult, err error) Event {
	if err != nil {
		return Event{Kind: EventOrderFailed, Order: viewOf(o), Error: err.Error()}
	}
	return Event{Kind: EventOrderSubmitted, Order: viewOf(o), Result: result}
}

func errorEvent(kind EventKind, err error) Event {
	return Event{Kind: kind, Error: err.Error()}
}
