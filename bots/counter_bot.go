package bots

import (
	"context"
	"time"

	"github.com/jpillora/backoff"

	"marketbots/exchange"
)

// CounterBot takes the best resting orders of other participants: it sells
// into the highest bid and buys from the lowest ask, echoing each order's
// exact price and quantity. It never improves on the book.
type CounterBot struct {
	PairID     int64
	Interval   time.Duration
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func NewCounterBot(pairID int64) *CounterBot {
	return &CounterBot{
		PairID:     pairID,
		Interval:   3 * time.Second,
		BackoffMin: defaultBackoffMin,
		BackoffMax: defaultBackoffMax,
	}
}

func (b *CounterBot) Name() string { return "counter" }

func (b *CounterBot) Start(ctx context.Context, client ExchangeClient, events Publisher) {
	retry := newBackoff(b.BackoffMin, b.BackoffMax)
	for ctx.Err() == nil {
		if !sleep(ctx, b.step(ctx, client, events, retry)) {
			return
		}
	}
}

func (b *CounterBot) step(ctx context.Context, client ExchangeClient, events Publisher, retry *backoff.Backoff) time.Duration {
	entries, err := client.OrderList(ctx)
	if err != nil {
		// A format error may still carry the entries that did decode.
		kind := EventTransportError
		if exchange.IsFormatError(err) {
			kind = EventFormatError
		}
		events.Publish(errorEvent(kind, err))
	}

	candidates := openOrdersFor(entries, b.PairID)
	if len(candidates) == 0 {
		events.Publish(Event{Kind: EventNoOrders, Message: "no open orders for pair"})
		return retry.Duration()
	}
	candidates = excludeOwner(candidates, client.Identity())
	if len(candidates) == 0 {
		events.Publish(Event{Kind: EventNoOrders, Message: "only own orders are open"})
		return retry.Duration()
	}
	retry.Reset()

	bestBid, bestAsk := bestOrders(candidates)
	if bestBid != nil {
		b.counter(ctx, client, events, *bestBid)
	}
	if bestAsk != nil {
		b.counter(ctx, client, events, *bestAsk)
	}
	return b.Interval
}

// counter submits the mirror image of entry on the opposite side.
func (b *CounterBot) counter(ctx context.Context, client ExchangeClient, events Publisher, entry exchange.OrderBookEntry) {
	order := exchange.Order{
		PairID:        b.PairID,
		Side:          entry.Side.Opposite(),
		Quantity:      entry.Quantity,
		Price:         entry.Price,
		QuantityToken: entry.QuantityToken,
	}
	result, err := client.SubmitOrder(ctx, order)
	events.Publish(orderEvent(order, result, err))
}
