package bots

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"marketbots/exchange"
)

// RandomBot is a noise trader: every Interval it reads the pair's reference
// price and places a randomly sized order of a random side, priced inside a
// band around that reference.
type RandomBot struct {
	PairID      int64
	Interval    time.Duration
	MinQuantity float64
	MaxQuantity float64
	PriceBand   float64 // fraction either side of the reference price
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	rand        *rand.Rand
}

// NewRandomBot builds a RandomBot for pairID. A zero seed seeds from the clock.
func NewRandomBot(pairID, seed int64) *RandomBot {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomBot{
		PairID:      pairID,
		Interval:    3 * time.Second,
		MinQuantity: 0.01,
		MaxQuantity: 1.0,
		PriceBand:   0.05,
		BackoffMin:  defaultBackoffMin,
		BackoffMax:  defaultBackoffMax,
		rand:        rand.New(rand.NewSource(seed)),
	}
}

func (b *RandomBot) Name() string { return "random" }

func (b *RandomBot) Start(ctx context.Context, client ExchangeClient, events Publisher) {
	retry := newBackoff(b.BackoffMin, b.BackoffMax)
	for ctx.Err() == nil {
		if !sleep(ctx, b.step(ctx, client, events, retry)) {
			return
		}
	}
}

// step runs one iteration and returns how long to wait before the next.
func (b *RandomBot) step(ctx context.Context, client ExchangeClient, events Publisher, retry *backoff.Backoff) time.Duration {
	pair, err := b.fetchPrice(ctx, client, events)
	if err != nil {
		events.Publish(errorEvent(EventPriceUnavailable, err))
		return retry.Duration()
	}
	retry.Reset()

	order := b.nextOrder(pair.ReferencePrice)
	result, err := client.SubmitOrder(ctx, order)
	events.Publish(orderEvent(order, result, err))
	return b.Interval
}

// fetchPrice reads the reference price for PairID. A partially decoded pair
// list is still scanned; the skipped items are reported as a format error.
func (b *RandomBot) fetchPrice(ctx context.Context, client ExchangeClient, events Publisher) (exchange.Pair, error) {
	pairs, err := client.Pairs(ctx)
	if err != nil {
		if len(pairs) == 0 {
			return exchange.Pair{}, fmt.Errorf("%w: %w", exchange.ErrPriceUnavailable, err)
		}
		events.Publish(errorEvent(EventFormatError, err))
	}
	return referencePrice(pairs, b.PairID)
}

// nextOrder draws side uniformly, quantity from [MinQuantity, MaxQuantity]
// and price from reference * [1-PriceBand, 1+PriceBand].
func (b *RandomBot) nextOrder(reference decimal.Decimal) exchange.Order {
	side := exchange.Buy
	if b.rand.Intn(2) == 1 {
		side = exchange.Sell
	}
	qty := b.MinQuantity + b.rand.Float64()*(b.MaxQuantity-b.MinQuantity)
	factor := 1 - b.PriceBand + b.rand.Float64()*2*b.PriceBand
	price := reference.InexactFloat64() * factor

	return exchange.Order{
		PairID:   b.PairID,
		Side:     side,
		Quantity: decimal.NewFromFloat(qty),
		Price:    decimal.NewFromFloat(price),
	}
}
