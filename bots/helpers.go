package bots

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"marketbots/exchange"
)

const (
	defaultBackoffMin = 250 * time.Millisecond
	defaultBackoffMax = 10 * time.Second
)

// referencePrice scans pairs for pairID. Pair lists are small, so a linear
// scan is fine.
func referencePrice(pairs []exchange.Pair, pairID int64) (exchange.Pair, error) {
	for _, p := range pairs {
		if p.PairID != pairID {
			continue
		}
		if !p.ReferencePrice.IsPositive() {
			return exchange.Pair{}, fmt.Errorf("%w: pair %d quotes %s", exchange.ErrPriceUnavailable, pairID, p.ReferencePrice)
		}
		return p, nil
	}
	return exchange.Pair{}, fmt.Errorf("%w: pair %d not listed", exchange.ErrPriceUnavailable, pairID)
}

// openOrdersFor keeps open entries of pairID with a usable price and quantity.
func openOrdersFor(entries []exchange.OrderBookEntry, pairID int64) []exchange.OrderBookEntry {
	var out []exchange.OrderBookEntry
	for _, e := range entries {
		if e.PairID != pairID || e.Status != exchange.Open {
			continue
		}
		if !e.Price.IsPositive() || !e.Quantity.IsPositive() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// excludeOwner drops entries placed by owner so a bot never trades with itself.
func excludeOwner(entries []exchange.OrderBookEntry, owner string) []exchange.OrderBookEntry {
	out := make([]exchange.OrderBookEntry, 0, len(entries))
	for _, e := range entries {
		if e.Owner != owner {
			out = append(out, e)
		}
	}
	return out
}

// bestOrders returns the highest bid and the lowest ask. On equal prices the
// entry listed first by the exchange wins.
func bestOrders(entries []exchange.OrderBookEntry) (bestBid, bestAsk *exchange.OrderBookEntry) {
	for i := range entries {
		e := &entries[i]
		switch e.Side {
		case exchange.Buy:
			if bestBid == nil || e.Price.GreaterThan(bestBid.Price) {
				bestBid = e
			}
		case exchange.Sell:
			if bestAsk == nil || e.Price.LessThan(bestAsk.Price) {
				bestAsk = e
			}
		}
	}
	return bestBid, bestAsk
}

func newBackoff(lo, hi time.Duration) *backoff.Backoff {
	if lo <= 0 {
		lo = defaultBackoffMin
	}
	if hi < lo {
		hi = max(defaultBackoffMax, lo)
	}
	return &backoff.Backoff{Min: lo, Max: hi, Factor: 2, Jitter: true}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
