package bots

import (
	"context"

	"marketbots/exchange"
)

// Bot represents a trading agent that can be run under a supervisor.
// Start blocks until ctx is canceled; cancellation is only observed between
// iterations and while waiting, never in the middle of a request.
type Bot interface {
	Name() string
	Start(ctx context.Context, client ExchangeClient, events Publisher)
}

// ExchangeClient abstracts the surface bots need from the exchange.
// *exchange.Session satisfies it.
type ExchangeClient interface {
	Identity() string
	SubmitOrder(ctx context.Context, order exchange.Order) (exchange.OrderResult, error)
	Pairs(ctx context.Context) ([]exchange.Pair, error)
	OrderList(ctx context.Context) ([]exchange.OrderBookEntry, error)
}

// Publisher receives everything a bot does that is worth observing.
type Publisher interface {
	Publish(Event)
}
