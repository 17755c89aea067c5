package bots

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketbots/exchange"
)

// --- Setup & Helpers --------------------------------------------------------

type fakeClient struct {
	identity  string
	pairs     []exchange.Pair
	pairsErr  error
	entries   []exchange.OrderBookEntry
	listErr   error
	submitErr error

	mu        sync.Mutex
	submitted []exchange.Order
}

func (c *fakeClient) Identity() string { return c.identity }

func (c *fakeClient) SubmitOrder(_ context.Context, o exchange.Order) (exchange.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, o)
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	return exchange.OrderResult{"status": "accepted"}, nil
}

func (c *fakeClient) Pairs(context.Context) ([]exchange.Pair, error) {
	return c.pairs, c.pairsErr
}

func (c *fakeClient) OrderList(context.Context) ([]exchange.OrderBookEntry, error) {
	return c.entries, c.listErr
}

func (c *fakeClient) orders() []exchange.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]exchange.Order, len(c.submitted))
	copy(out, c.submitted)
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func entry(owner string, side exchange.Side, price, qty string) exchange.OrderBookEntry {
	return exchange.OrderBookEntry{PairID: 5, Owner: owner, Side: side, Price: dec(price), Quantity: dec(qty), Status: exchange.Open}
}

// --- RandomBot ---------------------------------------------------------------

func TestRandomBotOrdersStayInBand(t *testing.T) {
	for _, ref := range []string{"100", "0.0003", "98765.4321"} {
		bot := NewRandomBot(5, 42)
		p := dec(ref).InexactFloat64()
		sides := map[exchange.Side]int{}

		for i := 0; i < 2000; i++ {
			o := bot.nextOrder(dec(ref))
			require.NoError(t, o.Validate())
			price := o.Price.InexactFloat64()
			qty := o.Quantity.InexactFloat64()

			assert.GreaterOrEqual(t, price, 0.95*p*(1-1e-12), "ref %s", ref)
			assert.LessOrEqual(t, price, 1.05*p*(1+1e-12), "ref %s", ref)
			assert.GreaterOrEqual(t, qty, 0.01)
			assert.LessOrEqual(t, qty, 1.0)
			assert.Equal(t, int64(5), o.PairID)
			sides[o.Side]++
		}
		assert.Len(t, sides, 2, "both sides should be drawn")
	}
}

func TestRandomBotStepSubmitsOneOrder(t *testing.T) {
	client := &fakeClient{identity: "random_user", pairs: []exchange.Pair{
		{PairID: 1, ReferencePrice: dec("10")},
		{PairID: 5, ReferencePrice: dec("200")},
	}}
	events := &recorder{}
	bot := NewRandomBot(5, 7)
	bot.Interval = 3 * time.Second

	wait := bot.step(context.Background(), client, events, newBackoff(bot.BackoffMin, bot.BackoffMax))

	assert.Equal(t, 3*time.Second, wait)
	orders := client.orders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Price.GreaterThanOrEqual(dec("190")))
	assert.True(t, orders[0].Price.LessThanOrEqual(dec("210")))
	assert.Equal(t, []EventKind{EventOrderSubmitted}, events.kinds())
}

func TestRandomBotLogsFailedSubmissionAndContinues(t *testing.T) {
	client := &fakeClient{
		pairs:     []exchange.Pair{{PairID: 5, ReferencePrice: dec("50")}},
		submitErr: &exchange.TransportError{Op: "order", StatusCode: 500},
	}
	events := &recorder{}
	bot := NewRandomBot(5, 1)

	wait := bot.step(context.Background(), client, events, newBackoff(0, 0))

	assert.Equal(t, bot.Interval, wait)
	require.Len(t, events.events, 1)
	assert.Equal(t, EventOrderFailed, events.events[0].Kind)
	assert.Contains(t, events.events[0].Error, "http 500")
	assert.NotNil(t, events.events[0].Order)
}

func TestRandomBotReportsPartialPairList(t *testing.T) {
	client := &fakeClient{
		pairs:    []exchange.Pair{{PairID: 5, ReferencePrice: dec("100")}},
		pairsErr: &exchange.FormatError{Op: "pair", Reason: "item 0: pair_id: invalid", Skipped: 1},
	}
	events := &recorder{}
	bot := NewRandomBot(5, 3)

	wait := bot.step(context.Background(), client, events, newBackoff(0, 0))

	assert.Equal(t, bot.Interval, wait)
	assert.Equal(t, []EventKind{EventFormatError, EventOrderSubmitted}, events.kinds())
	assert.Contains(t, events.events[0].Error, "1 skipped")
	require.Len(t, client.orders(), 1)
}

func TestRandomBotBacksOffWithoutPrice(t *testing.T) {
	cases := map[string]*fakeClient{
		"pair missing":    {pairs: []exchange.Pair{{PairID: 4, ReferencePrice: dec("1")}}},
		"zero price":      {pairs: []exchange.Pair{{PairID: 5, ReferencePrice: decimal.Zero}}},
		"transport error": {pairsErr: &exchange.TransportError{Op: "pair", Err: errors.New("connection refused")}},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			events := &recorder{}
			bot := NewRandomBot(5, 1)
			bot.BackoffMin = 10 * time.Millisecond
			bot.BackoffMax = 40 * time.Millisecond
			retry := newBackoff(bot.BackoffMin, bot.BackoffMax)

			var waits []time.Duration
			for i := 0; i < 5; i++ {
				waits = append(waits, bot.step(context.Background(), client, events, retry))
			}

			assert.Empty(t, client.orders())
			assert.Equal(t, 10*time.Millisecond, waits[0])
			for _, w := range waits {
				assert.GreaterOrEqual(t, w, 10*time.Millisecond)
				assert.LessOrEqual(t, w, 40*time.Millisecond)
			}
			for _, ev := range events.events {
				assert.Equal(t, EventPriceUnavailable, ev.Kind)
				assert.Contains(t, ev.Error, exchange.ErrPriceUnavailable.Error())
			}
		})
	}
}

func TestRandomBotStopsOnCancel(t *testing.T) {
	client := &fakeClient{pairs: []exchange.Pair{{PairID: 5, ReferencePrice: dec("1")}}}
	bot := NewRandomBot(5, 1)
	bot.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bot.Start(ctx, client, &recorder{})
		close(done)
	}()

	require.Eventually(t, func() bool { return len(client.orders()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bot did not stop after cancel")
	}
}

// --- CounterBot --------------------------------------------------------------

func TestCounterBotMirrorsBestOrders(t *testing.T) {
	client := &fakeClient{identity: "algorithmic_user", entries: []exchange.OrderBookEntry{
		entry("u2", exchange.Buy, "100", "1"),
		entry("u3", exchange.Buy, "101", "0.5"),
		entry("u4", exchange.Buy, "101", "9"),
		entry("u2", exchange.Sell, "105", "2"),
		entry("u3", exchange.Sell, "103", "0.75"),
		entry("algorithmic_user", exchange.Buy, "150", "1"),
		entry("algorithmic_user", exchange.Sell, "50", "1"),
	}}
	events := &recorder{}
	bot := NewCounterBot(5)

	wait := bot.step(context.Background(), client, events, newBackoff(0, 0))
	assert.Equal(t, 3*time.Second, wait)

	orders := client.orders()
	require.Len(t, orders, 2)

	assert.Equal(t, exchange.Sell, orders[0].Side)
	assert.True(t, orders[0].Price.Equal(dec("101")))
	assert.Equal(t, "0.5", orders[0].Quantity.String(), "first of equal best bids wins")

	assert.Equal(t, exchange.Buy, orders[1].Side)
	assert.True(t, orders[1].Price.Equal(dec("103")))
	assert.Equal(t, "0.75", orders[1].Quantity.String())
	assert.Equal(t, []EventKind{EventOrderSubmitted, EventOrderSubmitted}, events.kinds())
}

func TestCounterBotNeverMirrorsOwnOrders(t *testing.T) {
	client := &fakeClient{identity: "me", entries: []exchange.OrderBookEntry{
		entry("me", exchange.Buy, "100", "1"),
		entry("me", exchange.Sell, "99", "1"),
	}}
	events := &recorder{}
	bot := NewCounterBot(5)
	bot.BackoffMin = time.Millisecond
	bot.BackoffMax = 5 * time.Millisecond

	wait := bot.step(context.Background(), client, events, newBackoff(bot.BackoffMin, bot.BackoffMax))

	assert.Equal(t, time.Millisecond, wait)
	assert.Empty(t, client.orders())
	require.Len(t, events.events, 1)
	assert.Equal(t, EventNoOrders, events.events[0].Kind)
	assert.Equal(t, "only own orders are open", events.events[0].Message)
}

func TestCounterBotOneSidedBook(t *testing.T) {
	client := &fakeClient{identity: "me", entries: []exchange.OrderBookEntry{
		entry("u2", exchange.Sell, "10", "3"),
		entry("u2", exchange.Sell, "9", "1"),
	}}
	bot := NewCounterBot(5)

	bot.step(context.Background(), client, &recorder{}, newBackoff(0, 0))

	orders := client.orders()
	require.Len(t, orders, 1, "no bids means no sells")
	assert.Equal(t, exchange.Buy, orders[0].Side)
	assert.True(t, orders[0].Price.Equal(dec("9")))
}

func TestCounterBotFiltersPairAndStatus(t *testing.T) {
	closed := entry("u2", exchange.Buy, "100", "1")
	closed.Status = exchange.Closed
	otherPair := entry("u2", exchange.Buy, "100", "1")
	otherPair.PairID = 6
	client := &fakeClient{identity: "me", entries: []exchange.OrderBookEntry{closed, otherPair}}
	events := &recorder{}

	NewCounterBot(5).step(context.Background(), client, events, newBackoff(0, 0))

	assert.Empty(t, client.orders())
	assert.Equal(t, []EventKind{EventNoOrders}, events.kinds())
	assert.Equal(t, "no open orders for pair", events.events[0].Message)
}

func TestCounterBotTreatsFormatErrorAsEmpty(t *testing.T) {
	client := &fakeClient{identity: "me", listErr: &exchange.FormatError{Op: "orderlist", Reason: "expected array, got object"}}
	events := &recorder{}

	NewCounterBot(5).step(context.Background(), client, events, newBackoff(0, 0))

	assert.Empty(t, client.orders())
	assert.Equal(t, []EventKind{EventFormatError, EventNoOrders}, events.kinds())
}

func TestCounterBotUsesValidEntriesFromPartialList(t *testing.T) {
	client := &fakeClient{
		identity: "me",
		entries:  []exchange.OrderBookEntry{entry("u2", exchange.Buy, "7", "1")},
		listErr:  &exchange.FormatError{Op: "orderlist", Reason: "item 0: unknown side", Skipped: 1},
	}
	events := &recorder{}

	NewCounterBot(5).step(context.Background(), client, events, newBackoff(0, 0))

	require.Len(t, client.orders(), 1)
	assert.Equal(t, []EventKind{EventFormatError, EventOrderSubmitted}, events.kinds())
}

func TestCounterBotReportsTransportError(t *testing.T) {
	client := &fakeClient{identity: "me", listErr: &exchange.TransportError{Op: "orderlist", StatusCode: 503}}
	events := &recorder{}

	NewCounterBot(5).step(context.Background(), client, events, newBackoff(0, 0))

	assert.Equal(t, []EventKind{EventTransportError, EventNoOrders}, events.kinds())
}

// --- helpers -----------------------------------------------------------------

func TestReferencePriceScan(t *testing.T) {
	pairs := []exchange.Pair{{PairID: 1, ReferencePrice: dec("3")}, {PairID: 5, ReferencePrice: dec("12.5")}}

	p, err := referencePrice(pairs, 5)
	require.NoError(t, err)
	assert.True(t, p.ReferencePrice.Equal(dec("12.5")))

	_, err = referencePrice(pairs, 9)
	assert.ErrorIs(t, err, exchange.ErrPriceUnavailable)
}

func TestSleepReturnsFalseOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Hour))
	assert.True(t, sleep(context.Background(), time.Millisecond))
}
