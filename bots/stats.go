package bots

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BotStats summarizes what one participant has done so far. Notional is the
// sum of price*quantity over submitted orders; fills are not tracked.
type BotStats struct {
	Bot             string          `json:"bot"`
	Identity        string          `json:"identity"`
	Registered      bool            `json:"registered"`
	Running         bool            `json:"running"`
	Submitted       int64           `json:"submitted"`
	Failed          int64           `json:"failed"`
	Buys            int64           `json:"buys"`
	Sells           int64           `json:"sells"`
	BuyNotional     decimal.Decimal `json:"buy_notional"`
	SellNotional    decimal.Decimal `json:"sell_notional"`
	Misses          int64           `json:"misses"`
	FormatErrors    int64           `json:"format_errors"`
	TransportErrors int64           `json:"transport_errors"`
	LastError       string          `json:"last_error,omitempty"`
	LastErrorAt     time.Time       `json:"last_error_at,omitempty"`
}

type statsTracker struct {
	mu   sync.Mutex
	bots map[string]*BotStats // keyed by identity
}

func newStatsTracker() *statsTracker {
	return &statsTracker{bots: make(map[string]*BotStats)}
}

func (s *statsTracker) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.bots[ev.Identity]
	if !ok {
		st = &BotStats{Bot: ev.Bot, Identity: ev.Identity}
		s.bots[ev.Identity] = st
	}

	switch ev.Kind {
	case EventRegistered:
		st.Registered = true
	case EventOrderSubmitted:
		st.Submitted++
		if ev.Order != nil {
			notional := ev.Order.Price.Mul(ev.Order.Quantity)
			if ev.Order.Side == "buy" {
				st.Buys++
				st.BuyNotional = st.BuyNotional.Add(notional)
			} else {
				st.Sells++
				st.SellNotional = st.SellNotional.Add(notional)
			}
		}
	case EventOrderFailed:
		st.Failed++
	case EventPriceUnavailable, EventNoOrders:
		st.Misses++
	case EventFormatError:
		st.FormatErrors++
	case EventTransportError:
		st.TransportErrors++
	case EventStopped:
		st.Running = false
	}
	if ev.Error != "" {
		st.LastError = ev.Error
		st.LastErrorAt = ev.Time
	}
}

func (s *statsTracker) setRunning(identity string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.bots[identity]; ok {
		st.Running = running
	}
}

// Snapshot returns copies ordered by identity.
func (s *statsTracker) Snapshot() []BotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BotStats, 0, len(s.bots))
	for _, st := range s.bots {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
