package bots

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	tomb "gopkg.in/tomb.v2"

	"marketbots/exchange"
)

const defaultStatsInterval = 30 * time.Second

var errSupervisorStarted = errors.New("supervisor already started")

// Supervisor registers participants and runs each one's bot in its own
// goroutine. Bots share nothing but the event hub and the stats tracker.
type Supervisor struct {
	cfg           exchange.Config
	logger        *zap.SugaredLogger
	hub           *hub[Event]
	stats         *statsTracker
	statsInterval time.Duration
	now           func() time.Time

	mu           sync.Mutex
	participants []*participant
	started      bool
}

type participant struct {
	bot      Bot
	session  *exchange.Session
	reporter *reporter
}

// NewSupervisor builds a supervisor that registers participants against cfg.
func NewSupervisor(cfg exchange.Config, logger *zap.Logger, statsInterval time.Duration) *Supervisor {
	if statsInterval <= 0 {
		statsInterval = defaultStatsInterval
	}
	return &Supervisor{
		cfg:           cfg,
		logger:        logger.Sugar(),
		hub:           newHub[Event](),
		stats:         newStatsTracker(),
		statsInterval: statsInterval,
		now:           time.Now,
	}
}

// Add registers identity on the exchange and schedules bot to trade as it.
// A registration failure is returned and the bot never runs; other
// participants are unaffected.
func (s *Supervisor) Add(ctx context.Context, identity string, bot Bot) error {
	if s.isStarted() {
		return errSupervisorStarted
	}
	rep := s.newReporter(bot.Name(), identity)

	session, err := exchange.Register(ctx, s.cfg, identity)
	if err != nil {
		rep.Publish(errorEvent(EventRegistrationFailed, err))
		return err
	}
	rep.Publish(Event{Kind: EventRegistered})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		session.Close()
		return errSupervisorStarted
	}
	s.participants = append(s.participants, &participant{bot: bot, session: session, reporter: rep})
	return nil
}

func (s *Supervisor) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Start launches all registered bots and logs their stats until ctx is
// canceled, then waits for every bot to finish its current iteration.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	participants := s.participants
	s.started = true
	s.mu.Unlock()
	defer s.hub.Close()

	if len(participants) == 0 {
		return errors.New("no registered participants")
	}

	t, ctx := tomb.WithContext(ctx)
	for _, p := range participants {
		p := p
		s.stats.setRunning(p.session.Identity(), true)
		t.Go(func() error {
			defer p.session.Close()
			p.reporter.logger.Infow("bot_started")
			p.bot.Start(ctx, p.session, p.reporter)
			p.reporter.Publish(Event{Kind: EventStopped})
			return nil
		})
	}

	logTicker := time.NewTicker(s.statsInterval)
	defer logTicker.Stop()
	for {
		select {
		case <-t.Dying():
			err := t.Wait()
			s.logStats()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		case <-logTicker.C:
			s.logStats()
		}
	}
}

// Subscribe returns a live feed of events. Slow consumers lose events rather
// than stalling the bots.
func (s *Supervisor) Subscribe(buffer int) *Subscription[Event] {
	return s.hub.Subscribe(buffer)
}

func (s *Supervisor) Unsubscribe(sub *Subscription[Event]) {
	s.hub.Unsubscribe(sub)
}

// Stats returns a snapshot of every participant's counters.
func (s *Supervisor) Stats() []BotStats {
	return s.stats.Snapshot()
}

func (s *Supervisor) logStats() {
	for _, st := range s.stats.Snapshot() {
		s.logger.Infow("bot_stats",
			"bot", st.Bot,
			"identity", st.Identity,
			"running", st.Running,
			"submitted", st.Submitted,
			"failed", st.Failed,
			"buy_notional", st.BuyNotional.String(),
			"sell_notional", st.SellNotional.String(),
			"misses", st.Misses)
	}
}

func (s *Supervisor) newReporter(bot, identity string) *reporter {
	return &reporter{
		bot:      bot,
		identity: identity,
		logger:   s.logger.Named(bot).With("identity", identity),
		hub:      s.hub,
		stats:    s.stats,
		now:      s.now,
	}
}

// reporter stamps, logs, counts and broadcasts one participant's events.
type reporter struct {
	bot      string
	identity string
	logger   *zap.SugaredLogger
	hub      *hub[Event]
	stats    *statsTracker
	now      func() time.Time
}

func (r *reporter) Publish(ev Event) {
	ev.ID = uuid.NewString()
	ev.Time = r.now()
	ev.Bot = r.bot
	ev.Identity = r.identity

	r.stats.Record(ev)
	r.log(ev)
	r.hub.Broadcast(ev)
}

func (r *reporter) log(ev Event) {
	kv := []interface{}{}
	if ev.Order != nil {
		kv = append(kv,
			"pair", ev.Order.PairID,
			"side", ev.Order.Side,
			"quantity", ev.Order.Quantity.String(),
			"price", ev.Order.Price.String())
	}
	if ev.Result != nil {
		kv = append(kv, "result", ev.Result)
	}
	if ev.Message != "" {
		kv = append(kv, "detail", ev.Message)
	}
	if ev.Error != "" {
		kv = append(kv, "err", ev.Error)
	}

	msg := string(ev.Kind)
	switch ev.Kind {
	case EventRegistrationFailed:
		r.logger.Errorw(msg, kv...)
	case EventOrderFailed, EventFormatError, EventTransportError:
		r.logger.Warnw(msg, kv...)
	default:
		r.logger.Infow(msg, kv...)
	}
}
