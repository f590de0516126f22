// Copyright (c) 2025 BVK Chaitanya

// Package marketdata implements the market data subscription multiplexer and
// the event bus through which jobs consume live exchange feeds.
//
// The multiplexer converges the set of open physical exchange streams to the
// current subscription demand. Every received event is broadcast on a
// per-kind topic shared by all subscribers; event delivery never waits for a
// slow consumer.
package marketdata

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/exchange"
	"github.com/visvasity/topic"
)

type Options struct {
	// PollInterval is the snapshot interval for subscriptions on exchanges
	// without push capability for the subscribed data kind.
	PollInterval time.Duration

	// RetryInterval and MaxRetryInterval bound the backoff applied when an
	// exchange's streams cannot be opened.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
}

func (v *Options) setDefaults() {
	if v.PollInterval == 0 {
		v.PollInterval = 10 * time.Second
	}
	if v.RetryInterval == 0 {
		v.RetryInterval = time.Second
	}
	if v.MaxRetryInterval == 0 {
		v.MaxRetryInterval = time.Minute
	}
}

// feedKey identifies one physical stream. Pair is empty for streams that
// multiplex many pairs over one connection.
type feedKey struct {
	exchange string
	kind     exchange.DataKind
	pair     string
}

type feedState struct {
	key   feedKey
	specs map[exchange.TickerSpec]struct{}

	feed   exchange.Feed
	polled bool

	// dead is set by the pump when the feed's event channel closes
	// unexpectedly. Dead feeds are replaced on the next reconcile.
	dead bool
}

// FeedInfo describes one open physical stream for introspection.
type FeedInfo struct {
	Exchange string
	Kind     exchange.DataKind
	Pairs    []string
	Polled   bool
}

type Multiplexer struct {
	cg ctxutil.CloseGroup

	opts Options

	exchanges *exchange.Registry

	tickerTopic    *topic.Topic[*exchange.TickerEvent]
	orderBookTopic *topic.Topic[*exchange.OrderBookEvent]
	tradeTopic     *topic.Topic[*exchange.TradeEvent]
	openOrderTopic *topic.Topic[*exchange.OrderEvent]
	userTradeTopic *topic.Topic[*exchange.UserTradeEvent]
	balanceTopic   *topic.Topic[*exchange.BalanceEvent]

	// mu is the single serialization point for all registry mutations.
	// Event delivery does not take this lock.
	mu sync.Mutex

	desired   map[exchange.Subscription]struct{}
	feedMap   map[feedKey]*feedState
	workerMap map[string]*worker
}

func New(exchanges *exchange.Registry, opts *Options) *Multiplexer {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()

	m := &Multiplexer{
		opts:           *opts,
		exchanges:      exchanges,
		tickerTopic:    topic.New[*exchange.TickerEvent](),
		orderBookTopic: topic.New[*exchange.OrderBookEvent](),
		tradeTopic:     topic.New[*exchange.TradeEvent](),
		openOrderTopic: topic.New[*exchange.OrderEvent](),
		userTradeTopic: topic.New[*exchange.UserTradeEvent](),
		balanceTopic:   topic.New[*exchange.BalanceEvent](),
		desired:        make(map[exchange.Subscription]struct{}),
		feedMap:        make(map[feedKey]*feedState),
		workerMap:      make(map[string]*worker),
	}
	return m
}

func (m *Multiplexer) Close() {
	m.cg.Close()

	m.mu.Lock()
	feeds := make([]*feedState, 0, len(m.feedMap))
	for key, fs := range m.feedMap {
		feeds = append(feeds, fs)
		delete(m.feedMap, key)
	}
	clear(m.desired)
	m.mu.Unlock()

	for _, fs := range feeds {
		if err := fs.feed.Close(); err != nil {
			slog.Warn("could not close feed (ignored)", "exchange", fs.key.exchange, "kind", fs.key.kind, "err", err)
		}
	}

	m.tickerTopic.Close()
	m.orderBookTopic.Close()
	m.tradeTopic.Close()
	m.openOrderTopic.Close()
	m.userTradeTopic.Close()
	m.balanceTopic.Close()
}

func normalize(sub exchange.Subscription) exchange.Subscription {
	sub.Spec.Exchange = strings.ToLower(sub.Spec.Exchange)
	return sub
}

// UpdateSubscriptions replaces the desired subscription set. The call is
// idempotent and safe to issue concurrently; open physical streams converge
// to exactly the given set. Stream opening and closing happens on background
// per-exchange workers so one exchange's failures never delay another's.
func (m *Multiplexer) UpdateSubscriptions(subs []exchange.Subscription) {
	desired := make(map[exchange.Subscription]struct{}, len(subs))
	for _, sub := range subs {
		desired[normalize(sub)] = struct{}{}
	}

	affected := make(map[string]struct{})
	m.mu.Lock()
	for sub := range m.desired {
		affected[sub.Spec.Exchange] = struct{}{}
	}
	for sub := range desired {
		affected[sub.Spec.Exchange] = struct{}{}
	}
	m.desired = desired

	var workers []*worker
	for name := range affected {
		w, ok := m.workerMap[name]
		if !ok {
			ex, err := m.exchanges.Lookup(name)
			if err != nil {
				slog.Warn("subscription refers to an unknown exchange (ignored)", "exchange", name)
				continue
			}
			w = &worker{m: m, name: name, ex: ex, wakeCh: make(chan struct{}, 1)}
			m.workerMap[name] = w
			m.cg.Go(w.run)
		}
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.wake()
	}
}

// Feeds returns a snapshot of the open physical streams.
func (m *Multiplexer) Feeds() []*FeedInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []*FeedInfo
	for _, fs := range m.feedMap {
		if fs.dead {
			continue
		}
		info := &FeedInfo{
			Exchange: fs.key.exchange,
			Kind:     fs.key.kind,
			Polled:   fs.polled,
		}
		for spec := range fs.specs {
			info.Pairs = append(info.Pairs, spec.Pair())
		}
		sort.Strings(info.Pairs)
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Exchange != infos[j].Exchange {
			return infos[i].Exchange < infos[j].Exchange
		}
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

func (m *Multiplexer) publish(ev exchange.Event) {
	switch v := ev.(type) {
	case *exchange.TickerEvent:
		m.tickerTopic.Send(v)
	case *exchange.OrderBookEvent:
		m.orderBookTopic.Send(v)
	case *exchange.TradeEvent:
		m.tradeTopic.Send(v)
	case *exchange.OrderEvent:
		m.openOrderTopic.Send(v)
	case *exchange.UserTradeEvent:
		m.userTradeTopic.Send(v)
	case *exchange.BalanceEvent:
		m.balanceTopic.Send(v)
	default:
		slog.Error("received market event of unknown type (dropped)", "kind", ev.EventKind())
	}
}
