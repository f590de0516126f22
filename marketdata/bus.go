// Copyright (c) 2025 BVK Chaitanya

package marketdata

import (
	"context"
	"strings"
	"sync"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/exchange"
	"github.com/visvasity/topic"
)

// Bus hands out reference-counted subscription handles over the shared
// multiplexer. Multiple handles for the same subscription share one physical
// stream; the stream is torn down only when the last handle is closed.
type Bus struct {
	mux *Multiplexer

	mu     sync.Mutex
	refMap map[exchange.Subscription]int
}

func NewBus(mux *Multiplexer) *Bus {
	return &Bus{
		mux:    mux,
		refMap: make(map[exchange.Subscription]int),
	}
}

func (b *Bus) unionLocked() []exchange.Subscription {
	subs := make([]exchange.Subscription, 0, len(b.refMap))
	for sub := range b.refMap {
		subs = append(subs, sub)
	}
	return subs
}

// Subscribe acquires the given subscriptions and returns a handle exposing
// their event sequences. Duplicate subscriptions in the argument list are
// counted once.
func (b *Bus) Subscribe(subs ...exchange.Subscription) *Handle {
	h := &Handle{
		bus:    b,
		subMap: make(map[exchange.Subscription]struct{}, len(subs)),
	}
	for _, sub := range subs {
		h.subMap[normalize(sub)] = struct{}{}
	}

	// The union is applied under b.mu so concurrent Subscribe/Close calls
	// cannot install their snapshots out of order at the multiplexer.
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range h.subMap {
		b.refMap[sub]++
	}
	b.mux.UpdateSubscriptions(b.unionLocked())
	return h
}

func (b *Bus) release(subMap map[exchange.Subscription]struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range subMap {
		if n := b.refMap[sub]; n <= 1 {
			delete(b.refMap, sub)
		} else {
			b.refMap[sub] = n - 1
		}
	}
	b.mux.UpdateSubscriptions(b.unionLocked())
}

// Handle represents one subscriber's acquired subscriptions. Event channels
// returned by the handle deliver only events matching the handle's own
// subscription set, starting from the subscription point (no replay of
// earlier data). Close is idempotent; after Close returns no channel
// receives further events.
type Handle struct {
	bus *Bus

	subMap map[exchange.Subscription]struct{}

	cg ctxutil.CloseGroup

	closeOnce sync.Once
}

func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.cg.Close()
		h.bus.release(h.subMap)
	})
	return nil
}

func (h *Handle) wants(kind exchange.DataKind, spec exchange.TickerSpec) bool {
	sub := normalize(exchange.Subscription{Spec: spec, Kind: kind})
	_, ok := h.subMap[sub]
	return ok
}

func (h *Handle) wantsBalance(exg, currency string) bool {
	for sub := range h.subMap {
		if sub.Kind != exchange.Balance {
			continue
		}
		if !strings.EqualFold(sub.Spec.Exchange, exg) {
			continue
		}
		if strings.EqualFold(sub.Spec.Base, currency) || strings.EqualFold(sub.Spec.Counter, currency) {
			return true
		}
	}
	return false
}

// subscribe attaches a filtered receiver for one topic. Ticker channels use
// a one-element topic buffer, so a slow consumer observes the most recent
// price instead of a backlog; all other kinds are buffered without loss.
func subscribe[T exchange.Event](h *Handle, t *topic.Topic[T], limit int, match func(T) bool) (<-chan T, error) {
	recv, err := topic.Subscribe(t, limit, false /* includeRecent */)
	if err != nil {
		return nil, err
	}

	outCh := make(chan T)
	h.cg.Go(func(ctx context.Context) {
		defer close(outCh)
		defer recv.Close()
		stop := context.AfterFunc(ctx, func() {
			recv.Close()
		})
		defer stop()

		for {
			ev, err := recv.Receive()
			if err != nil {
				return
			}
			if !match(ev) {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case outCh <- ev:
			}
		}
	})
	return outCh, nil
}

func (h *Handle) Tickers() (<-chan *exchange.TickerEvent, error) {
	return subscribe(h, h.bus.mux.tickerTopic, 1, func(ev *exchange.TickerEvent) bool {
		return h.wants(exchange.Ticker, ev.Spec)
	})
}

func (h *Handle) OrderBooks() (<-chan *exchange.OrderBookEvent, error) {
	return subscribe(h, h.bus.mux.orderBookTopic, 0, func(ev *exchange.OrderBookEvent) bool {
		return h.wants(exchange.OrderBook, ev.Spec)
	})
}

func (h *Handle) Trades() (<-chan *exchange.TradeEvent, error) {
	return subscribe(h, h.bus.mux.tradeTopic, 0, func(ev *exchange.TradeEvent) bool {
		return h.wants(exchange.Trades, ev.Spec)
	})
}

func (h *Handle) OpenOrders() (<-chan *exchange.OrderEvent, error) {
	return subscribe(h, h.bus.mux.openOrderTopic, 0, func(ev *exchange.OrderEvent) bool {
		return h.wants(exchange.OpenOrders, ev.Spec)
	})
}

func (h *Handle) UserTrades() (<-chan *exchange.UserTradeEvent, error) {
	return subscribe(h, h.bus.mux.userTradeTopic, 0, func(ev *exchange.UserTradeEvent) bool {
		return h.wants(exchange.UserTrades, ev.Spec)
	})
}

func (h *Handle) Balances() (<-chan *exchange.BalanceEvent, error) {
	return subscribe(h, h.bus.mux.balanceTopic, 0, func(ev *exchange.BalanceEvent) bool {
		return h.wantsBalance(ev.Exchange, ev.Currency)
	})
}

func forward[T exchange.Event](h *Handle, inCh <-chan T, outCh chan<- exchange.Event, wg *sync.WaitGroup) {
	wg.Add(1)
	h.cg.Go(func(ctx context.Context) {
		defer wg.Done()
		for ev := range inCh {
			select {
			case <-ctx.Done():
				return
			case outCh <- ev:
			}
		}
	})
}

// Events merges all of the handle's subscribed data kinds into a single
// channel. The merged channel is closed after the handle is closed.
func (h *Handle) Events() (<-chan exchange.Event, error) {
	kindSet := make(map[exchange.DataKind]struct{})
	for sub := range h.subMap {
		kindSet[sub.Kind] = struct{}{}
	}

	outCh := make(chan exchange.Event)
	var wg sync.WaitGroup
	for kind := range kindSet {
		switch kind {
		case exchange.Ticker:
			ch, err := h.Tickers()
			if err != nil {
				return nil, err
			}
			forward(h, ch, outCh, &wg)
		case exchange.OrderBook:
			ch, err := h.OrderBooks()
			if err != nil {
				return nil, err
			}
			forward(h, ch, outCh, &wg)
		case exchange.Trades:
			ch, err := h.Trades()
			if err != nil {
				return nil, err
			}
			forward(h, ch, outCh, &wg)
		case exchange.OpenOrders:
			ch, err := h.OpenOrders()
			if err != nil {
				return nil, err
			}
			forward(h, ch, outCh, &wg)
		case exchange.UserTrades:
			ch, err := h.UserTrades()
			if err != nil {
				return nil, err
			}
			forward(h, ch, outCh, &wg)
		case exchange.Balance:
			ch, err := h.Balances()
			if err != nil {
				return nil, err
			}
			forward(h, ch, outCh, &wg)
		}
	}

	go func() {
		wg.Wait()
		close(outCh)
	}()
	return outCh, nil
}
