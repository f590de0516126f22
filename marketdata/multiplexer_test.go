// Copyright (c) 2025 BVK Chaitanya

package marketdata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/shopspring/decimal"
)

type fakeFeed struct {
	ex    *fakeExchange
	specs []exchange.TickerSpec

	closeOnce sync.Once
	closed    bool
	eventCh   chan exchange.Event
}

func (f *fakeFeed) Close() error {
	f.closeOnce.Do(func() {
		f.ex.mu.Lock()
		f.closed = true
		f.ex.mu.Unlock()
		close(f.eventCh)
	})
	return nil
}

func (f *fakeFeed) Events() <-chan exchange.Event {
	return f.eventCh
}

func (f *fakeFeed) send(ev exchange.Event) {
	f.eventCh <- ev
}

type fakeExchange struct {
	name string

	streamable    map[exchange.DataKind]bool
	multiplexable map[exchange.DataKind]bool

	mu        sync.Mutex
	feeds     []*fakeFeed
	openFails int
	numOpens  int
	numPolls  int
}

func newFakeExchange(name string) *fakeExchange {
	return &fakeExchange{
		name: name,
		streamable: map[exchange.DataKind]bool{
			exchange.Ticker: true,
		},
		multiplexable: map[exchange.DataKind]bool{
			exchange.Ticker: true,
		},
	}
}

func (f *fakeExchange) Close() error {
	return nil
}

func (f *fakeExchange) ExchangeName() string {
	return f.name
}

func (f *fakeExchange) CanStream(kind exchange.DataKind) bool {
	return f.streamable[kind]
}

func (f *fakeExchange) CanMultiplex(kind exchange.DataKind) bool {
	return f.multiplexable[kind]
}

func (f *fakeExchange) OpenFeed(ctx context.Context, kind exchange.DataKind, specs []exchange.TickerSpec) (exchange.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.numOpens++
	if f.openFails > 0 {
		f.openFails--
		return nil, fmt.Errorf("stream open has failed (fake)")
	}
	feed := &fakeFeed{
		ex:      f,
		specs:   specs,
		eventCh: make(chan exchange.Event),
	}
	f.feeds = append(f.feeds, feed)
	return feed, nil
}

func (f *fakeExchange) Poll(ctx context.Context, kind exchange.DataKind, spec exchange.TickerSpec) ([]exchange.Event, error) {
	f.mu.Lock()
	f.numPolls++
	f.mu.Unlock()

	ev := &exchange.TickerEvent{
		Spec: spec,
		At:   gobs.RemoteTime{Time: time.Now()},
		Last: decimal.NewNullDecimal(decimal.NewFromInt(100)),
	}
	return []exchange.Event{ev}, nil
}

func (f *fakeExchange) GetProduct(ctx context.Context, spec exchange.TickerSpec) (*exchange.Product, error) {
	return &exchange.Product{
		Spec:           spec,
		PriceScale:     2,
		BaseMinSize:    decimal.New(1, -4),
		QuoteIncrement: decimal.New(1, -2),
	}, nil
}

func (f *fakeExchange) PlaceLimitOrder(ctx context.Context, clientOrderID string, spec exchange.TickerSpec, side string, size, price decimal.Decimal) (exchange.OrderID, error) {
	return exchange.OrderID(clientOrderID), nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, spec exchange.TickerSpec, id exchange.OrderID) error {
	return nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, spec exchange.TickerSpec, id exchange.OrderID) (*gobs.Order, error) {
	return &gobs.Order{ServerOrderID: string(id)}, nil
}

func (f *fakeExchange) openFeeds() []*fakeFeed {
	f.mu.Lock()
	defer f.mu.Unlock()

	var open []*fakeFeed
	for _, feed := range f.feeds {
		if !feed.closed {
			open = append(open, feed)
		}
	}
	return open
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	for i := 0; i < 1000; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition did not become true in time")
}

func tickerSub(name, base, counter string) exchange.Subscription {
	return exchange.Subscription{
		Spec: exchange.TickerSpec{Exchange: name, Base: base, Counter: counter},
		Kind: exchange.Ticker,
	}
}

func TestMultiplexerConvergence(t *testing.T) {
	fex := newFakeExchange("fake")
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := New(registry, nil)
	defer mux.Close()

	btc := tickerSub("fake", "BTC", "USD")
	eth := tickerSub("fake", "ETH", "USD")

	mux.UpdateSubscriptions([]exchange.Subscription{btc})
	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 1
	})

	// Adding a pair to a multiplexed kind replaces the single stream.
	mux.UpdateSubscriptions([]exchange.Subscription{btc, eth})
	waitFor(t, func() bool {
		feeds := fex.openFeeds()
		return len(feeds) == 1 && len(feeds[0].specs) == 2
	})

	// Repeating the same desired set is a no-op.
	before := fex.openFeeds()
	mux.UpdateSubscriptions([]exchange.Subscription{eth, btc})
	time.Sleep(50 * time.Millisecond)
	after := fex.openFeeds()
	if len(after) != 1 || after[0] != before[0] {
		t.Fatalf("unchanged subscription set must not reopen streams")
	}

	mux.UpdateSubscriptions(nil)
	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 0
	})
}

func TestMultiplexerPerPairStreams(t *testing.T) {
	fex := newFakeExchange("fake")
	fex.multiplexable[exchange.Ticker] = false
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := New(registry, nil)
	defer mux.Close()

	mux.UpdateSubscriptions([]exchange.Subscription{
		tickerSub("fake", "BTC", "USD"),
		tickerSub("fake", "ETH", "USD"),
	})
	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 2
	})

	// Dropping one pair closes only that pair's stream.
	mux.UpdateSubscriptions([]exchange.Subscription{
		tickerSub("fake", "BTC", "USD"),
	})
	waitFor(t, func() bool {
		feeds := fex.openFeeds()
		return len(feeds) == 1 && feeds[0].specs[0].Base == "BTC"
	})
}

func TestMultiplexerReopensDeadFeeds(t *testing.T) {
	fex := newFakeExchange("fake")
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := New(registry, &Options{RetryInterval: 5 * time.Millisecond})
	defer mux.Close()

	mux.UpdateSubscriptions([]exchange.Subscription{tickerSub("fake", "BTC", "USD")})
	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 1
	})

	fex.openFeeds()[0].Close()
	waitFor(t, func() bool {
		feeds := fex.openFeeds()
		return len(feeds) == 1
	})
}

func TestMultiplexerRetriesOpenFailures(t *testing.T) {
	fex := newFakeExchange("fake")
	fex.openFails = 3
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := New(registry, &Options{RetryInterval: 5 * time.Millisecond})
	defer mux.Close()

	mux.UpdateSubscriptions([]exchange.Subscription{tickerSub("fake", "BTC", "USD")})
	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 1
	})

	fex.mu.Lock()
	numOpens := fex.numOpens
	fex.mu.Unlock()
	if numOpens < 4 {
		t.Fatalf("expected at least 4 open attempts, got %d", numOpens)
	}
}

func TestMultiplexerPollFallback(t *testing.T) {
	fex := newFakeExchange("fake")
	fex.streamable[exchange.Ticker] = false
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := New(registry, &Options{PollInterval: 5 * time.Millisecond})
	defer mux.Close()

	mux.UpdateSubscriptions([]exchange.Subscription{tickerSub("fake", "BTC", "USD")})
	waitFor(t, func() bool {
		fex.mu.Lock()
		defer fex.mu.Unlock()
		return fex.numPolls >= 2
	})

	infos := mux.Feeds()
	if len(infos) != 1 || !infos[0].Polled {
		t.Fatalf("expected one polled feed, got %#v", infos)
	}
}

func TestMultiplexerUnknownExchange(t *testing.T) {
	registry := exchange.NewRegistry()

	mux := New(registry, nil)
	defer mux.Close()

	// Must not panic or wedge.
	mux.UpdateSubscriptions([]exchange.Subscription{tickerSub("nosuch", "BTC", "USD")})
	mux.UpdateSubscriptions(nil)
}
