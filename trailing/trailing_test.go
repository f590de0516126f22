// Copyright (c) 2025 BVK Chaitanya

package trailing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/bvk/stopbot/idgen"
	"github.com/bvk/stopbot/job"
	"github.com/bvk/stopbot/kvutil"
	"github.com/bvk/stopbot/limit"
	"github.com/bvk/stopbot/marketdata"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/shopspring/decimal"
)

var testSpec = gobs.TickerSpec{Exchange: "fake", Base: "BTC", Counter: "USD"}

type fakeControl struct {
	replaces []job.Definition

	finished bool
	status   job.Status
	message  string
}

func (c *fakeControl) Replace(ctx context.Context, def job.Definition) error {
	c.replaces = append(c.replaces, def)
	return nil
}

func (c *fakeControl) Finish(status job.Status, message string) {
	c.finished = true
	c.status, c.message = status, message
}

type fakeSubmitter struct {
	fail error

	defs []job.Definition
}

func (s *fakeSubmitter) Submit(ctx context.Context, def job.Definition) (string, error) {
	if s.fail != nil {
		return "", s.fail
	}
	s.defs = append(s.defs, def)
	return def.UID(), nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (n *fakeNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *fakeNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *fakeNotifier) numErrors() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ticker(bid, ask string) *exchange.TickerEvent {
	ev := &exchange.TickerEvent{
		Spec: exchange.TickerSpec(testSpec),
		At:   gobs.RemoteTime{Time: time.Now()},
	}
	if len(bid) > 0 {
		ev.Bid = decimal.NewNullDecimal(dec(bid))
	}
	if len(ask) > 0 {
		ev.Ask = decimal.NewNullDecimal(dec(ask))
	}
	return ev
}

func newTestStop(t *testing.T, state *gobs.TrailingStopState) (*Stop, *fakeSubmitter, *fakeNotifier) {
	t.Helper()

	if err := checkState(state); err != nil {
		t.Fatal(err)
	}
	submitter := new(fakeSubmitter)
	notifier := new(fakeNotifier)
	rt := &job.Runtime{
		Database:  kvmemdb.New(),
		Submitter: submitter,
		Notifier:  notifier,
	}
	s := &Stop{
		rt:      rt,
		uid:     "test-stop",
		state:   *state,
		product: &exchange.Product{Spec: exchange.TickerSpec(testSpec), PriceScale: 2},
	}
	return s, submitter, notifier
}

func TestSellTrailAndTrigger(t *testing.T) {
	ctx := context.Background()
	s, submitter, _ := newTestStop(t, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("0.5"),
		LimitPrice:    dec("94"),
		StartPrice:    dec("100"),
		StopPrice:     dec("95"),
		LastSyncPrice: dec("100"),
	})
	ctl := new(fakeControl)

	// At the last-sync price nothing changes.
	if err := s.Tick(ctx, ctl, ticker("100", "100.1")); err != nil {
		t.Fatal(err)
	}
	if len(ctl.replaces) != 0 || ctl.finished {
		t.Fatalf("tick at last-sync price must be a no-op")
	}

	// A rise trails the stop by the same delta.
	if err := s.Tick(ctx, ctl, ticker("105", "105.1")); err != nil {
		t.Fatal(err)
	}
	if len(ctl.replaces) != 1 {
		t.Fatalf("replace calls: got %d, want 1", len(ctl.replaces))
	}
	if !s.state.StopPrice.Equal(dec("100")) {
		t.Fatalf("stop price: got %s, want 100", s.state.StopPrice)
	}
	if !s.state.LastSyncPrice.Equal(dec("105")) {
		t.Fatalf("last sync price: got %s, want 105", s.state.LastSyncPrice)
	}

	// A fall does not re-widen the stop.
	if err := s.Tick(ctx, ctl, ticker("103", "103.1")); err != nil {
		t.Fatal(err)
	}
	if len(ctl.replaces) != 1 || ctl.finished {
		t.Fatalf("falling bid above the stop must be a no-op")
	}

	// Bid at the stop price triggers the limit order and finishes.
	if err := s.Tick(ctx, ctl, ticker("100", "100.1")); err != nil {
		t.Fatal(err)
	}
	if !ctl.finished || ctl.status != job.Success {
		t.Fatalf("job must finish with SUCCESS, got %v %v", ctl.finished, ctl.status)
	}
	if len(submitter.defs) != 1 {
		t.Fatalf("submitted jobs: got %d, want 1", len(submitter.defs))
	}
	ldef, ok := submitter.defs[0].(*limit.Definition)
	if !ok || ldef.Typename() != limit.Typename {
		t.Fatalf("submitted job type: got %T", submitter.defs[0])
	}
}

func TestBuyTrailAndTrigger(t *testing.T) {
	ctx := context.Background()
	s, submitter, _ := newTestStop(t, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "BUY",
		Size:          dec("0.5"),
		LimitPrice:    dec("106"),
		StartPrice:    dec("100"),
		StopPrice:     dec("105"),
		LastSyncPrice: dec("100"),
	})
	ctl := new(fakeControl)

	// A fall trails the stop downward.
	if err := s.Tick(ctx, ctl, ticker("94.9", "95")); err != nil {
		t.Fatal(err)
	}
	if !s.state.StopPrice.Equal(dec("100")) {
		t.Fatalf("stop price: got %s, want 100", s.state.StopPrice)
	}
	if !s.state.LastSyncPrice.Equal(dec("95")) {
		t.Fatalf("last sync price: got %s, want 95", s.state.LastSyncPrice)
	}

	// A rise below the stop is a no-op.
	if err := s.Tick(ctx, ctl, ticker("96.9", "97")); err != nil {
		t.Fatal(err)
	}
	if len(ctl.replaces) != 1 || ctl.finished {
		t.Fatalf("rising ask below the stop must be a no-op")
	}

	// Ask at the stop price triggers.
	if err := s.Tick(ctx, ctl, ticker("99.9", "100")); err != nil {
		t.Fatal(err)
	}
	if !ctl.finished || ctl.status != job.Success {
		t.Fatalf("job must finish with SUCCESS, got %v %v", ctl.finished, ctl.status)
	}
	if len(submitter.defs) != 1 {
		t.Fatalf("submitted jobs: got %d, want 1", len(submitter.defs))
	}
}

func TestStopPriceRoundsHalfUp(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStop(t, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("1"),
		LimitPrice:    dec("90"),
		StartPrice:    dec("100"),
		StopPrice:     dec("94.995"),
		LastSyncPrice: dec("100"),
	})
	ctl := new(fakeControl)

	// 94.995 rounds up to 95.00 at price scale 2, so a bid of exactly 95
	// triggers.
	if err := s.Tick(ctx, ctl, ticker("95", "95.1")); err != nil {
		t.Fatal(err)
	}
	if !ctl.finished || ctl.status != job.Success {
		t.Fatalf("bid at the rounded stop price must trigger")
	}
}

func TestAbsentQuoteIsPermanent(t *testing.T) {
	ctx := context.Background()
	s, _, notifier := newTestStop(t, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("1"),
		LimitPrice:    dec("90"),
		StartPrice:    dec("100"),
		StopPrice:     dec("95"),
		LastSyncPrice: dec("100"),
	})
	ctl := new(fakeControl)

	err := s.Tick(ctx, ctl, ticker("100", ""))
	if err == nil || !job.IsPermanent(err) {
		t.Fatalf("absent ask must be a permanent failure, got %v", err)
	}
	if notifier.numErrors() != 1 {
		t.Fatalf("error notifications: got %d, want 1", notifier.numErrors())
	}
}

func TestSubmitFailurePropagates(t *testing.T) {
	ctx := context.Background()
	s, submitter, _ := newTestStop(t, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("1"),
		LimitPrice:    dec("90"),
		StartPrice:    dec("100"),
		StopPrice:     dec("95"),
		LastSyncPrice: dec("100"),
	})
	ctl := new(fakeControl)

	submitter.fail = fmt.Errorf("order placement has failed (test)")
	err := s.Tick(ctx, ctl, ticker("95", "95.1"))
	if err == nil || job.IsPermanent(err) {
		t.Fatalf("submit failure must propagate as a transient error, got %v", err)
	}
	if ctl.finished {
		t.Fatalf("job must not finish when the order submission fails")
	}

	// The next tick succeeds.
	submitter.fail = nil
	if err := s.Tick(ctx, ctl, ticker("95", "95.1")); err != nil {
		t.Fatal(err)
	}
	if !ctl.finished || ctl.status != job.Success {
		t.Fatalf("job must finish after a successful retry")
	}
}

type fakeFeed struct {
	ex *fakeExchange

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

type placedOrder struct {
	clientOrderID string
	side          string
	size, price   decimal.Decimal
}

type fakeExchange struct {
	mu     sync.Mutex
	feeds  []*fakeFeed
	orders []placedOrder
}

func (f *fakeExchange) Close() error                             { return nil }
func (f *fakeExchange) ExchangeName() string                     { return "fake" }
func (f *fakeExchange) CanStream(kind exchange.DataKind) bool    { return true }
func (f *fakeExchange) CanMultiplex(kind exchange.DataKind) bool { return true }

func (f *fakeExchange) OpenFeed(ctx context.Context, kind exchange.DataKind, specs []exchange.TickerSpec) (exchange.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	feed := &fakeFeed{ex: f, eventCh: make(chan exchange.Event)}
	f.feeds = append(f.feeds, feed)
	return feed, nil
}

func (f *fakeExchange) Poll(ctx context.Context, kind exchange.DataKind, spec exchange.TickerSpec) ([]exchange.Event, error) {
	return nil, nil
}

func (f *fakeExchange) GetProduct(ctx context.Context, spec exchange.TickerSpec) (*exchange.Product, error) {
	return &exchange.Product{Spec: spec, PriceScale: 2}, nil
}

func (f *fakeExchange) PlaceLimitOrder(ctx context.Context, clientOrderID string, spec exchange.TickerSpec, side string, size, price decimal.Decimal) (exchange.OrderID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.orders = append(f.orders, placedOrder{clientOrderID, side, size, price})
	return exchange.OrderID("server-" + clientOrderID), nil
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

type nopStatus struct{}

func (nopStatus) Status(uid string, status job.Status, message string) {}

func TestTrailingStopEndToEnd(t *testing.T) {
	ctx := context.Background()

	fex := new(fakeExchange)
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := marketdata.New(registry, nil)
	defer mux.Close()

	rt := &job.Runtime{
		Database:  kvmemdb.New(),
		Bus:       marketdata.NewBus(mux),
		Exchanges: registry,
		Status:    nopStatus{},
		Notifier:  new(fakeNotifier),
	}
	runner := job.NewRunner(rt)
	defer runner.Close()
	runner.Handle(Typename, New)
	runner.Handle(limit.Typename, limit.New)

	uid := "33333333-3333-3333-3333-333333333333"
	def, err := NewDefinition(uid, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("0.5"),
		LimitPrice:    dec("94"),
		StartPrice:    dec("100"),
		StopPrice:     dec("95"),
		LastSyncPrice: dec("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Submit(ctx, def); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 1
	})
	feed := fex.openFeeds()[0]

	send := func(bid, ask string) {
		ev := ticker(bid, ask)
		select {
		case feed.eventCh <- ev:
		case <-time.After(time.Second):
			t.Fatalf("feed is not being consumed")
		}
	}

	// A rise to 105 trails the persisted stop price to 100.
	send("105", "105.1")
	waitFor(t, func() bool {
		state, err := kvutil.GetDB[gobs.TrailingStopState](ctx, rt.Database, Keyspace+uid)
		return err == nil && state.StopPrice.Equal(dec("100"))
	})

	// A fall back to the trailed stop price triggers; the trailing job
	// spawns the limit order job and finishes with SUCCESS.
	send("100", "100.1")
	waitFor(t, func() bool {
		jd, err := runner.Get(ctx, uid)
		return err == nil && jd.Status == string(job.Success)
	})
	waitFor(t, func() bool {
		fex.mu.Lock()
		defer fex.mu.Unlock()
		return len(fex.orders) == 1
	})

	fex.mu.Lock()
	order := fex.orders[0]
	fex.mu.Unlock()
	if order.side != "SELL" || !order.size.Equal(dec("0.5")) || !order.price.Equal(dec("94")) {
		t.Fatalf("unexpected order: %+v", order)
	}

	// The persisted definition carries the trailed last-sync price.
	state, err := kvutil.GetDB[gobs.TrailingStopState](ctx, rt.Database, Keyspace+uid)
	if err != nil {
		t.Fatal(err)
	}
	if !state.LastSyncPrice.Equal(dec("105")) {
		t.Fatalf("persisted last-sync price: got %s, want 105", state.LastSyncPrice)
	}

	// With no live subscribers left, the physical stream is torn down.
	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 0
	})
}

func TestTriggerStartsAbandonedLimitJob(t *testing.T) {
	ctx := context.Background()

	fex := new(fakeExchange)
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := marketdata.New(registry, nil)
	defer mux.Close()

	rt := &job.Runtime{
		Database:  kvmemdb.New(),
		Bus:       marketdata.NewBus(mux),
		Exchanges: registry,
		Status:    nopStatus{},
		Notifier:  new(fakeNotifier),
	}
	runner := job.NewRunner(rt)
	defer runner.Close()
	runner.Handle(Typename, New)
	runner.Handle(limit.Typename, limit.New)

	uid := "55555555-5555-5555-5555-555555555555"
	limitUID := idgen.New(uid, 0).NextID().String()

	// An earlier trigger attempt persisted the limit order job but crashed
	// before it could start, leaving it in CREATED status.
	ldef, err := limit.NewDefinition(limitUID, &gobs.LimitOrderState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("0.5"),
		LimitPrice:    dec("94"),
		ClientOrderID: limitUID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Add(ctx, ldef); err != nil {
		t.Fatal(err)
	}

	def, err := NewDefinition(uid, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("0.5"),
		LimitPrice:    dec("94"),
		StartPrice:    dec("100"),
		StopPrice:     dec("95"),
		LastSyncPrice: dec("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Submit(ctx, def); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 1
	})
	fex.openFeeds()[0].eventCh <- ticker("95", "95.1")

	// The retried trigger must pick up the abandoned limit job instead of
	// leaving it stuck: the order is placed and both jobs finish.
	waitFor(t, func() bool {
		jd, err := runner.Get(ctx, limitUID)
		return err == nil && jd.Status == string(job.Success)
	})
	waitFor(t, func() bool {
		jd, err := runner.Get(ctx, uid)
		return err == nil && jd.Status == string(job.Success)
	})

	fex.mu.Lock()
	orders := append([]placedOrder(nil), fex.orders...)
	fex.mu.Unlock()
	if len(orders) != 1 || orders[0].clientOrderID != limitUID {
		t.Fatalf("placed orders: got %+v, want one with client order id %s", orders, limitUID)
	}
}

func TestAbsentQuoteUnsubscribes(t *testing.T) {
	ctx := context.Background()

	fex := new(fakeExchange)
	registry := exchange.NewRegistry()
	if err := registry.Register(fex); err != nil {
		t.Fatal(err)
	}

	mux := marketdata.New(registry, nil)
	defer mux.Close()

	notifier := new(fakeNotifier)
	rt := &job.Runtime{
		Database:  kvmemdb.New(),
		Bus:       marketdata.NewBus(mux),
		Exchanges: registry,
		Status:    nopStatus{},
		Notifier:  notifier,
	}
	runner := job.NewRunner(rt)
	defer runner.Close()
	runner.Handle(Typename, New)
	runner.Handle(limit.Typename, limit.New)

	uid := "44444444-4444-4444-4444-444444444444"
	def, err := NewDefinition(uid, &gobs.TrailingStopState{
		ProductSpec:   testSpec,
		Direction:     "SELL",
		Size:          dec("1"),
		LimitPrice:    dec("90"),
		StartPrice:    dec("100"),
		StopPrice:     dec("95"),
		LastSyncPrice: dec("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Submit(ctx, def); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 1
	})
	fex.openFeeds()[0].eventCh <- ticker("", "")

	waitFor(t, func() bool {
		jd, err := runner.Get(ctx, uid)
		return err == nil && jd.Status == string(job.PermanentFailure)
	})
	if notifier.numErrors() != 1 {
		t.Fatalf("error notifications: got %d, want 1", notifier.numErrors())
	}

	// The failed job's subscription is released and the stream closed.
	waitFor(t, func() bool {
		return len(fex.openFeeds()) == 0
	})
}
