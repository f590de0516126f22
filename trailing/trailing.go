// Copyright (c) 2025 BVK Chaitanya

// Package trailing implements a trailing stop-loss/stop-buy job. The stop
// price follows the market on favorable moves and never reverses; when the
// market crosses the stop price a limit order job is spawned at the
// configured limit price and the trailing job finishes.
package trailing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/bvk/stopbot/idgen"
	"github.com/bvk/stopbot/job"
	"github.com/bvk/stopbot/kvutil"
	"github.com/bvk/stopbot/limit"
	"github.com/bvk/stopbot/marketdata"
	"github.com/bvkgo/kv"
	"github.com/shopspring/decimal"
)

const Typename = "TrailingStop"

const Keyspace = "/trailing-stops/"

// Definition is the persisted form of one trailing stop job.
type Definition struct {
	uid string

	state gobs.TrailingStopState
}

var _ job.Definition = &Definition{}

func NewDefinition(uid string, state *gobs.TrailingStopState) (*Definition, error) {
	if err := checkState(state); err != nil {
		return nil, err
	}
	return &Definition{uid: uid, state: *state}, nil
}

func (d *Definition) UID() string {
	return d.uid
}

func (d *Definition) Typename() string {
	return Typename
}

func (d *Definition) Save(ctx context.Context, rw kv.ReadWriter) error {
	return kvutil.Set(ctx, rw, path.Join(Keyspace, d.uid), &d.state)
}

func checkState(state *gobs.TrailingStopState) error {
	spec := exchange.TickerSpec(state.ProductSpec)
	if err := spec.Check(); err != nil {
		return err
	}
	if state.Direction != "BUY" && state.Direction != "SELL" {
		return fmt.Errorf("direction must be BUY or SELL: %w", os.ErrInvalid)
	}
	if state.Size.IsZero() || state.Size.IsNegative() {
		return fmt.Errorf("size must be positive: %w", os.ErrInvalid)
	}
	if state.StopPrice.IsZero() || state.StopPrice.IsNegative() {
		return fmt.Errorf("stop price must be positive: %w", os.ErrInvalid)
	}
	if state.LimitPrice.IsZero() || state.LimitPrice.IsNegative() {
		return fmt.Errorf("limit price must be positive: %w", os.ErrInvalid)
	}
	if state.Direction == "SELL" && state.StopPrice.GreaterThanOrEqual(state.LastSyncPrice) {
		return fmt.Errorf("sell stop price must be below the market price: %w", os.ErrInvalid)
	}
	if state.Direction == "BUY" && state.StopPrice.LessThanOrEqual(state.LastSyncPrice) {
		return fmt.Errorf("buy stop price must be above the market price: %w", os.ErrInvalid)
	}
	return nil
}

// Stop is the live processor for one trailing stop job.
type Stop struct {
	rt *job.Runtime

	uid string

	state gobs.TrailingStopState

	product *exchange.Product

	handle *marketdata.Handle
}

var _ job.Processor = &Stop{}

// New loads the saved trailing stop job with the given uid.
func New(ctx context.Context, rt *job.Runtime, uid string) (job.Processor, error) {
	state, err := kvutil.GetDB[gobs.TrailingStopState](ctx, rt.Database, path.Join(Keyspace, uid))
	if err != nil {
		return nil, fmt.Errorf("could not load trailing stop state for %q: %w", uid, err)
	}
	if err := checkState(state); err != nil {
		return nil, err
	}
	return &Stop{rt: rt, uid: uid, state: *state}, nil
}

func (s *Stop) spec() exchange.TickerSpec {
	return exchange.TickerSpec(s.state.ProductSpec)
}

func (s *Stop) Start(ctx context.Context, ctl job.Control) (<-chan exchange.Event, error) {
	ex, err := s.rt.Exchanges.Lookup(s.state.ProductSpec.Exchange)
	if err != nil {
		return nil, err
	}
	product, err := ex.GetProduct(ctx, s.spec())
	if err != nil {
		return nil, fmt.Errorf("could not fetch product metadata for %s: %w", s.spec(), err)
	}
	s.product = product

	s.handle = s.rt.Bus.Subscribe(exchange.Subscription{Spec: s.spec(), Kind: exchange.Ticker})
	eventCh, err := s.handle.Events()
	if err != nil {
		return nil, err
	}
	return eventCh, nil
}

func (s *Stop) Stop(ctx context.Context) error {
	if s.handle != nil {
		return s.handle.Close()
	}
	return nil
}

func (s *Stop) Tick(ctx context.Context, ctl job.Control, ev exchange.Event) error {
	tick, ok := ev.(*exchange.TickerEvent)
	if !ok || tick.Spec != s.spec() {
		return nil
	}

	if !tick.Bid.Valid || !tick.Ask.Valid {
		msg := fmt.Sprintf("trailing stop %s: market %s has no counterparty (bid or ask is absent)", s.uid, s.spec())
		s.rt.Notifier.Error(msg)
		return job.Permanent(errors.New(msg))
	}

	stopPrice := s.state.StopPrice.Round(s.product.PriceScale)

	switch s.state.Direction {
	case "SELL":
		bid := tick.Bid.Decimal
		if bid.LessThanOrEqual(stopPrice) {
			return s.trigger(ctx, ctl, bid)
		}
		if bid.GreaterThan(s.state.LastSyncPrice) {
			return s.trail(ctx, ctl, bid)
		}

	case "BUY":
		ask := tick.Ask.Decimal
		if ask.GreaterThanOrEqual(stopPrice) {
			return s.trigger(ctx, ctl, ask)
		}
		if ask.LessThan(s.state.LastSyncPrice) {
			return s.trail(ctx, ctl, ask)
		}
	}
	return nil
}

// trail moves the stop price by the favorable price delta and persists the
// adjusted definition. The stop never re-widens on adverse moves.
func (s *Stop) trail(ctx context.Context, ctl job.Control, price decimal.Decimal) error {
	nstate := s.state
	nstate.StopPrice = s.state.StopPrice.Add(price.Sub(s.state.LastSyncPrice))
	nstate.LastSyncPrice = price

	ndef := &Definition{uid: s.uid, state: nstate}
	if err := ctl.Replace(ctx, ndef); err != nil {
		return fmt.Errorf("could not persist adjusted stop price: %w", err)
	}
	s.state = nstate
	return nil
}

// trigger spawns the limit order job and finishes. The spawned job's uid is
// derived deterministically from this job's uid, so a retried trigger after
// a crash cannot place a second order.
func (s *Stop) trigger(ctx context.Context, ctl job.Control, price decimal.Decimal) error {
	limitUID := idgen.New(s.uid, 0).NextID().String()

	lstate := &gobs.LimitOrderState{
		ProductSpec:   s.state.ProductSpec,
		Direction:     s.state.Direction,
		Size:          s.state.Size,
		LimitPrice:    s.state.LimitPrice,
		ClientOrderID: limitUID,
	}
	ldef, err := limit.NewDefinition(limitUID, lstate)
	if err != nil {
		return err
	}

	// Submit is idempotent, so a retried trigger restarts a limit job left
	// behind in CREATED status by an earlier failed attempt.
	if _, err := s.rt.Submitter.Submit(ctx, ldef); err != nil {
		return fmt.Errorf("could not submit limit order job: %w", err)
	}

	msg := fmt.Sprintf("trailing stop %s has triggered at %s %s; submitted %s limit order %s at price %s",
		s.uid, s.spec(), price, s.state.Direction, limitUID, s.state.LimitPrice)
	s.rt.Notifier.Info(msg)
	ctl.Finish(job.Success, msg)
	return nil
}
