// Copyright (c) 2025 BVK Chaitanya

// Package limit implements a fire-and-forget limit order job. The order is
// placed during startup and the job finishes as soon as the exchange accepts
// it; fill tracking is left to the exchange's own order management.
package limit

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/bvk/stopbot/job"
	"github.com/bvk/stopbot/kvutil"
	"github.com/bvkgo/kv"
)

const Typename = "LimitOrder"

const Keyspace = "/limit-orders/"

type Definition struct {
	uid string

	state gobs.LimitOrderState
}

var _ job.Definition = &Definition{}

func NewDefinition(uid string, state *gobs.LimitOrderState) (*Definition, error) {
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

func checkState(state *gobs.LimitOrderState) error {
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
	if state.LimitPrice.IsZero() || state.LimitPrice.IsNegative() {
		return fmt.Errorf("limit price must be positive: %w", os.ErrInvalid)
	}
	if len(state.ClientOrderID) == 0 {
		return fmt.Errorf("client order id cannot be empty: %w", os.ErrInvalid)
	}
	return nil
}

// Order is the live processor for one limit order job.
type Order struct {
	rt *job.Runtime

	uid string

	state gobs.LimitOrderState
}

var _ job.Processor = &Order{}

// New loads the saved limit order job with the given uid.
func New(ctx context.Context, rt *job.Runtime, uid string) (job.Processor, error) {
	state, err := kvutil.GetDB[gobs.LimitOrderState](ctx, rt.Database, path.Join(Keyspace, uid))
	if err != nil {
		return nil, fmt.Errorf("could not load limit order state for %q: %w", uid, err)
	}
	if err := checkState(state); err != nil {
		return nil, err
	}
	return &Order{rt: rt, uid: uid, state: *state}, nil
}

// Start places the order and finishes the job. The order is skipped when a
// server order id is already recorded, which makes restarts after a crash
// idempotent together with the client order id.
func (o *Order) Start(ctx context.Context, ctl job.Control) (<-chan exchange.Event, error) {
	spec := exchange.TickerSpec(o.state.ProductSpec)

	if len(o.state.ServerOrderID) == 0 {
		ex, err := o.rt.Exchanges.Lookup(o.state.ProductSpec.Exchange)
		if err != nil {
			return nil, err
		}
		id, err := ex.PlaceLimitOrder(ctx, o.state.ClientOrderID, spec, o.state.Direction, o.state.Size, o.state.LimitPrice)
		if err != nil {
			return nil, fmt.Errorf("could not place limit order: %w", err)
		}

		nstate := o.state
		nstate.ServerOrderID = string(id)
		ndef := &Definition{uid: o.uid, state: nstate}
		if err := ctl.Replace(ctx, ndef); err != nil {
			return nil, fmt.Errorf("could not record server order id %q: %w", id, err)
		}
		o.state = nstate
	}

	msg := fmt.Sprintf("limit order %s is placed on %s as %s %s at price %s (server order id %s)",
		o.uid, spec, o.state.Direction, o.state.Size, o.state.LimitPrice, o.state.ServerOrderID)
	o.rt.Notifier.Info(msg)
	ctl.Finish(job.Success, msg)
	return nil, nil
}

func (o *Order) Tick(ctx context.Context, ctl job.Control, ev exchange.Event) error {
	return nil
}

func (o *Order) Stop(ctx context.Context) error {
	return nil
}
