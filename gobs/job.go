// Copyright (c) 2025 BVK Chaitanya

package gobs

import "github.com/shopspring/decimal"

// JobData is the per-job metadata record in the jobs keyspace. Strategy
// specific state is saved separately under the strategy's own keyspace with
// the same uid.
type JobData struct {
	ID       string
	Typename string

	// Status is one of CREATED, RUNNING, SUCCESS or FAILURE_PERMANENT. Jobs
	// found in RUNNING status at process startup are resumed automatically.
	Status string

	// Message carries the last terminal status message, if any.
	Message string
}

// TrailingStopState is the persisted definition of one trailing-stop job. The
// whole value is replaced on every trail adjustment.
type TrailingStopState struct {
	ProductSpec TickerSpec

	// Direction is BUY or SELL.
	Direction string

	Size       decimal.Decimal
	LimitPrice decimal.Decimal

	StartPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	LastSyncPrice decimal.Decimal
}

// LimitOrderState is the persisted definition of one limit-order job.
type LimitOrderState struct {
	ProductSpec TickerSpec

	Direction string

	Size       decimal.Decimal
	LimitPrice decimal.Decimal

	// ClientOrderID makes order creation idempotent across restarts and
	// transient retries.
	ClientOrderID string

	// ServerOrderID is set once the exchange accepts the order.
	ServerOrderID string
}
