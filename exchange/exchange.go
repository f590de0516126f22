// Copyright (c) 2025 BVK Chaitanya

// Package exchange defines the data model for market data feeds and the
// interface implemented by exchange adapters.
package exchange

import (
	"context"
	"fmt"
	"io"

	"github.com/bvk/stopbot/gobs"
	"github.com/shopspring/decimal"
)

// DataKind names one logical kind of market data on an exchange.
type DataKind string

const (
	Ticker     DataKind = "TICKER"
	OrderBook  DataKind = "ORDERBOOK"
	Trades     DataKind = "TRADES"
	UserTrades DataKind = "USER_TRADE_HISTORY"
	OpenOrders DataKind = "OPEN_ORDERS"
	Balance    DataKind = "BALANCE"
)

// TickerSpec identifies one tradeable pair on one exchange. It is a value
// type with equality by value.
type TickerSpec gobs.TickerSpec

func (s TickerSpec) String() string {
	return fmt.Sprintf("%s:%s-%s", s.Exchange, s.Base, s.Counter)
}

// Pair returns the exchange-independent pair name, eg. "BTC-USD".
func (s TickerSpec) Pair() string {
	return s.Base + "-" + s.Counter
}

func (s TickerSpec) Check() error {
	if len(s.Exchange) == 0 {
		return fmt.Errorf("exchange name cannot be empty")
	}
	if len(s.Base) == 0 || len(s.Counter) == 0 {
		return fmt.Errorf("base/counter currencies cannot be empty")
	}
	return nil
}

// Subscription identifies one logical market data feed. It is the unit of
// subscription demand and reference counting.
type Subscription struct {
	Spec TickerSpec
	Kind DataKind
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s/%s", s.Spec, s.Kind)
}

type OrderID string

// Product holds exchange-defined metadata for one tradeable pair.
type Product struct {
	Spec TickerSpec

	// PriceScale is the number of decimal places in a valid price.
	PriceScale int32

	BaseMinSize    decimal.Decimal
	QuoteIncrement decimal.Decimal
}

// Feed is one open physical stream from an exchange. Received events are
// delivered on the Events channel, which is closed when the stream dies or
// is closed. Close is idempotent.
type Feed interface {
	io.Closer

	Events() <-chan Event
}

// Exchange is the connectivity collaborator implemented by each exchange
// adapter. All errors returned by an Exchange are treated as retryable by the
// callers unless explicitly classified otherwise.
type Exchange interface {
	io.Closer

	ExchangeName() string

	// CanStream reports whether the exchange can push events of the given
	// kind over a live stream. Kinds without push capability are polled.
	CanStream(kind DataKind) bool

	// CanMultiplex reports whether one physical stream of the given kind can
	// serve multiple pairs. When false, one stream is opened per pair.
	CanMultiplex(kind DataKind) bool

	// OpenFeed opens one physical stream delivering events of the given kind
	// for all the given specs. Opening may block on network I/O.
	OpenFeed(ctx context.Context, kind DataKind, specs []TickerSpec) (Feed, error)

	// Poll fetches a current snapshot of the given kind for the given spec.
	Poll(ctx context.Context, kind DataKind, spec TickerSpec) ([]Event, error)

	GetProduct(ctx context.Context, spec TickerSpec) (*Product, error)

	// PlaceLimitOrder submits a limit order. Side is BUY or SELL. The client
	// order id makes retries idempotent where the exchange supports it.
	PlaceLimitOrder(ctx context.Context, clientOrderID string, spec TickerSpec, side string, size, price decimal.Decimal) (OrderID, error)

	CancelOrder(ctx context.Context, spec TickerSpec, id OrderID) error

	GetOrder(ctx context.Context, spec TickerSpec, id OrderID) (*gobs.Order, error)
}
