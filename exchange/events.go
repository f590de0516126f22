// Copyright (c) 2025 BVK Chaitanya

package exchange

import (
	"github.com/bvk/stopbot/gobs"
	"github.com/shopspring/decimal"
)

// Event is the tagged union of all market data event types. Events are
// broadcast with hot-stream semantics; a subscriber only observes events
// emitted after it joined.
type Event interface {
	EventKind() DataKind
}

// TickerEvent carries the best bid/ask and last trade price for a pair. Bid
// or Ask may be invalid when the market has no counterparty on that side.
type TickerEvent struct {
	Spec TickerSpec
	At   gobs.RemoteTime

	Bid  decimal.NullDecimal
	Ask  decimal.NullDecimal
	Last decimal.NullDecimal
}

func (v *TickerEvent) EventKind() DataKind { return Ticker }

type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookEvent carries a snapshot of the top levels of a pair's book.
type OrderBookEvent struct {
	Spec TickerSpec
	At   gobs.RemoteTime

	Bids []PriceLevel
	Asks []PriceLevel
}

func (v *OrderBookEvent) EventKind() DataKind { return OrderBook }

// TradeEvent carries one public trade on a pair.
type TradeEvent struct {
	Spec TickerSpec
	At   gobs.RemoteTime

	Price decimal.Decimal
	Size  decimal.Decimal
	Side  string
}

func (v *TradeEvent) EventKind() DataKind { return Trades }

// OrderEvent carries the current state of one of the user's open orders.
type OrderEvent struct {
	Spec TickerSpec
	At   gobs.RemoteTime

	Order *gobs.Order
}

func (v *OrderEvent) EventKind() DataKind { return OpenOrders }

// UserTradeEvent carries one historical fill from the user's trade history.
type UserTradeEvent struct {
	Spec TickerSpec
	At   gobs.RemoteTime

	Order *gobs.Order
}

func (v *UserTradeEvent) EventKind() DataKind { return UserTrades }

// BalanceEvent carries the free balance of one currency. Balances are scoped
// to an exchange and a currency rather than a pair.
type BalanceEvent struct {
	Exchange string
	Currency string
	At       gobs.RemoteTime

	Available decimal.Decimal
}

func (v *BalanceEvent) EventKind() DataKind { return Balance }
