// Copyright (c) 2025 BVK Chaitanya

// Package gobs holds gob-encoded value types saved in the database. Types in
// this package must stay backward compatible; fields can be added but never
// removed or renamed.
package gobs

import (
	"time"

	"github.com/shopspring/decimal"
)

type RemoteTime struct {
	time.Time
}

// TickerSpec identifies one tradeable pair on one exchange.
type TickerSpec struct {
	Exchange string
	Base     string
	Counter  string
}

// KeyValue is one raw database entry in a backup stream.
type KeyValue struct {
	Key   string
	Value []byte
}

type Order struct {
	ServerOrderID string
	ClientOrderID string
	CreateTime    RemoteTime
	FinishTime    RemoteTime

	Side   string
	Status string

	FilledFee   decimal.Decimal
	FilledSize  decimal.Decimal
	FilledPrice decimal.Decimal

	Done       bool
	DoneReason string
}
