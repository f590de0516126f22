// Copyright (c) 2025 BVK Chaitanya

// Package api defines the JSON request/response types for the stopbot HTTP
// endpoints.
package api

import (
	"github.com/shopspring/decimal"
)

const (
	TrailingAddPath = "/stopbot/trailing/add"
	LimitAddPath    = "/stopbot/limit/add"

	JobListPath   = "/stopbot/job/list"
	JobGetPath    = "/stopbot/job/get"
	JobCancelPath = "/stopbot/job/cancel"
	JobResumePath = "/stopbot/job/resume"

	FeedListPath = "/stopbot/feed/list"

	ExchangeGetProductPath = "/stopbot/exchange/get-product"
)

type TrailingAddRequest struct {
	// Exchange and Product identify the traded pair, eg. "coinbase" and
	// "BTC-USD".
	Exchange string
	Product  string

	// Side is BUY or SELL.
	Side string

	Size decimal.Decimal

	// StartPrice is the reference market price the stop starts trailing
	// from.
	StartPrice decimal.Decimal

	StopPrice  decimal.Decimal
	LimitPrice decimal.Decimal
}

type TrailingAddResponse struct {
	UID string
}

type LimitAddRequest struct {
	Exchange string
	Product  string

	Side string

	Size  decimal.Decimal
	Price decimal.Decimal
}

type LimitAddResponse struct {
	UID string
}

type JobListRequest struct {
}

type JobListResponseItem struct {
	UID      string
	Typename string
	Status   string
	Message  string
}

type JobListResponse struct {
	Jobs []*JobListResponseItem
}

type JobGetRequest struct {
	UID string
}

type JobGetResponse struct {
	UID      string
	Typename string
	Status   string
	Message  string
	Live     bool
}

type JobCancelRequest struct {
	UID string
}

type JobCancelResponse struct {
	FinalStatus string
}

type JobResumeRequest struct {
	UID string
}

type JobResumeResponse struct {
	Status string
}

type FeedListRequest struct {
}

type FeedListResponseItem struct {
	Exchange string
	Kind     string
	Pairs    []string
	Polled   bool
}

type FeedListResponse struct {
	Feeds []*FeedListResponseItem
}

type ExchangeGetProductRequest struct {
	Exchange string
	Product  string
}

type ExchangeGetProductResponse struct {
	Exchange string
	Product  string

	PriceScale     int32
	BaseMinSize    decimal.Decimal
	QuoteIncrement decimal.Decimal
}
