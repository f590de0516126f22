// Copyright (c) 2025 BVK Chaitanya

package coinbase

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NullDecimal unmarshals coinbase decimal fields, which can be empty strings
// when the value is absent.
type NullDecimal struct {
	Decimal decimal.Decimal

	Valid bool
}

func (v *NullDecimal) UnmarshalJSON(raw []byte) error {
	if s := string(raw); s == "" || s == `""` || s == "null" {
		v.Decimal = decimal.Zero
		v.Valid = false
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return err
	}
	v.Decimal = d
	v.Valid = true
	return nil
}

func (v NullDecimal) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte(`""`), nil
	}
	return v.Decimal.MarshalJSON()
}

// RemoteTime unmarshals coinbase timestamp fields.
type RemoteTime struct {
	Time time.Time
}

func (v *RemoteTime) UnmarshalJSON(raw []byte) error {
	s := strings.Trim(string(raw), `"`)
	if s == "null" || s == "" {
		v.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	v.Time = t
	return nil
}

func (v *RemoteTime) MarshalJSON() ([]byte, error) {
	if v.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf(`"%s"`, v.Time.Format(time.RFC3339Nano))), nil
}

type Order struct {
	// Possible values: [OPEN, FILLED, CANCELLED, EXPIRED, FAILED,
	// UNKNOWN_ORDER_STATUS]
	Status string `json:"status"`

	OrderID       string `json:"order_id"`
	OrderType     string `json:"order_type"`
	ClientOrderID string `json:"client_order_id"`

	ProductID string `json:"product_id"`

	Side         string     `json:"side"`
	CreatedTime  RemoteTime `json:"created_time"`
	LastFillTime RemoteTime `json:"last_fill_time"`

	Settled        bool        `json:"settled"`
	FilledSize     NullDecimal `json:"filled_size"`
	AvgFilledPrice NullDecimal `json:"average_filled_price"`
	FilledValue    NullDecimal `json:"filled_value"`

	Fee       NullDecimal `json:"fee"`
	TotalFees NullDecimal `json:"total_fees"`

	RejectReason  string `json:"reject_reason"`
	RejectMessage string `json:"reject_message"`

	PendingCancel bool   `json:"pending_cancel"`
	CancelMessage string `json:"cancel_message"`
}

type GetOrderResponse struct {
	Order *Order `json:"order"`
}

type LimitLimitGTC struct {
	BaseSize   NullDecimal `json:"base_size"`
	LimitPrice NullDecimal `json:"limit_price"`
	PostOnly   bool        `json:"post_only"`
}

type OrderConfig struct {
	LimitGTC *LimitLimitGTC `json:"limit_limit_gtc,omitempty"`
}

type CreateOrderRequest struct {
	ClientOrderID string       `json:"client_order_id"`
	ProductID     string       `json:"product_id"`
	Side          string       `json:"side"`
	Order         *OrderConfig `json:"order_configuration"`
}

type CreateOrderResponse struct {
	Success bool `json:"success"`

	SuccessResponse *CreateOrderSuccessResponse `json:"success_response"`

	OrderID     string       `json:"order_id"`
	OrderConfig *OrderConfig `json:"order_configuration"`

	FailureReason string                    `json:"failure_reason"`
	ErrorResponse *CreateOrderErrorResponse `json:"error_response"`
}

type CreateOrderSuccessResponse struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	ClientOrderID string `json:"client_order_id"`
}

type CreateOrderErrorResponse struct {
	Error                 string `json:"error"`
	Message               string `json:"message"`
	ErrorDetail           string `json:"error_details"`
	NewOrderFailureReason string `json:"new_order_failure_reason"`
}

type CancelOrderRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type CancelOrderResponse struct {
	Results []CancelOrderResultResponse `json:"results"`
}

type CancelOrderResultResponse struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason"`
	OrderID       string `json:"order_id"`
}

type GetProductResponse struct {
	ProductID string `json:"product_id"`
	Status    string `json:"status"`

	Price NullDecimal `json:"price"`

	BaseIncrement  NullDecimal `json:"base_increment"`
	BaseMinSize    NullDecimal `json:"base_min_size"`
	BaseMaxSize    NullDecimal `json:"base_max_size"`
	BaseName       string      `json:"base_name"`
	BaseCurrencyID string      `json:"base_currency_id"`

	QuoteIncrement  NullDecimal `json:"quote_increment"`
	QuoteMinSize    NullDecimal `json:"quote_min_size"`
	QuoteMaxSize    NullDecimal `json:"quote_max_size"`
	QuoteName       string      `json:"quote_name"`
	QuoteCurrencyID string      `json:"quote_currency_id"`

	IsDisabled      bool `json:"is_disabled"`
	CancelOnly      bool `json:"cancel_only"`
	LimitOnly       bool `json:"limit_only"`
	PostOnly        bool `json:"post_only"`
	TradingDisabled bool `json:"trading_disabled"`
}

type AccountBalance struct {
	Value    NullDecimal `json:"value"`
	Currency string      `json:"currency"`
}

type Account struct {
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Currency string `json:"currency"`

	AvailableBalance AccountBalance `json:"available_balance"`
	Hold             AccountBalance `json:"hold"`

	Active bool   `json:"active"`
	Type   string `json:"type"`
}

type ListAccountsResponse struct {
	Accounts []*Account `json:"accounts"`
	HasNext  bool       `json:"has_next"`
	Cursor   string     `json:"cursor"`
}

// Message is the websocket protocol envelope for both directions.
type Message struct {
	Type string `json:"type"`

	// Message holds description when Type is "error".
	Message string `json:"message"`

	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
	Timestamp  string   `json:"timestamp"`

	JWT string `json:"jwt"`

	Sequence int64 `json:"sequence_num,number"`

	ClientID string  `json:"client_id"`
	Events   []Event `json:"events"`
}

type Event struct {
	Type      string         `json:"type"`
	ProductID string         `json:"product_id"`
	Tickers   []*TickerEvent `json:"tickers"`
}

type TickerEvent struct {
	Type      string      `json:"type"`
	ProductID string      `json:"product_id"`
	Price     NullDecimal `json:"price"`
	BestBid   NullDecimal `json:"best_bid"`
	BestAsk   NullDecimal `json:"best_ask"`
}
