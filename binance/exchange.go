// Copyright (c) 2025 BVK Chaitanya

// Package binance implements the exchange adapter for the Binance spot API.
package binance

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/shopspring/decimal"
)

const Name = "binance"

type Exchange struct {
	client *binance.Client
}

var _ exchange.Exchange = &Exchange{}

// New creates an adapter for the binance exchange.
func New(creds *Credentials) (*Exchange, error) {
	if err := creds.Check(); err != nil {
		return nil, fmt.Errorf("invalid binance credentials: %w", err)
	}
	return &Exchange{client: binance.NewClient(creds.Key, creds.Secret)}, nil
}

func (ex *Exchange) Close() error {
	return nil
}

func (ex *Exchange) ExchangeName() string {
	return Name
}

func (ex *Exchange) CanStream(kind exchange.DataKind) bool {
	return kind == exchange.Ticker
}

// CanMultiplex is true for tickers; book ticker streams for multiple symbols
// are served over one combined websocket connection.
func (ex *Exchange) CanMultiplex(kind exchange.DataKind) bool {
	return kind == exchange.Ticker
}

// symbolOf returns the binance symbol for a ticker spec, eg. "BTCUSDT".
func symbolOf(spec exchange.TickerSpec) string {
	return strings.ToUpper(spec.Base + spec.Counter)
}

func (ex *Exchange) OpenFeed(ctx context.Context, kind exchange.DataKind, specs []exchange.TickerSpec) (exchange.Feed, error) {
	if kind != exchange.Ticker {
		return nil, fmt.Errorf("binance cannot stream %s events: %w", kind, os.ErrInvalid)
	}
	if len(specs) == 0 {
		return nil, os.ErrInvalid
	}
	return openTickerFeed(specs)
}

func (ex *Exchange) Poll(ctx context.Context, kind exchange.DataKind, spec exchange.TickerSpec) ([]exchange.Event, error) {
	switch kind {
	case exchange.Ticker:
		return ex.pollTicker(ctx, spec)
	case exchange.Balance:
		return ex.pollBalances(ctx, spec)
	}
	return nil, fmt.Errorf("binance cannot poll %s events: %w", kind, os.ErrInvalid)
}

func (ex *Exchange) pollTicker(ctx context.Context, spec exchange.TickerSpec) ([]exchange.Event, error) {
	tickers, err := ex.client.NewListBookTickersService().Symbol(symbolOf(spec)).Do(ctx)
	if err != nil {
		return nil, err
	}
	var events []exchange.Event
	for _, t := range tickers {
		ev := &exchange.TickerEvent{
			Spec: spec,
			At:   gobs.RemoteTime{Time: timeNow()},
			Bid:  parseNullDecimal(t.BidPrice),
			Ask:  parseNullDecimal(t.AskPrice),
		}
		events = append(events, ev)
	}
	return events, nil
}

func (ex *Exchange) pollBalances(ctx context.Context, spec exchange.TickerSpec) ([]exchange.Event, error) {
	account, err := ex.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	currencies := []string{strings.ToUpper(spec.Base), strings.ToUpper(spec.Counter)}
	at := gobs.RemoteTime{Time: timeNow()}

	var events []exchange.Event
	for _, b := range account.Balances {
		asset := strings.ToUpper(b.Asset)
		found := false
		for _, c := range currencies {
			if c == asset {
				found = true
			}
		}
		if !found {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("could not parse %s balance %q: %w", b.Asset, b.Free, err)
		}
		events = append(events, &exchange.BalanceEvent{
			Exchange:  Name,
			Currency:  b.Asset,
			At:        at,
			Available: free,
		})
	}
	return events, nil
}

func (ex *Exchange) GetProduct(ctx context.Context, spec exchange.TickerSpec) (*exchange.Product, error) {
	symbol := symbolOf(spec)
	info, err := ex.client.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		product := &exchange.Product{Spec: spec}
		if f := s.PriceFilter(); f != nil {
			tick, err := decimal.NewFromString(f.TickSize)
			if err != nil {
				return nil, fmt.Errorf("could not parse tick size %q: %w", f.TickSize, err)
			}
			product.QuoteIncrement = tick
			product.PriceScale = priceScale(tick)
		}
		if f := s.LotSizeFilter(); f != nil {
			min, err := decimal.NewFromString(f.MinQuantity)
			if err != nil {
				return nil, fmt.Errorf("could not parse min quantity %q: %w", f.MinQuantity, err)
			}
			product.BaseMinSize = min
		}
		return product, nil
	}
	return nil, fmt.Errorf("symbol %s: %w", symbol, os.ErrNotExist)
}

// priceScale returns the number of decimal places implied by a tick size,
// eg. 2 for a tick size of 0.01.
func priceScale(tick decimal.Decimal) int32 {
	one := decimal.New(1, 0)
	scale := int32(0)
	for t := tick; t.IsPositive() && t.LessThan(one) && scale < 16; scale++ {
		t = t.Shift(1)
	}
	return scale
}

func (ex *Exchange) PlaceLimitOrder(ctx context.Context, clientOrderID string, spec exchange.TickerSpec, side string, size, price decimal.Decimal) (exchange.OrderID, error) {
	var stype binance.SideType
	switch side {
	case "BUY":
		stype = binance.SideTypeBuy
	case "SELL":
		stype = binance.SideTypeSell
	default:
		return "", fmt.Errorf("invalid order side %q: %w", side, os.ErrInvalid)
	}

	resp, err := ex.client.NewCreateOrderService().
		Symbol(symbolOf(spec)).
		Side(stype).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(size.String()).
		Price(price.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return "", err
	}
	return exchange.OrderID(strconv.FormatInt(resp.OrderID, 10)), nil
}

func (ex *Exchange) CancelOrder(ctx context.Context, spec exchange.TickerSpec, id exchange.OrderID) error {
	oid, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid binance order id %q: %w", id, os.ErrInvalid)
	}
	_, err = ex.client.NewCancelOrderService().Symbol(symbolOf(spec)).OrderID(oid).Do(ctx)
	return err
}

func (ex *Exchange) GetOrder(ctx context.Context, spec exchange.TickerSpec, id exchange.OrderID) (*gobs.Order, error) {
	oid, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid binance order id %q: %w", id, os.ErrInvalid)
	}
	v, err := ex.client.NewGetOrderService().Symbol(symbolOf(spec)).OrderID(oid).Do(ctx)
	if err != nil {
		return nil, err
	}
	return toOrder(v), nil
}

func toOrder(v *binance.Order) *gobs.Order {
	done := false
	switch v.Status {
	case binance.OrderStatusTypeFilled, binance.OrderStatusTypeCanceled,
		binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		done = true
	}

	order := &gobs.Order{
		ServerOrderID: strconv.FormatInt(v.OrderID, 10),
		ClientOrderID: v.ClientOrderID,
		CreateTime:    gobs.RemoteTime{Time: millisTime(v.Time)},
		Side:          string(v.Side),
		Status:        string(v.Status),
		Done:          done,
	}
	if size, err := decimal.NewFromString(v.ExecutedQuantity); err == nil {
		order.FilledSize = size
		if value, err := decimal.NewFromString(v.CummulativeQuoteQuantity); err == nil && size.IsPositive() {
			order.FilledPrice = value.Div(size)
		}
	}
	if done {
		order.FinishTime = gobs.RemoteTime{Time: millisTime(v.UpdateTime)}
		order.DoneReason = string(v.Status)
	}
	return order
}
