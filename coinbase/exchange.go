// Copyright (c) 2025 BVK Chaitanya

package coinbase

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/shopspring/decimal"
)

const Name = "coinbase"

type Exchange struct {
	client *client
}

var _ exchange.Exchange = &Exchange{}

// New creates an adapter for the coinbase exchange.
func New(ctx context.Context, creds *Credentials, opts *Options) (*Exchange, error) {
	if err := creds.Check(); err != nil {
		return nil, fmt.Errorf("invalid coinbase credentials: %w", err)
	}
	client, err := newClient(ctx, creds.KID, creds.PEM, opts)
	if err != nil {
		return nil, fmt.Errorf("could not create coinbase client: %w", err)
	}
	return &Exchange{client: client}, nil
}

func (ex *Exchange) Close() error {
	return ex.client.Close()
}

func (ex *Exchange) ExchangeName() string {
	return Name
}

func (ex *Exchange) CanStream(kind exchange.DataKind) bool {
	return kind == exchange.Ticker
}

func (ex *Exchange) CanMultiplex(kind exchange.DataKind) bool {
	return false
}

// productID returns the coinbase product id for a ticker spec, eg. "BTC-USD".
func productID(spec exchange.TickerSpec) string {
	return strings.ToUpper(spec.Pair())
}

func (ex *Exchange) OpenFeed(ctx context.Context, kind exchange.DataKind, specs []exchange.TickerSpec) (exchange.Feed, error) {
	if kind != exchange.Ticker {
		return nil, fmt.Errorf("coinbase cannot stream %s events: %w", kind, os.ErrInvalid)
	}
	if len(specs) == 0 {
		return nil, os.ErrInvalid
	}
	return ex.client.openTickerFeed(ctx, specs)
}

func (ex *Exchange) Poll(ctx context.Context, kind exchange.DataKind, spec exchange.TickerSpec) ([]exchange.Event, error) {
	switch kind {
	case exchange.Ticker:
		return ex.pollTicker(ctx, spec)
	case exchange.Balance:
		return ex.pollBalances(ctx, spec)
	}
	return nil, fmt.Errorf("coinbase cannot poll %s events: %w", kind, os.ErrInvalid)
}

func (ex *Exchange) pollTicker(ctx context.Context, spec exchange.TickerSpec) ([]exchange.Event, error) {
	product, err := ex.client.getProduct(ctx, productID(spec))
	if err != nil {
		return nil, err
	}
	ev := &exchange.TickerEvent{
		Spec: spec,
		At:   gobs.RemoteTime{Time: ex.client.now()},
		Last: decimal.NullDecimal{Decimal: product.Price.Decimal, Valid: product.Price.Valid},
	}
	return []exchange.Event{ev}, nil
}

func (ex *Exchange) pollBalances(ctx context.Context, spec exchange.TickerSpec) ([]exchange.Event, error) {
	currencies := []string{strings.ToUpper(spec.Base), strings.ToUpper(spec.Counter)}

	var events []exchange.Event
	values := make(url.Values)
	for {
		resp, cont, err := ex.client.listAccounts(ctx, values)
		if err != nil {
			return nil, err
		}
		at := gobs.RemoteTime{Time: ex.client.now()}
		for _, a := range resp.Accounts {
			if !slices.Contains(currencies, strings.ToUpper(a.Currency)) {
				continue
			}
			events = append(events, &exchange.BalanceEvent{
				Exchange:  Name,
				Currency:  a.Currency,
				At:        at,
				Available: a.AvailableBalance.Value.Decimal,
			})
		}
		if cont == nil {
			break
		}
		values = cont
	}
	return events, nil
}

func (ex *Exchange) GetProduct(ctx context.Context, spec exchange.TickerSpec) (*exchange.Product, error) {
	resp, err := ex.client.getProduct(ctx, productID(spec))
	if err != nil {
		return nil, err
	}
	if !resp.QuoteIncrement.Valid {
		return nil, fmt.Errorf("product %s has no quote increment", resp.ProductID)
	}
	return &exchange.Product{
		Spec:           spec,
		PriceScale:     -resp.QuoteIncrement.Decimal.Exponent(),
		BaseMinSize:    resp.BaseMinSize.Decimal,
		QuoteIncrement: resp.QuoteIncrement.Decimal,
	}, nil
}

func (ex *Exchange) PlaceLimitOrder(ctx context.Context, clientOrderID string, spec exchange.TickerSpec, side string, size, price decimal.Decimal) (exchange.OrderID, error) {
	if side != "BUY" && side != "SELL" {
		return "", fmt.Errorf("invalid order side %q: %w", side, os.ErrInvalid)
	}
	req := &CreateOrderRequest{
		ClientOrderID: clientOrderID,
		ProductID:     productID(spec),
		Side:          side,
		Order: &OrderConfig{
			LimitGTC: &LimitLimitGTC{
				BaseSize:   NullDecimal{Decimal: size, Valid: true},
				LimitPrice: NullDecimal{Decimal: price, Valid: true},
			},
		},
	}
	resp, err := ex.client.createOrder(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		if resp.ErrorResponse != nil {
			return "", fmt.Errorf("could not create order: %s: %s", resp.FailureReason, resp.ErrorResponse.Message)
		}
		return "", fmt.Errorf("could not create order: %s", resp.FailureReason)
	}
	return exchange.OrderID(resp.OrderID), nil
}

func (ex *Exchange) CancelOrder(ctx context.Context, spec exchange.TickerSpec, id exchange.OrderID) error {
	resp, err := ex.client.cancelOrder(ctx, &CancelOrderRequest{OrderIDs: []string{string(id)}})
	if err != nil {
		return err
	}
	for _, r := range resp.Results {
		if r.OrderID == string(id) && !r.Success {
			return fmt.Errorf("could not cancel order %s: %s", id, r.FailureReason)
		}
	}
	return nil
}

func (ex *Exchange) GetOrder(ctx context.Context, spec exchange.TickerSpec, id exchange.OrderID) (*gobs.Order, error) {
	resp, err := ex.client.getOrder(ctx, string(id))
	if err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, os.ErrNotExist
	}
	return toOrder(resp.Order), nil
}

func toOrder(v *Order) *gobs.Order {
	done := slices.Contains([]string{"FILLED", "CANCELLED", "EXPIRED", "FAILED"}, v.Status)
	order := &gobs.Order{
		ServerOrderID: v.OrderID,
		ClientOrderID: v.ClientOrderID,
		CreateTime:    gobs.RemoteTime{Time: v.CreatedTime.Time},
		Side:          v.Side,
		Status:        v.Status,
		FilledFee:     v.TotalFees.Decimal,
		FilledSize:    v.FilledSize.Decimal,
		FilledPrice:   v.AvgFilledPrice.Decimal,
		Done:          done,
	}
	if done {
		order.FinishTime = gobs.RemoteTime{Time: v.LastFillTime.Time}
		order.DoneReason = v.RejectReason
		if v.Status == "CANCELLED" {
			order.DoneReason = v.CancelMessage
		}
	}
	return order
}
