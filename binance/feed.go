// Copyright (c) 2025 BVK Chaitanya

package binance

import (
	"log/slog"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/shopspring/decimal"
)

// feed wraps one combined book ticker websocket stream. The stream is not
// reconnected on failures; the events channel is closed and the caller is
// expected to open a replacement.
type feed struct {
	// specMap maps binance symbols to their ticker specs.
	specMap map[string]exchange.TickerSpec

	eventCh chan exchange.Event

	doneCh chan struct{}
	stopCh chan struct{}

	closeOnce sync.Once
}

var _ exchange.Feed = &feed{}

func openTickerFeed(specs []exchange.TickerSpec) (*feed, error) {
	specMap := make(map[string]exchange.TickerSpec)
	symbols := make([]string, 0, len(specs))
	for _, spec := range specs {
		symbol := symbolOf(spec)
		if _, ok := specMap[symbol]; !ok {
			specMap[symbol] = spec
			symbols = append(symbols, symbol)
		}
	}

	f := &feed{
		specMap: specMap,
		eventCh: make(chan exchange.Event, 1),
		doneCh:  make(chan struct{}),
	}

	handler := func(ev *binance.WsBookTickerEvent) {
		spec, ok := f.specMap[ev.Symbol]
		if !ok {
			return
		}
		tev := &exchange.TickerEvent{
			Spec: spec,
			At:   gobs.RemoteTime{Time: timeNow()},
			Bid:  parseNullDecimal(ev.BestBidPrice),
			Ask:  parseNullDecimal(ev.BestAskPrice),
		}
		select {
		case f.eventCh <- tev:
		case <-f.doneCh:
		}
	}
	errHandler := func(err error) {
		slog.Warn("binance websocket stream has failed (feed will be closed)", "err", err)
	}

	wsDoneCh, stopCh, err := binance.WsCombinedBookTickerServe(symbols, handler, errHandler)
	if err != nil {
		slog.Error("could not open binance book ticker stream", "symbols", symbols, "err", err)
		return nil, err
	}
	f.stopCh = stopCh

	// The library closes its done channel only after the handler loop has
	// returned, so no handler can be running past this point.
	go func() {
		<-wsDoneCh
		close(f.doneCh)
		close(f.eventCh)
	}()
	return f, nil
}

func (f *feed) Close() error {
	f.closeOnce.Do(func() {
		close(f.stopCh)
	})
	<-f.doneCh
	return nil
}

func (f *feed) Events() <-chan exchange.Event {
	return f.eventCh
}

func timeNow() time.Time {
	return time.Now().UTC()
}

func millisTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseNullDecimal(s string) decimal.NullDecimal {
	if len(s) == 0 {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
