// Copyright (c) 2025 BVK Chaitanya

package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// feed is one open websocket stream on the ticker channel. The stream is not
// reconnected on failures; the events channel is closed and the caller is
// expected to open a replacement.
type feed struct {
	cg ctxutil.CloseGroup

	client *client

	// specMap maps coinbase product ids to their ticker specs.
	specMap map[string]exchange.TickerSpec

	eventCh chan exchange.Event
}

var _ exchange.Feed = &feed{}

func (c *client) openTickerFeed(ctx context.Context, specs []exchange.TickerSpec) (*feed, error) {
	specMap := make(map[string]exchange.TickerSpec)
	for _, spec := range specs {
		specMap[productID(spec)] = spec
	}

	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, "wss://"+c.opts.WebsocketHostname, nil)
	if err != nil {
		slog.Error("could not dial to websocket feed", "err", err)
		return nil, err
	}

	products := make([]string, 0, len(specMap))
	for pid := range specMap {
		products = append(products, pid)
	}
	if err := conn.WriteJSON(c.subscribeMsg("ticker", products)); err != nil {
		conn.Close()
		slog.Error("could not subscribe to ticker channel", "products", products, "err", err)
		return nil, err
	}

	f := &feed{
		client:  c,
		specMap: specMap,
		eventCh: make(chan exchange.Event, 1),
	}
	f.cg.Go(func(ctx context.Context) {
		defer close(f.eventCh)
		defer conn.Close()
		f.run(ctx, conn)
	})
	return f, nil
}

func (f *feed) Close() error {
	f.cg.Close()
	return nil
}

func (f *feed) Events() <-chan exchange.Event {
	return f.eventCh
}

func (f *feed) run(ctx context.Context, conn *websocket.Conn) {
	for ctx.Err() == nil {
		msg, err := readMessage(ctx, conn)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("websocket stream has failed (feed will be closed)", "err", err)
			}
			return
		}
		if msg.Channel != "ticker" {
			continue
		}
		at := gobs.RemoteTime{Time: f.client.now()}
		for _, ev := range msg.Events {
			for _, t := range ev.Tickers {
				spec, ok := f.specMap[t.ProductID]
				if !ok {
					continue
				}
				tev := &exchange.TickerEvent{
					Spec: spec,
					At:   at,
					Bid:  decimal.NullDecimal{Decimal: t.BestBid.Decimal, Valid: t.BestBid.Valid},
					Ask:  decimal.NullDecimal{Decimal: t.BestAsk.Decimal, Valid: t.BestAsk.Valid},
					Last: decimal.NullDecimal{Decimal: t.Price.Decimal, Valid: t.Price.Valid},
				}
				select {
				case <-ctx.Done():
					return
				case f.eventCh <- tev:
				}
			}
		}
	}
}

func readMessage(ctx context.Context, conn *websocket.Conn) (*Message, error) {
	stopc := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
		close(stopc)
	})

	_, msg, err := conn.ReadMessage()
	if !stop() {
		// The AfterFunc was started. Wait for it to complete, and reset the Conn's
		// deadline.
		<-stopc
		conn.SetReadDeadline(time.Time{})
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, err
	}

	m := new(Message)
	if err := json.Unmarshal(msg, m); err != nil {
		slog.Error("could not unmarshal websocket message", "err", err)
		return nil, err
	}

	if m.Type == "error" {
		slog.Warn(fmt.Sprintf("received a websocket error message: %#v", *m))
		return nil, fmt.Errorf("%s", m.Message)
	}
	return m, nil
}

func (c *client) subscribeMsg(channel string, products []string) *Message {
	jwt, err := c.signJWT("")
	if err != nil {
		slog.Error("could not create jwt token for websocket (ignored)", "err", err)
	}
	return &Message{
		Type:       "subscribe",
		ProductIDs: products,
		Channel:    channel,
		Timestamp:  fmt.Sprintf("%d", c.now().Unix()),
		JWT:        jwt,
	}
}
