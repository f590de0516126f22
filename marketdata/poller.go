// Copyright (c) 2025 BVK Chaitanya

package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/exchange"
)

// pollFeed adapts periodic REST snapshots into the Feed interface for data
// kinds the exchange cannot stream.
type pollFeed struct {
	cg ctxutil.CloseGroup

	closeOnce sync.Once

	eventCh chan exchange.Event
}

var _ exchange.Feed = &pollFeed{}

func newPollFeed(ex exchange.Exchange, kind exchange.DataKind, specs []exchange.TickerSpec, interval time.Duration) *pollFeed {
	f := &pollFeed{
		eventCh: make(chan exchange.Event),
	}
	f.cg.Go(func(ctx context.Context) {
		f.run(ctx, ex, kind, specs, interval)
	})
	return f
}

func (f *pollFeed) Close() error {
	f.closeOnce.Do(f.cg.Close)
	return nil
}

func (f *pollFeed) Events() <-chan exchange.Event {
	return f.eventCh
}

func (f *pollFeed) run(ctx context.Context, ex exchange.Exchange, kind exchange.DataKind, specs []exchange.TickerSpec, interval time.Duration) {
	defer close(f.eventCh)

	for {
		for _, spec := range specs {
			evs, err := ex.Poll(ctx, kind, spec)
			if err != nil {
				if ctx.Err() == nil {
					slog.WarnContext(ctx, "could not poll for market data (will retry)", "exchange", spec.Exchange, "kind", kind, "pair", spec.Pair(), "err", err)
				}
				continue
			}
			for _, ev := range evs {
				select {
				case <-ctx.Done():
					return
				case f.eventCh <- ev:
				}
			}
		}

		ctxutil.Sleep(ctx, interval)
		if ctx.Err() != nil {
			return
		}
	}
}
