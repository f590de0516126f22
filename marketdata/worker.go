// Copyright (c) 2025 BVK Chaitanya

package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sort"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/exchange"
)

// worker reconciles one exchange's physical streams to the desired
// subscription set. Each exchange gets its own worker goroutine so that
// failures and retry backoff on one exchange never stall the others.
type worker struct {
	m *Multiplexer

	name string
	ex   exchange.Exchange

	wakeCh chan struct{}
}

func (w *worker) wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wakeCh:
		}

		timeout := w.m.opts.RetryInterval
		for ctx.Err() == nil {
			if err := w.reconcile(ctx); err == nil {
				break
			} else {
				slog.WarnContext(ctx, "could not converge exchange streams (will retry)", "exchange", w.name, "err", err)
			}
			ctxutil.Sleep(ctx, timeout)
			if timeout *= 2; timeout > w.m.opts.MaxRetryInterval {
				timeout = w.m.opts.MaxRetryInterval
			}
		}
	}
}

// plan computes the wanted stream layout for this exchange from the desired
// subscription set. Caller must hold m.mu.
func (w *worker) plan() map[feedKey]map[exchange.TickerSpec]struct{} {
	want := make(map[feedKey]map[exchange.TickerSpec]struct{})
	for sub := range w.m.desired {
		if sub.Spec.Exchange != w.name {
			continue
		}
		key := feedKey{exchange: w.name, kind: sub.Kind}
		if !w.ex.CanMultiplex(sub.Kind) {
			key.pair = sub.Spec.Pair()
		}
		set, ok := want[key]
		if !ok {
			set = make(map[exchange.TickerSpec]struct{})
			want[key] = set
		}
		set[sub.Spec] = struct{}{}
	}
	return want
}

func specSetEqual(a, b map[exchange.TickerSpec]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// reconcile diffs the open streams against the wanted layout and closes or
// opens streams to converge. Network operations run without holding the
// multiplexer lock; a concurrent UpdateSubscriptions leaves a pending wake
// so the worker re-reconciles until stable.
func (w *worker) reconcile(ctx context.Context) error {
	m := w.m

	m.mu.Lock()
	want := w.plan()
	var stale []*feedState
	for key, fs := range m.feedMap {
		if key.exchange != w.name {
			continue
		}
		set, wanted := want[key]
		if wanted && !fs.dead && specSetEqual(fs.specs, set) {
			delete(want, key)
			continue
		}
		stale = append(stale, fs)
		delete(m.feedMap, key)
	}
	m.mu.Unlock()

	for _, fs := range stale {
		if err := fs.feed.Close(); err != nil {
			slog.Warn("could not close stale feed (ignored)", "exchange", w.name, "kind", fs.key.kind, "err", err)
		}
	}

	var errs []error
	for key, set := range want {
		fs, err := w.open(ctx, key, set)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		m.mu.Lock()
		if _, ok := m.feedMap[key]; ok {
			// Lost a race with another reconcile of this worker's
			// exchange; keep the registered stream.
			m.mu.Unlock()
			fs.feed.Close()
			continue
		}
		m.feedMap[key] = fs
		m.mu.Unlock()

		m.cg.Go(func(ctx context.Context) {
			w.pump(ctx, fs)
		})
	}
	return errors.Join(errs...)
}

func (w *worker) open(ctx context.Context, key feedKey, set map[exchange.TickerSpec]struct{}) (*feedState, error) {
	specs := make([]exchange.TickerSpec, 0, len(set))
	for spec := range set {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Pair() < specs[j].Pair()
	})

	fs := &feedState{key: key, specs: maps.Clone(set)}
	if !w.ex.CanStream(key.kind) {
		fs.feed = newPollFeed(w.ex, key.kind, specs, w.m.opts.PollInterval)
		fs.polled = true
		return fs, nil
	}

	feed, err := w.ex.OpenFeed(ctx, key.kind, specs)
	if err != nil {
		return nil, err
	}
	fs.feed = feed
	return fs, nil
}

// pump forwards one stream's events to the shared topics. When the stream's
// event channel closes on its own the feed is marked dead and the worker is
// woken up to replace it.
func (w *worker) pump(ctx context.Context, fs *feedState) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fs.feed.Events():
			if !ok {
				w.m.mu.Lock()
				if cur, found := w.m.feedMap[fs.key]; found && cur == fs {
					fs.dead = true
				}
				w.m.mu.Unlock()
				w.wake()
				return
			}
			w.m.publish(ev)
		}
	}
}
