// Copyright (c) 2025 BVK Chaitanya

package ctxutil

import (
	"context"
	"os"
	"sync"
)

// CloseGroup manages background goroutines whose lifetime is bound to a
// Close call. The zero value is ready for use. Goroutines started with Go
// receive a context that is canceled with os.ErrClosed cause when the
// group is closed.
type CloseGroup struct {
	closeCtx  context.Context
	causeFunc context.CancelCauseFunc

	wg sync.WaitGroup

	once sync.Once
}

func (cg *CloseGroup) init() {
	cg.closeCtx, cg.causeFunc = context.WithCancelCause(context.Background())
}

// Close cancels the group context and waits for all goroutines started
// with Go to return. Close can be called multiple times.
func (cg *CloseGroup) Close() {
	cg.once.Do(cg.init)
	cg.causeFunc(os.ErrClosed)
	cg.wg.Wait()
}

// Context returns the group context. It is canceled when the group is
// closed.
func (cg *CloseGroup) Context() context.Context {
	cg.once.Do(cg.init)
	return cg.closeCtx
}

// Go runs f on a new goroutine tracked by the group. Close blocks till f
// returns, so f must watch its context argument.
func (cg *CloseGroup) Go(f func(ctx context.Context)) {
	cg.once.Do(cg.init)

	cg.wg.Add(1)
	go func() {
		defer cg.wg.Done()
		f(cg.closeCtx)
	}()
}
