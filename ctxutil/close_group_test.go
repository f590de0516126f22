// Copyright (c) 2025 BVK Chaitanya

package ctxutil

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
)

func TestCloseGroup(t *testing.T) {
	var cg CloseGroup

	var done atomic.Int32
	for i := 0; i < 100; i++ {
		cg.Go(func(ctx context.Context) {
			<-ctx.Done()
			done.Add(1)
		})
	}

	cg.Close()
	if v := done.Load(); v != 100 {
		t.Fatalf("close must wait for all goroutines: %d finished", v)
	}
	if cause := context.Cause(cg.Context()); !errors.Is(cause, os.ErrClosed) {
		t.Fatalf("group context cause: want os.ErrClosed, got %v", cause)
	}

	// Close is idempotent.
	cg.Close()
}
