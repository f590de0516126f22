// Copyright (c) 2025 BVK Chaitanya

package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bvk/stopbot/job"
)

type testMessenger struct {
	mu   sync.Mutex
	msgs []string
}

func (m *testMessenger) SendMessage(ctx context.Context, at time.Time, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *testMessenger) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.msgs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	for i := 0; i < 1000; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition did not become true in time")
}

func TestServiceFanOut(t *testing.T) {
	s := New()
	defer s.Close()

	m1 := new(testMessenger)
	m2 := new(testMessenger)
	s.AddMessenger(m1)
	s.AddMessenger(m2)

	s.Info("job has started")
	s.Error("order has failed")
	s.Status("uid-1", job.Success, "all done")
	s.Status("uid-2", job.Running, "not interesting")

	waitFor(t, func() bool {
		return len(m1.messages()) == 3 && len(m2.messages()) == 3
	})

	msgs := m1.messages()
	if msgs[0] != "job has started" {
		t.Fatalf("unexpected first message: %q", msgs[0])
	}
	if !strings.HasPrefix(msgs[1], "ERROR: ") {
		t.Fatalf("error message must carry the ERROR prefix: %q", msgs[1])
	}
	if !strings.Contains(msgs[2], "uid-1") || !strings.Contains(msgs[2], string(job.Success)) {
		t.Fatalf("unexpected status message: %q", msgs[2])
	}
}
