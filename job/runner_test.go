// Copyright (c) 2025 BVK Chaitanya

package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/kvutil"
	"github.com/bvkgo/kv"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/shopspring/decimal"
)

type statusReport struct {
	uid     string
	status  Status
	message string
}

type testStatus struct {
	mu      sync.Mutex
	reports []statusReport
}

func (s *testStatus) Status(uid string, status Status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, statusReport{uid, status, message})
}

func (s *testStatus) count(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.reports {
		if r.status == status {
			n++
		}
	}
	return n
}

type testDefState struct {
	Value string
}

type testDef struct {
	uid string
}

func (d *testDef) UID() string {
	return d.uid
}

func (d *testDef) Typename() string {
	return "TestJob"
}

func (d *testDef) Save(ctx context.Context, rw kv.ReadWriter) error {
	return kvutil.Set(ctx, rw, "/test-jobs/"+d.uid, &testDefState{Value: d.uid})
}

type testProc struct {
	eventCh chan exchange.Event

	onStart func(ctx context.Context, ctl Control) error
	onTick  func(ctx context.Context, ctl Control, ev exchange.Event) error

	mu       sync.Mutex
	numTicks int
	numStops int
}

func (p *testProc) Start(ctx context.Context, ctl Control) (<-chan exchange.Event, error) {
	if p.onStart != nil {
		if err := p.onStart(ctx, ctl); err != nil {
			return nil, err
		}
	}
	if p.eventCh == nil {
		return nil, nil
	}
	return p.eventCh, nil
}

func (p *testProc) Tick(ctx context.Context, ctl Control, ev exchange.Event) error {
	p.mu.Lock()
	p.numTicks++
	p.mu.Unlock()

	if p.onTick != nil {
		return p.onTick(ctx, ctl, ev)
	}
	return nil
}

func (p *testProc) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numStops++
	return nil
}

func (p *testProc) ticks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numTicks
}

func testEvent() exchange.Event {
	return &exchange.TickerEvent{
		Spec: exchange.TickerSpec{Exchange: "fake", Base: "BTC", Counter: "USD"},
		Bid:  decimal.NewNullDecimal(decimal.NewFromInt(100)),
		Ask:  decimal.NewNullDecimal(decimal.NewFromInt(101)),
	}
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

func newTestRunner(t *testing.T, proc *testProc) (*Runner, *testStatus) {
	t.Helper()

	status := new(testStatus)
	rt := &Runtime{
		Database: kvmemdb.New(),
		Status:   status,
	}
	runner := NewRunner(rt)
	runner.Handle("TestJob", func(ctx context.Context, rt *Runtime, uid string) (Processor, error) {
		return proc, nil
	})
	return runner, status
}

func TestRunnerLifecycle(t *testing.T) {
	ctx := context.Background()
	proc := &testProc{eventCh: make(chan exchange.Event)}
	runner, _ := newTestRunner(t, proc)
	defer runner.Close()

	if _, err := runner.Add(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Add(ctx, &testDef{uid: "1"}); err == nil || !errors.Is(err, os.ErrExist) {
		t.Fatalf("wanted ErrExist, got %v", err)
	}

	if jd, err := runner.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(Created) {
		t.Fatalf("wanted CREATED, got %v", jd.Status)
	}

	if err := runner.Start(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if jd, err := runner.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(Running) {
		t.Fatalf("wanted RUNNING, got %v", jd.Status)
	}
	if !runner.IsLive("1") {
		t.Fatalf("job must be live after start")
	}

	// Starting a running job is a no-op.
	if err := runner.Start(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	if status, err := runner.Cancel(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if status != PermanentFailure {
		t.Fatalf("wanted FAILURE_PERMANENT, got %v", status)
	}
	if jd, err := runner.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(PermanentFailure) {
		t.Fatalf("wanted FAILURE_PERMANENT, got %v", jd.Status)
	}

	if err := runner.Start(ctx, "1"); err == nil || !errors.Is(err, os.ErrClosed) {
		t.Fatalf("wanted ErrClosed, got %v", err)
	}
}

func TestRunnerTransientFailure(t *testing.T) {
	ctx := context.Background()

	fail := true
	proc := &testProc{
		eventCh: make(chan exchange.Event),
		onTick: func(ctx context.Context, ctl Control, ev exchange.Event) error {
			if fail {
				fail = false
				return fmt.Errorf("order placement has failed (test)")
			}
			return nil
		},
	}
	runner, status := newTestRunner(t, proc)
	defer runner.Close()

	if _, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}

	// First tick fails; the job must stay subscribed and receive the next
	// tick normally.
	proc.eventCh <- testEvent()
	proc.eventCh <- testEvent()
	waitFor(t, func() bool {
		return proc.ticks() == 2
	})

	if n := status.count(TransientFailure); n != 1 {
		t.Fatalf("transient failure reports: got %d, want 1", n)
	}
	if !runner.IsLive("1") {
		t.Fatalf("job must stay live after a transient failure")
	}
	if jd, err := runner.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(Running) {
		t.Fatalf("wanted RUNNING, got %v", jd.Status)
	}
}

func TestRunnerPanicIsTransient(t *testing.T) {
	ctx := context.Background()

	proc := &testProc{
		eventCh: make(chan exchange.Event),
		onTick: func(ctx context.Context, ctl Control, ev exchange.Event) error {
			panic("tick has panicked (test)")
		},
	}
	runner, status := newTestRunner(t, proc)
	defer runner.Close()

	if _, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}

	proc.eventCh <- testEvent()
	waitFor(t, func() bool {
		return status.count(TransientFailure) == 1
	})
	if !runner.IsLive("1") {
		t.Fatalf("job must stay live after a tick panic")
	}
}

func TestRunnerPermanentFailure(t *testing.T) {
	ctx := context.Background()

	proc := &testProc{
		eventCh: make(chan exchange.Event),
		onTick: func(ctx context.Context, ctl Control, ev exchange.Event) error {
			return Permanent(fmt.Errorf("market has no counterparty (test)"))
		},
	}
	runner, status := newTestRunner(t, proc)
	defer runner.Close()

	if _, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}

	proc.eventCh <- testEvent()
	waitFor(t, func() bool {
		return !runner.IsLive("1")
	})

	if jd, err := runner.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(PermanentFailure) {
		t.Fatalf("wanted FAILURE_PERMANENT, got %v", jd.Status)
	}
	if n := status.count(PermanentFailure); n != 1 {
		t.Fatalf("permanent failure reports: got %d, want 1", n)
	}

	proc.mu.Lock()
	numStops := proc.numStops
	proc.mu.Unlock()
	if numStops != 1 {
		t.Fatalf("stop calls: got %d, want 1", numStops)
	}
}

func TestRunnerFinishInStart(t *testing.T) {
	ctx := context.Background()

	proc := &testProc{
		onStart: func(ctx context.Context, ctl Control) error {
			ctl.Finish(Success, "order is placed")
			return nil
		},
	}
	runner, _ := newTestRunner(t, proc)
	defer runner.Close()

	if _, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return !runner.IsLive("1")
	})

	if jd, err := runner.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(Success) {
		t.Fatalf("wanted SUCCESS, got %v", jd.Status)
	}
}

func TestRunnerSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	proc := &testProc{eventCh: make(chan exchange.Event)}
	runner, _ := newTestRunner(t, proc)
	defer runner.Close()

	// A crash between Add and Start leaves the job behind in CREATED
	// status. Resubmitting the same definition must start that job instead
	// of abandoning it.
	if _, err := runner.Add(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}
	if uid, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	} else if uid != "1" {
		t.Fatalf("wanted uid 1, got %q", uid)
	}
	if !runner.IsLive("1") {
		t.Fatalf("job must be live after resubmission")
	}
	if jd, err := runner.Get(ctx, "1"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(Running) {
		t.Fatalf("wanted RUNNING, got %v", jd.Status)
	}

	// Resubmitting a running job is a no-op.
	if _, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}

	// Resubmitting a finished job succeeds without restarting it.
	if _, err := runner.Cancel(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}
	if runner.IsLive("1") {
		t.Fatalf("finished job must not be restarted")
	}
}

func TestRunnerResume(t *testing.T) {
	ctx := context.Background()
	db := kvmemdb.New()
	status := new(testStatus)

	proc := &testProc{eventCh: make(chan exchange.Event)}
	newRunner := func() *Runner {
		rt := &Runtime{Database: db, Status: status}
		r := NewRunner(rt)
		r.Handle("TestJob", func(ctx context.Context, rt *Runtime, uid string) (Processor, error) {
			return proc, nil
		})
		return r
	}

	r1 := newRunner()
	if _, err := r1.Submit(ctx, &testDef{uid: "11111111-1111-1111-1111-111111111111"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r1.Add(ctx, &testDef{uid: "22222222-2222-2222-2222-222222222222"}); err != nil {
		t.Fatal(err)
	}

	// Shutdown must keep the running job resumable.
	r1.Close()
	if jd, err := r1.Get(ctx, "11111111-1111-1111-1111-111111111111"); err != nil {
		t.Fatal(err)
	} else if jd.Status != string(Running) {
		t.Fatalf("wanted RUNNING after shutdown, got %v", jd.Status)
	}

	r2 := newRunner()
	defer r2.Close()
	if err := r2.ResumeAll(ctx); err != nil {
		t.Fatal(err)
	}
	if !r2.IsLive("11111111-1111-1111-1111-111111111111") {
		t.Fatalf("running job must be resumed")
	}
	if r2.IsLive("22222222-2222-2222-2222-222222222222") {
		t.Fatalf("created job must not be resumed")
	}
}

func TestControlReplace(t *testing.T) {
	ctx := context.Background()

	replaced := make(chan struct{})
	proc := &testProc{
		eventCh: make(chan exchange.Event),
		onTick: func(ctx context.Context, ctl Control, ev exchange.Event) error {
			if err := ctl.Replace(ctx, &testDef{uid: "1"}); err != nil {
				return err
			}
			close(replaced)
			return nil
		},
	}
	runner, status := newTestRunner(t, proc)
	defer runner.Close()

	if _, err := runner.Submit(ctx, &testDef{uid: "1"}); err != nil {
		t.Fatal(err)
	}
	proc.eventCh <- testEvent()
	<-replaced

	if n := status.count(TransientFailure); n != 0 {
		t.Fatalf("replace must not fail: %d transient reports", n)
	}
}
