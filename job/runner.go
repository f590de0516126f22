// Copyright (c) 2025 BVK Chaitanya

package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/gobs"
	"github.com/bvk/stopbot/kvutil"
	"github.com/bvkgo/kv"
)

// Keyspace holds one gobs.JobData value per job uid.
const Keyspace = "/jobs/"

var errCanceled = errors.New("job is canceled")

// Constructor builds a processor for a persisted job. Implementations load
// their saved definition from the database using the job uid.
type Constructor func(ctx context.Context, rt *Runtime, uid string) (Processor, error)

// Runner owns the set of live jobs. It starts, cancels and resumes jobs,
// persists their status transitions and dispatches market events to their
// processors with per-job serialization.
type Runner struct {
	cg ctxutil.CloseGroup

	rt *Runtime

	mu sync.Mutex

	constructorMap map[string]Constructor

	taskMap map[string]*task
}

var _ Submitter = &Runner{}

func NewRunner(rt *Runtime) *Runner {
	r := &Runner{
		rt:             rt,
		constructorMap: make(map[string]Constructor),
		taskMap:        make(map[string]*task),
	}
	if rt.Submitter == nil {
		rt.Submitter = r
	}
	return r
}

// Close stops all live jobs without recording a terminal status, so they
// are resumed on the next startup.
func (r *Runner) Close() {
	r.cg.Close()

	r.mu.Lock()
	clear(r.taskMap)
	r.mu.Unlock()
}

// Handle registers the processor constructor for a job typename.
func (r *Runner) Handle(typename string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructorMap[typename] = c
}

// Add persists a new job in CREATED status without starting it. The job
// definition and its metadata record are saved in a single transaction.
func (r *Runner) Add(ctx context.Context, def Definition) (string, error) {
	uid := def.UID()
	if len(uid) == 0 {
		return "", fmt.Errorf("job definition has no uid: %w", os.ErrInvalid)
	}

	r.mu.Lock()
	_, ok := r.constructorMap[def.Typename()]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("job typename %q has no registered constructor: %w", def.Typename(), os.ErrInvalid)
	}

	add := func(ctx context.Context, rw kv.ReadWriter) error {
		key := path.Join(Keyspace, uid)
		if _, err := kvutil.Get[gobs.JobData](ctx, rw, key); err == nil {
			return fmt.Errorf("job %q already exists: %w", uid, os.ErrExist)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}

		if err := def.Save(ctx, rw); err != nil {
			return fmt.Errorf("could not save job %q definition: %w", uid, err)
		}

		jd := &gobs.JobData{
			ID:       uid,
			Typename: def.Typename(),
			Status:   string(Created),
		}
		return kvutil.Set(ctx, rw, key, jd)
	}
	if err := kv.WithReadWriter(ctx, r.rt.Database, add); err != nil {
		return "", err
	}
	return uid, nil
}

// Submit persists and immediately starts a new job. Submit is idempotent:
// resubmitting a definition with an existing uid starts the job if it is
// still in CREATED status and succeeds without side effects if the job is
// running or already finished. Callers that retry after a crash between
// Add and Start depend on this.
func (r *Runner) Submit(ctx context.Context, def Definition) (string, error) {
	uid, err := r.Add(ctx, def)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		uid = def.UID()
	}
	if err := r.Start(ctx, uid); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return uid, nil
		}
		return "", fmt.Errorf("could not start job %q: %w", uid, err)
	}
	return uid, nil
}

// Start transitions a job to RUNNING and begins dispatching events to its
// processor. Starting an already running job is a no-op; starting a
// finished job is an error.
func (r *Runner) Start(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.taskMap[uid]; ok {
		return nil
	}

	key := path.Join(Keyspace, uid)
	jd, err := kvutil.GetDB[gobs.JobData](ctx, r.rt.Database, key)
	if err != nil {
		return fmt.Errorf("could not load job %q: %w", uid, err)
	}
	if IsFinal(Status(jd.Status)) {
		return fmt.Errorf("job %q is already finished: %w", uid, os.ErrClosed)
	}

	c, ok := r.constructorMap[jd.Typename]
	if !ok {
		return fmt.Errorf("job typename %q has no registered constructor: %w", jd.Typename, os.ErrInvalid)
	}
	proc, err := c(ctx, r.rt, uid)
	if err != nil {
		return fmt.Errorf("could not create processor for job %q: %w", uid, err)
	}

	if jd.Status != string(Running) {
		jd.Status = string(Running)
		if err := kvutil.SetDB(ctx, r.rt.Database, key, jd); err != nil {
			return fmt.Errorf("could not update job %q status: %w", uid, err)
		}
	}

	t := &task{
		runner: r,
		uid:    uid,
		proc:   proc,
		doneCh: make(chan struct{}),
	}
	tctx, tcancel := context.WithCancelCause(r.cg.Context())
	t.cancelCause = tcancel
	r.taskMap[uid] = t

	r.cg.Go(func(context.Context) {
		t.run(tctx)
	})
	return nil
}

// Cancel stops a job, if it is live, and records FAILURE_PERMANENT as its
// terminal status. Canceling an already finished job returns its existing
// terminal status.
func (r *Runner) Cancel(ctx context.Context, uid string) (Status, error) {
	r.mu.Lock()
	t := r.taskMap[uid]
	r.mu.Unlock()

	if t != nil {
		t.cancelCause(errCanceled)
		select {
		case <-t.doneCh:
		case <-ctx.Done():
			return "", context.Cause(ctx)
		}
	}

	var status Status
	cancel := func(ctx context.Context, rw kv.ReadWriter) error {
		key := path.Join(Keyspace, uid)
		jd, err := kvutil.Get[gobs.JobData](ctx, rw, key)
		if err != nil {
			return fmt.Errorf("could not load job %q: %w", uid, err)
		}
		if IsFinal(Status(jd.Status)) {
			status = Status(jd.Status)
			return nil
		}
		jd.Status = string(PermanentFailure)
		jd.Message = "job is canceled by the user"
		status = PermanentFailure
		if err := kvutil.Set(ctx, rw, key, jd); err != nil {
			return err
		}
		r.rt.Status.Status(uid, PermanentFailure, jd.Message)
		return nil
	}
	if err := kv.WithReadWriter(ctx, r.rt.Database, cancel); err != nil {
		return "", err
	}
	return status, nil
}

// ResumeAll starts every job found in RUNNING status. Individual resume
// failures are logged and skipped so one bad job cannot block the rest.
func (r *Runner) ResumeAll(ctx context.Context) error {
	var uids []string
	begin, end := kvutil.UUIDRange(Keyspace)
	scan := func(ctx context.Context, _ kv.Reader, key string, jd *gobs.JobData) error {
		if jd.Status == string(Running) {
			uids = append(uids, jd.ID)
		}
		return nil
	}
	if err := kvutil.AscendDB(ctx, r.rt.Database, begin, end, scan); err != nil {
		return fmt.Errorf("could not scan jobs keyspace: %w", err)
	}

	for _, uid := range uids {
		if err := r.Start(ctx, uid); err != nil {
			slog.WarnContext(ctx, "could not resume job (skipped)", "uid", uid, "err", err)
			continue
		}
		slog.InfoContext(ctx, "job is resumed", "uid", uid)
	}
	return nil
}

// Get returns the metadata record of a job.
func (r *Runner) Get(ctx context.Context, uid string) (*gobs.JobData, error) {
	return kvutil.GetDB[gobs.JobData](ctx, r.rt.Database, path.Join(Keyspace, uid))
}

// List invokes fn over the metadata records of all jobs.
func (r *Runner) List(ctx context.Context, fn func(*gobs.JobData) error) error {
	begin, end := kvutil.UUIDRange(Keyspace)
	return kvutil.AscendDB(ctx, r.rt.Database, begin, end, func(ctx context.Context, _ kv.Reader, key string, jd *gobs.JobData) error {
		return fn(jd)
	})
}

// IsLive returns true if the job has a live processor in this process.
func (r *Runner) IsLive(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.taskMap[uid]
	return ok
}

func (r *Runner) remove(uid string) {
	r.mu.Lock()
	delete(r.taskMap, uid)
	r.mu.Unlock()
}

type finalState struct {
	status  Status
	message string
}

// task is the live side of one RUNNING job. A single goroutine receives
// the processor's events and runs all ticks, which gives per-job mutual
// exclusion for tick handling, replace and finish.
type task struct {
	runner *Runner

	uid string

	proc Processor

	cancelCause context.CancelCauseFunc

	doneCh chan struct{}

	mu    sync.Mutex
	final *finalState
}

func (t *task) setFinal(status Status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.final == nil {
		t.final = &finalState{status: status, message: message}
	}
}

func (t *task) getFinal() *finalState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.final
}

func (t *task) run(ctx context.Context) {
	defer close(t.doneCh)
	defer t.runner.remove(t.uid)

	ctl := &control{task: t}

	// Start failures are transient; the job stays in RUNNING state and its
	// setup is retried with backoff until it succeeds or is canceled.
	var eventCh <-chan exchange.Event
	start := func() error {
		ch, err := t.proc.Start(ctx, ctl)
		if err == nil {
			eventCh = ch
			return nil
		}
		if IsPermanent(err) {
			t.setFinal(PermanentFailure, err.Error())
			if serr := t.proc.Stop(context.WithoutCancel(ctx)); serr != nil {
				slog.WarnContext(ctx, "could not stop partially started job processor (ignored)", "uid", t.uid, "err", serr)
			}
			return nil
		}
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "job processor could not start (will retry)", "uid", t.uid, "err", err)
			t.runner.rt.Status.Status(t.uid, TransientFailure, err.Error())
		}
		if serr := t.proc.Stop(context.WithoutCancel(ctx)); serr != nil {
			slog.WarnContext(ctx, "could not stop partially started job processor (ignored)", "uid", t.uid, "err", serr)
		}
		return err
	}
	if err := ctxutil.RetryBackoff(ctx, time.Second, time.Minute, start); err != nil {
		return
	}

loop:
	for eventCh != nil && t.getFinal() == nil {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-eventCh:
			if !ok {
				break loop
			}
			t.handleTick(ctx, ctl, ev)
		}
	}

	sctx := context.WithoutCancel(ctx)
	if err := t.proc.Stop(sctx); err != nil {
		slog.WarnContext(ctx, "could not stop job processor (ignored)", "uid", t.uid, "err", err)
	}

	// A shutdown or cancel leaves the persisted status alone; Cancel does
	// its own bookkeeping and shutdown must keep the job resumable.
	if final := t.getFinal(); final != nil && ctx.Err() == nil {
		key := path.Join(Keyspace, t.uid)
		update := func(ctx context.Context, rw kv.ReadWriter) error {
			jd, err := kvutil.Get[gobs.JobData](ctx, rw, key)
			if err != nil {
				return err
			}
			jd.Status = string(final.status)
			jd.Message = final.message
			return kvutil.Set(ctx, rw, key, jd)
		}
		if err := kv.WithReadWriter(sctx, t.runner.rt.Database, update); err != nil {
			slog.ErrorContext(ctx, "could not record job terminal status", "uid", t.uid, "status", final.status, "err", err)
		}
		t.runner.rt.Status.Status(t.uid, final.status, final.message)
	}
}

// handleTick runs one tick with the engine's failure classification. A
// panic or a plain error is reported as FAILURE_TRANSIENT and the job keeps
// running; an error marked Permanent finishes the job.
func (t *task) handleTick(ctx context.Context, ctl Control, ev exchange.Event) {
	defer func() {
		if v := recover(); v != nil {
			msg := fmt.Sprintf("job tick handler has panicked: %v", v)
			slog.ErrorContext(ctx, "job tick handler has panicked (job keeps running)", "uid", t.uid, "panic", v)
			t.runner.rt.Status.Status(t.uid, TransientFailure, msg)
		}
	}()

	err := t.proc.Tick(ctx, ctl, ev)
	if err == nil {
		return
	}
	if ctx.Err() != nil && errors.Is(err, context.Cause(ctx)) {
		return
	}
	if IsPermanent(err) {
		t.setFinal(PermanentFailure, err.Error())
		return
	}
	slog.WarnContext(ctx, "job tick has failed (job keeps running)", "uid", t.uid, "err", err)
	t.runner.rt.Status.Status(t.uid, TransientFailure, err.Error())
}

type control struct {
	task *task
}

func (c *control) Replace(ctx context.Context, def Definition) error {
	if def.UID() != c.task.uid {
		return fmt.Errorf("replacement definition uid %q does not match job uid %q: %w", def.UID(), c.task.uid, os.ErrInvalid)
	}
	return kv.WithReadWriter(ctx, c.task.runner.rt.Database, def.Save)
}

func (c *control) Finish(status Status, message string) {
	if !IsFinal(status) {
		status = PermanentFailure
	}
	c.task.setFinal(status, message)
}
