// Copyright (c) 2025 BVK Chaitanya

// Package job implements the control engine for persisted, resumable
// strategy jobs. Each job binds a Processor to a stream of market events;
// the engine serializes event handling per job, persists definition changes
// and terminal transitions, and classifies processor failures as transient
// or permanent.
package job

import (
	"context"
	"errors"

	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/marketdata"
	"github.com/bvkgo/kv"
)

type Status string

const (
	Created Status = "CREATED"
	Running Status = "RUNNING"
	Success Status = "SUCCESS"

	// TransientFailure is a reporting-only status. It is never persisted; a
	// job reporting it stays in RUNNING state.
	TransientFailure Status = "FAILURE_TRANSIENT"

	PermanentFailure Status = "FAILURE_PERMANENT"
)

// IsFinal returns true for terminal statuses. A job in a terminal status
// cannot be started and its processor receives no further events.
func IsFinal(s Status) bool {
	return s == Success || s == PermanentFailure
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks an error as an unrecoverable business condition. The
// engine finishes the job with FAILURE_PERMANENT instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Definition is the persisted, immutable description of one job. A replace
// operation swaps the whole definition for a new value with the same uid.
type Definition interface {
	UID() string

	Typename() string

	Save(ctx context.Context, rw kv.ReadWriter) error
}

// Control is the per-job callback surface handed to a Processor. All calls
// must be made from Start or Tick; the engine's per-job serialization makes
// them safe without further locking.
type Control interface {
	// Replace persists the given definition as the job's current state. It
	// takes effect for the next tick onward.
	Replace(ctx context.Context, def Definition) error

	// Finish requests a terminal transition after the current tick returns.
	Finish(status Status, message string)
}

// Processor is the decision logic bound to a running job.
//
// Start performs one-time setup and returns the event channel the job
// reacts to. A nil channel is valid for jobs that do all their work in
// Start. Tick handles one event; returning an error marked with Permanent
// finishes the job, any other error is reported as transient and the job
// keeps running. Stop releases everything Start acquired and must be
// idempotent and safe after a partial Start failure.
type Processor interface {
	Start(ctx context.Context, ctl Control) (<-chan exchange.Event, error)

	Tick(ctx context.Context, ctl Control, ev exchange.Event) error

	Stop(ctx context.Context) error
}

// StatusUpdater receives job status transitions. Implementations must not
// block; reports are fire-and-forget.
type StatusUpdater interface {
	Status(uid string, status Status, message string)
}

// Notifier receives free-form informational and error messages.
type Notifier interface {
	Info(message string)
	Error(message string)
}

// Submitter creates and starts a new job. Processors use it to spawn
// follow-up jobs; failures propagate to the calling tick's retry path.
// Implementations must be idempotent for a repeated definition uid, so
// retried ticks can resubmit safely.
type Submitter interface {
	Submit(ctx context.Context, def Definition) (string, error)
}

// Runtime bundles the collaborators available to processors.
type Runtime struct {
	Database kv.Database

	Bus *marketdata.Bus

	Exchanges *exchange.Registry

	Submitter Submitter

	Status StatusUpdater

	Notifier Notifier
}
