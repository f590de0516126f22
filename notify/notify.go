// Copyright (c) 2025 BVK Chaitanya

// Package notify fans out job status transitions and free-form messages to
// external messaging channels. Deliveries happen on a background goroutine
// through a bounded queue, so reporting never blocks job tick processing.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/job"
)

// Messenger delivers one message over an external channel.
type Messenger interface {
	SendMessage(ctx context.Context, at time.Time, msg string) error
}

type message struct {
	at   time.Time
	text string
}

type Service struct {
	cg ctxutil.CloseGroup

	mu sync.Mutex

	messengers []Messenger

	msgCh chan *message
}

var (
	_ job.StatusUpdater = &Service{}
	_ job.Notifier      = &Service{}
)

func New() *Service {
	s := &Service{
		msgCh: make(chan *message, 256),
	}
	s.cg.Go(s.run)
	return s
}

func (s *Service) Close() {
	s.cg.Close()
}

func (s *Service) AddMessenger(m Messenger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messengers = append(s.messengers, m)
}

func (s *Service) send(text string) {
	msg := &message{at: time.Now(), text: text}
	select {
	case s.msgCh <- msg:
	default:
		slog.Warn("notification queue is full (message dropped)", "message", text)
	}
}

func (s *Service) Info(msg string) {
	slog.Info(msg)
	s.send(msg)
}

func (s *Service) Error(msg string) {
	slog.Error(msg)
	s.send("ERROR: " + msg)
}

// Status records a job status transition. Terminal transitions and failures
// are pushed out to the messengers; routine transitions are only logged.
func (s *Service) Status(uid string, status job.Status, message string) {
	slog.Info("job status has changed", "uid", uid, "status", status, "message", message)
	if job.IsFinal(status) || status == job.TransientFailure {
		s.send(fmt.Sprintf("job %s: %s: %s", uid, status, message))
	}
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.msgCh:
			s.mu.Lock()
			messengers := make([]Messenger, len(s.messengers))
			copy(messengers, s.messengers)
			s.mu.Unlock()

			for _, m := range messengers {
				if err := m.SendMessage(ctx, msg.at, msg.text); err != nil && ctx.Err() == nil {
					slog.Warn("could not deliver notification (ignored)", "err", err)
				}
			}
		}
	}
}
