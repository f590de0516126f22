// Copyright (c) 2025 BVK Chaitanya

// Package server wires the exchange adapters, the market data multiplexer,
// the job runner and the notification services into one service with a JSON
// POST api.
package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/bvk/stopbot/api"
	"github.com/bvk/stopbot/binance"
	"github.com/bvk/stopbot/coinbase"
	"github.com/bvk/stopbot/exchange"
	"github.com/bvk/stopbot/httputil"
	"github.com/bvk/stopbot/job"
	"github.com/bvk/stopbot/limit"
	"github.com/bvk/stopbot/marketdata"
	"github.com/bvk/stopbot/notify"
	"github.com/bvk/stopbot/pushover"
	"github.com/bvk/stopbot/telegram"
	"github.com/bvk/stopbot/trailing"
	"github.com/bvkgo/kv"
)

type Server struct {
	opts Options

	db kv.Database

	exchanges *exchange.Registry

	mux *marketdata.Multiplexer
	bus *marketdata.Bus

	notifier *notify.Service

	runner *job.Runner

	telegram *telegram.Client
}

// New creates the stopbot service over the given database. Exchange adapters
// are created for every exchange with credentials in the secrets.
func New(ctx context.Context, secrets *Secrets, db kv.Database, opts *Options) (_ *Server, status error) {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()
	if err := secrets.Check(); err != nil {
		return nil, fmt.Errorf("invalid secrets: %w", err)
	}

	s := &Server{
		opts:      *opts,
		db:        db,
		exchanges: exchange.NewRegistry(),
	}
	defer func() {
		if status != nil {
			s.Close()
		}
	}()

	if secrets.Coinbase != nil {
		ex, err := coinbase.New(ctx, secrets.Coinbase, nil)
		if err != nil {
			return nil, fmt.Errorf("could not create coinbase adapter: %w", err)
		}
		if err := s.exchanges.Register(ex); err != nil {
			ex.Close()
			return nil, err
		}
	}
	if secrets.Binance != nil {
		ex, err := binance.New(secrets.Binance)
		if err != nil {
			return nil, fmt.Errorf("could not create binance adapter: %w", err)
		}
		if err := s.exchanges.Register(ex); err != nil {
			ex.Close()
			return nil, err
		}
	}
	if len(s.exchanges.Names()) == 0 {
		log.Printf("no exchange credentials found; trading operations will be unavailable")
	}

	s.mux = marketdata.New(s.exchanges, &marketdata.Options{PollInterval: opts.PollInterval})
	s.bus = marketdata.NewBus(s.mux)

	s.notifier = notify.New()
	if secrets.Pushover != nil {
		p, err := pushover.New(secrets.Pushover)
		if err != nil {
			return nil, fmt.Errorf("could not create pushover client: %w", err)
		}
		s.notifier.AddMessenger(p)
	}
	if secrets.Telegram != nil {
		t, err := telegram.New(ctx, db, secrets.Telegram)
		if err != nil {
			return nil, fmt.Errorf("could not create telegram client: %w", err)
		}
		s.telegram = t
		s.notifier.AddMessenger(t)
	}

	rt := &job.Runtime{
		Database:  db,
		Bus:       s.bus,
		Exchanges: s.exchanges,
		Status:    s.notifier,
		Notifier:  s.notifier,
	}
	s.runner = job.NewRunner(rt)
	s.runner.Handle(trailing.Typename, trailing.New)
	s.runner.Handle(limit.Typename, limit.New)

	if s.telegram != nil {
		if err := s.addTelegramCommands(ctx); err != nil {
			slog.Warn("could not register telegram commands (ignored)", "err", err)
		}
	}
	return s, nil
}

// Start resumes unfinished jobs from the database.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.NoResume {
		return nil
	}
	return s.runner.ResumeAll(ctx)
}

func (s *Server) Close() error {
	if s.runner != nil {
		s.runner.Close()
	}
	if s.mux != nil {
		s.mux.Close()
	}
	if s.exchanges != nil {
		if err := s.exchanges.CloseAll(); err != nil {
			slog.Warn("could not close all exchange adapters (ignored)", "err", err)
		}
	}
	if s.telegram != nil {
		s.telegram.Close()
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	return nil
}

// HandlerMap returns the api endpoints offered by this server.
func (s *Server) HandlerMap() map[string]http.Handler {
	return map[string]http.Handler{
		api.TrailingAddPath:        httputil.PostJSONHandler(s.doTrailingAdd),
		api.LimitAddPath:           httputil.PostJSONHandler(s.doLimitAdd),
		api.JobListPath:            httputil.PostJSONHandler(s.doJobList),
		api.JobGetPath:             httputil.PostJSONHandler(s.doJobGet),
		api.JobCancelPath:          httputil.PostJSONHandler(s.doJobCancel),
		api.JobResumePath:          httputil.PostJSONHandler(s.doJobResume),
		api.FeedListPath:           httputil.PostJSONHandler(s.doFeedList),
		api.ExchangeGetProductPath: httputil.PostJSONHandler(s.doGetProduct),
	}
}
