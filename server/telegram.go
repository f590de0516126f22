// Copyright (c) 2025 BVK Chaitanya

package server

import (
	"context"
	"fmt"
	"os"

	"github.com/bvk/stopbot/gobs"
	"github.com/bvk/stopbot/telegram"
	"github.com/visvasity/cli"
)

// AddTelegramCommand registers a bot command with the Telegram client. It is
// a no-op when Telegram is not configured.
func (s *Server) AddTelegramCommand(ctx context.Context, name, purpose string, handler telegram.CmdFunc) error {
	if s.telegram != nil {
		return s.telegram.AddCommand(ctx, name, purpose, handler)
	}
	return nil // Ignored
}

func (s *Server) addTelegramCommands(ctx context.Context) error {
	if err := s.AddTelegramCommand(ctx, "jobs", "Lists all jobs with their status", s.jobsTelegramCmd); err != nil {
		return err
	}
	if err := s.AddTelegramCommand(ctx, "cancel", "Cancels a job given it's uid", s.cancelTelegramCmd); err != nil {
		return err
	}
	if err := s.AddTelegramCommand(ctx, "resume", "Resumes a canceled or failed job", s.resumeTelegramCmd); err != nil {
		return err
	}
	if err := s.AddTelegramCommand(ctx, "feeds", "Lists open market data feeds", s.feedsTelegramCmd); err != nil {
		return err
	}
	return nil
}

func (s *Server) jobsTelegramCmd(ctx context.Context, args []string) error {
	stdout := cli.Stdout(ctx)
	njobs := 0
	lister := func(jd *gobs.JobData) error {
		live := ""
		if s.runner.IsLive(jd.ID) {
			live = " (live)"
		}
		fmt.Fprintf(stdout, "%s %s %s%s\n", jd.ID, jd.Typename, jd.Status, live)
		njobs++
		return nil
	}
	if err := s.runner.List(ctx, lister); err != nil {
		return err
	}
	if njobs == 0 {
		fmt.Fprintln(stdout, "no jobs")
	}
	return nil
}

func (s *Server) cancelTelegramCmd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("cancel command needs a job uid argument: %w", os.ErrInvalid)
	}
	status, err := s.runner.Cancel(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.Stdout(ctx), "%s %s\n", args[0], status)
	return nil
}

func (s *Server) resumeTelegramCmd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("resume command needs a job uid argument: %w", os.ErrInvalid)
	}
	if err := s.runner.Start(ctx, args[0]); err != nil {
		return err
	}
	jd, err := s.runner.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.Stdout(ctx), "%s %s\n", jd.ID, jd.Status)
	return nil
}

func (s *Server) feedsTelegramCmd(ctx context.Context, args []string) error {
	stdout := cli.Stdout(ctx)
	feeds := s.mux.Feeds()
	if len(feeds) == 0 {
		fmt.Fprintln(stdout, "no open feeds")
		return nil
	}
	for _, f := range feeds {
		mode := "stream"
		if f.Polled {
			mode = "poll"
		}
		fmt.Fprintf(stdout, "%s %s %v (%s)\n", f.Exchange, f.Kind, f.Pairs, mode)
	}
	return nil
}
