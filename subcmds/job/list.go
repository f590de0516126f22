// Copyright (c) 2025 BVK Chaitanya

// Package job implements subcommands to control jobs on a running daemon.
package job

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/bvk/stopbot/api"
	"github.com/bvk/stopbot/subcmds/cmdutil"
	"github.com/visvasity/cli"
)

type List struct {
	cmdutil.ClientFlags
}

func (c *List) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("list", flag.ContinueOnError)
	c.ClientFlags.SetFlags(fset)
	return "list", fset, cli.CmdFunc(c.run)
}

func (c *List) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("this command takes no arguments")
	}

	req := &api.JobListRequest{}
	resp, err := cmdutil.Post[api.JobListResponse](ctx, &c.ClientFlags, api.JobListPath, req)
	if err != nil {
		return err
	}
	jsdata, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Printf("%s\n", jsdata)
	return nil
}

func (c *List) Purpose() string {
	return "Prints job ids with their status"
}
