// Copyright (c) 2025 BVK Chaitanya

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

type Cancel struct {
	cmdutil.ClientFlags
}

func (c *Cancel) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("cancel", flag.ContinueOnError)
	c.ClientFlags.SetFlags(fset)
	return "cancel", fset, cli.CmdFunc(c.run)
}

func (c *Cancel) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("this command takes one (job-id) argument")
	}

	req := &api.JobCancelRequest{
		UID: args[0],
	}
	resp, err := cmdutil.Post[api.JobCancelResponse](ctx, &c.ClientFlags, api.JobCancelPath, req)
	if err != nil {
		return err
	}
	jsdata, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Printf("%s\n", jsdata)
	return nil
}

func (c *Cancel) Purpose() string {
	return "Cancels a job"
}
