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

type Resume struct {
	cmdutil.ClientFlags
}

func (c *Resume) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("resume", flag.ContinueOnError)
	c.ClientFlags.SetFlags(fset)
	return "resume", fset, cli.CmdFunc(c.run)
}

func (c *Resume) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("this command takes one (job-id) argument")
	}

	req := &api.JobResumeRequest{
		UID: args[0],
	}
	resp, err := cmdutil.Post[api.JobResumeResponse](ctx, &c.ClientFlags, api.JobResumePath, req)
	if err != nil {
		return err
	}
	jsdata, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Printf("%s\n", jsdata)
	return nil
}

func (c *Resume) Purpose() string {
	return "Resumes a canceled or failed job"
}
