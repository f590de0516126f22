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

type Get struct {
	cmdutil.ClientFlags
}

func (c *Get) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("get", flag.ContinueOnError)
	c.ClientFlags.SetFlags(fset)
	return "get", fset, cli.CmdFunc(c.run)
}

func (c *Get) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("this command takes one (job-id) argument")
	}

	req := &api.JobGetRequest{
		UID: args[0],
	}
	resp, err := cmdutil.Post[api.JobGetResponse](ctx, &c.ClientFlags, api.JobGetPath, req)
	if err != nil {
		return err
	}
	jsdata, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Printf("%s\n", jsdata)
	return nil
}

func (c *Get) Purpose() string {
	return "Prints the metadata of a job"
}
