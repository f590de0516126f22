// Copyright (c) 2025 BVK Chaitanya

package subcmds

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bvk/stopbot/api"
	"github.com/bvk/stopbot/subcmds/cmdutil"
	"github.com/visvasity/cli"
)

type Status struct {
	cmdutil.ClientFlags
}

func (c *Status) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("status", flag.ContinueOnError)
	c.ClientFlags.SetFlags(fset)
	return "status", fset, cli.CmdFunc(c.run)
}

func (c *Status) Purpose() string {
	return "Status prints a summary of jobs and market data feeds"
}

func (c *Status) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("this command takes no arguments")
	}

	jobs, err := cmdutil.Post[api.JobListResponse](ctx, &c.ClientFlags, api.JobListPath, &api.JobListRequest{})
	if err != nil {
		return err
	}
	feeds, err := cmdutil.Post[api.FeedListResponse](ctx, &c.ClientFlags, api.FeedListPath, &api.FeedListRequest{})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\tTYPE\tSTATUS\tMESSAGE\n")
	for _, j := range jobs.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.UID, j.Typename, j.Status, j.Message)
	}
	if len(jobs.Jobs) == 0 {
		fmt.Fprintf(tw, "(none)\t\t\t\n")
	}
	fmt.Fprintf(tw, "\n")
	fmt.Fprintf(tw, "FEED\tKIND\tPAIRS\tMODE\n")
	for _, f := range feeds.Feeds {
		mode := "stream"
		if f.Polled {
			mode = "poll"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Exchange, f.Kind, strings.Join(f.Pairs, ","), mode)
	}
	if len(feeds.Feeds) == 0 {
		fmt.Fprintf(tw, "(none)\t\t\t\n")
	}
	return tw.Flush()
}
