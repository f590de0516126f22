// Copyright (c) 2025 BVK Chaitanya

package db

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/bvk/stopbot/kvutil"
	"github.com/bvk/stopbot/subcmds/cmdutil"
	"github.com/bvkgo/kv"
	"github.com/visvasity/cli"
)

type Backup struct {
	cmdutil.DBFlags
}

func (c *Backup) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("command takes one (output backup file) argument")
	}

	fp, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(0600))
	if err != nil {
		return fmt.Errorf("could not open file %q: %w", args[0], err)
	}
	defer fp.Close()

	bw := bufio.NewWriter(fp)

	db, closer, err := c.DBFlags.GetDatabase(ctx)
	if err != nil {
		return fmt.Errorf("could not get database instance: %w", err)
	}
	defer closer()

	backup := func(ctx context.Context, r kv.Reader) error {
		return kvutil.Export(ctx, r, bw)
	}
	if err := kv.WithReader(ctx, db, backup); err != nil {
		return fmt.Errorf("could not run backup on a snapshot: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("could not flush the bufio writer: %w", err)
	}
	if err := fp.Sync(); err != nil {
		return fmt.Errorf("could not sync the output file: %w", err)
	}
	return nil
}

func (c *Backup) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("backup", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	return "backup", fset, cli.CmdFunc(c.run)
}

func (c *Backup) Purpose() string {
	return "Takes a backup of the database into a file"
}
