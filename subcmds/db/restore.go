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

type Restore struct {
	cmdutil.DBFlags
}

func (c *Restore) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("restore", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	return "restore", fset, cli.CmdFunc(c.run)
}

func (c *Restore) Purpose() string {
	return "Restores the database from a backup file"
}

func (c *Restore) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("command takes one (input backup file) argument")
	}

	fp, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("could not open file %q: %w", args[0], err)
	}
	defer fp.Close()

	r := bufio.NewReader(fp)

	db, closer, err := c.DBFlags.GetDatabase(ctx)
	if err != nil {
		return fmt.Errorf("could not get database instance: %w", err)
	}
	defer closer()

	restore := func(ctx context.Context, rw kv.ReadWriter) error {
		if err := kvutil.DeleteAll(ctx, rw); err != nil {
			return fmt.Errorf("could not clear the database: %w", err)
		}
		return kvutil.Import(ctx, r, rw)
	}
	if err := kv.WithReadWriter(ctx, db, restore); err != nil {
		return fmt.Errorf("could not run restore with a transaction: %w", err)
	}
	return nil
}
