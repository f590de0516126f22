// Copyright (c) 2025 BVK Chaitanya

package main

import (
	"context"
	"log"
	"os"

	"github.com/bvk/stopbot/subcmds"
	"github.com/bvk/stopbot/subcmds/db"
	"github.com/bvk/stopbot/subcmds/exchange"
	"github.com/bvk/stopbot/subcmds/job"
	"github.com/bvk/stopbot/subcmds/limit"
	"github.com/bvk/stopbot/subcmds/setup"
	"github.com/bvk/stopbot/subcmds/trailing"
	"github.com/visvasity/cli"
)

func main() {
	jobCmds := []cli.Command{
		new(job.List),
		new(job.Get),
		new(job.Cancel),
		new(job.Resume),
	}

	trailingCmds := []cli.Command{
		new(trailing.Add),
	}

	limitCmds := []cli.Command{
		new(limit.Add),
	}

	exchangeCmds := []cli.Command{
		new(exchange.GetProduct),
	}

	dbCmds := []cli.Command{
		new(db.Get),
		new(db.List),
		new(db.Delete),
		new(db.Backup),
		new(db.Restore),
	}

	setupCmds := []cli.Command{
		new(setup.Coinbase),
		new(setup.Binance),
		new(setup.PushOver),
		new(setup.Telegram),
	}

	cmds := []cli.Command{
		new(subcmds.Run),
		new(subcmds.Status),
		cli.NewGroup("job", "Control jobs on a running daemon", jobCmds...),
		cli.NewGroup("trailing", "Manage trailing stop jobs", trailingCmds...),
		cli.NewGroup("limit", "Manage limit order jobs", limitCmds...),
		cli.NewGroup("exchange", "View/query exchange directly", exchangeCmds...),
		cli.NewGroup("db", "View/update database directly", dbCmds...),
		cli.NewGroup("setup", "Configure daemon credentials", setupCmds...),
	}
	if err := cli.Run(context.Background(), cmds, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
