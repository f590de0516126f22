// Copyright (c) 2025 BVK Chaitanya

// Package limit implements subcommands to manage limit order jobs.
package limit

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/bvk/stopbot/api"
	"github.com/bvk/stopbot/subcmds/cmdutil"
	"github.com/shopspring/decimal"
	"github.com/visvasity/cli"
)

type Add struct {
	cmdutil.ClientFlags

	exchange string
	product  string

	side  string
	size  float64
	price float64
}

func (c *Add) check() error {
	if c.size <= 0 {
		return fmt.Errorf("size cannot be zero or negative")
	}
	if c.price <= 0 {
		return fmt.Errorf("price cannot be zero or negative")
	}
	if c.side != "BUY" && c.side != "SELL" {
		return fmt.Errorf("side must be one of BUY or SELL")
	}
	return nil
}

func (c *Add) Run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("this command takes no arguments")
	}
	if err := c.check(); err != nil {
		return err
	}

	req := &api.LimitAddRequest{
		Exchange: c.exchange,
		Product:  c.product,
		Side:     c.side,
		Size:     decimal.NewFromFloat(c.size),
		Price:    decimal.NewFromFloat(c.price),
	}
	resp, err := cmdutil.Post[api.LimitAddResponse](ctx, &c.ClientFlags, api.LimitAddPath, req)
	if err != nil {
		return err
	}
	jsdata, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Printf("%s\n", jsdata)
	return nil
}

func (c *Add) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("add", flag.ContinueOnError)
	c.ClientFlags.SetFlags(fset)
	fset.StringVar(&c.exchange, "exchange", "coinbase", "exchange name for the trade")
	fset.StringVar(&c.product, "product", "", "product id for the trade, eg. BTC-USD")
	fset.StringVar(&c.side, "side", "", "must be one of BUY or SELL")
	fset.Float64Var(&c.size, "size", 0, "asset size for the trade")
	fset.Float64Var(&c.price, "price", 0, "limit price for the trade")
	return "add", fset, cli.CmdFunc(c.Run)
}

func (c *Add) Purpose() string {
	return "Creates a new limit buy/sell job"
}
