// Copyright (c) 2025 BVK Chaitanya

// Package trailing implements subcommands to manage trailing stop jobs.
package trailing

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

	side       string
	size       float64
	startPrice float64
	stopPrice  float64
	limitPrice float64
}

func (c *Add) check() error {
	if c.size <= 0 {
		return fmt.Errorf("size cannot be zero or negative")
	}
	if c.startPrice <= 0 || c.stopPrice <= 0 || c.limitPrice <= 0 {
		return fmt.Errorf("prices cannot be zero or negative")
	}
	switch c.side {
	case "SELL":
		if c.stopPrice >= c.startPrice {
			return fmt.Errorf("sell stop-price must be below the start-price")
		}
	case "BUY":
		if c.stopPrice <= c.startPrice {
			return fmt.Errorf("buy stop-price must be above the start-price")
		}
	default:
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

	req := &api.TrailingAddRequest{
		Exchange:   c.exchange,
		Product:    c.product,
		Side:       c.side,
		Size:       decimal.NewFromFloat(c.size),
		StartPrice: decimal.NewFromFloat(c.startPrice),
		StopPrice:  decimal.NewFromFloat(c.stopPrice),
		LimitPrice: decimal.NewFromFloat(c.limitPrice),
	}
	resp, err := cmdutil.Post[api.TrailingAddResponse](ctx, &c.ClientFlags, api.TrailingAddPath, req)
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
	fset.Float64Var(&c.startPrice, "start-price", 0, "market price the stop starts trailing from")
	fset.Float64Var(&c.stopPrice, "stop-price", 0, "initial stop price for the trade")
	fset.Float64Var(&c.limitPrice, "limit-price", 0, "initial limit price for the trade")
	return "add", fset, cli.CmdFunc(c.Run)
}

func (c *Add) Purpose() string {
	return "Creates a new trailing stop job"
}

func (c *Add) Description() string {
	return `

Command "add" creates a new trailing stop-loss job. The stop price trails the
market by the distance between the start-price and the stop-price: as the
market moves in the favorable direction the stop and limit prices are ratcheted
along with it, and they never move back. When the market crosses the stop
price, a limit order is placed at the limit price.

For a SELL job the stop-price must be below the start-price and the stop rises
with the market. For a BUY job the stop-price must be above the start-price and
the stop falls with the market.

`
}
