// Copyright (c) 2025 BVK Chaitanya

// Package exchange implements subcommands to query exchanges through a
// running daemon.
package exchange

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/bvk/stopbot/api"
	"github.com/bvk/stopbot/subcmds/cmdutil"
	"github.com/visvasity/cli"
)

type GetProduct struct {
	cmdutil.ClientFlags

	exchange string
}

func (c *GetProduct) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("get-product", flag.ContinueOnError)
	c.ClientFlags.SetFlags(fset)
	fset.StringVar(&c.exchange, "exchange", "coinbase", "exchange name for the product")
	return "get-product", fset, cli.CmdFunc(c.run)
}

func (c *GetProduct) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("this command takes one (product-id) argument")
	}

	req := &api.ExchangeGetProductRequest{
		Exchange: c.exchange,
		Product:  args[0],
	}
	resp, err := cmdutil.Post[api.ExchangeGetProductResponse](ctx, &c.ClientFlags, api.ExchangeGetProductPath, req)
	if err != nil {
		return err
	}
	jsdata, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Printf("%s\n", jsdata)
	return nil
}

func (c *GetProduct) Purpose() string {
	return "Prints trading limits and increments for a product"
}
