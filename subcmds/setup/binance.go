// Copyright (c) 2025 BVK Chaitanya

package setup

import (
	"context"
	"flag"
	"fmt"

	"github.com/bvk/stopbot/binance"
	"github.com/bvk/stopbot/exchange"
	"github.com/visvasity/cli"
)

type Binance struct {
	dataDir     string
	skipTesting bool
	key         string
	secret      string
}

func (c *Binance) Purpose() string {
	return "Setup configures Binance API access parameters"
}

func (c *Binance) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("binance", flag.ContinueOnError)
	fset.StringVar(&c.dataDir, "data-dir", "", "path to the data directory")
	fset.StringVar(&c.key, "key", "", "Binance API key as a string")
	fset.StringVar(&c.secret, "secret", "", "Binance API secret as a string")
	fset.BoolVar(&c.skipTesting, "skip-testing", false, "don't test the parameters")
	return "binance", fset, cli.CmdFunc(c.run)
}

func (c *Binance) Description() string {
	return `

Command "binance" helps users configure Binance API keys.

Binance API keys are required to query and put buy/sell orders on the
binance spot market. They can be configured as follows:

  $ stopbot setup binance --key=111111111 --secret=2222222222

`
}

func (c *Binance) run(ctx context.Context, args []string) error {
	if len(c.key) == 0 {
		return fmt.Errorf("--key flag is required")
	}
	if len(c.secret) == 0 {
		return fmt.Errorf("--secret flag is required")
	}

	secretsPath, secrets, err := loadSecrets(c.dataDir)
	if err != nil {
		return err
	}

	secrets.Binance = &binance.Credentials{
		Key:    c.key,
		Secret: c.secret,
	}
	if !c.skipTesting {
		// Attempt an authenticated balance query to validate the keys.
		ex, err := binance.New(secrets.Binance)
		if err != nil {
			return err
		}
		spec := exchange.TickerSpec{Exchange: binance.Name, Base: "BTC", Counter: "USDT"}
		if _, err := ex.Poll(ctx, exchange.Balance, spec); err != nil {
			return err
		}
		ex.Close()
	}

	return saveSecrets(secretsPath, secrets)
}
