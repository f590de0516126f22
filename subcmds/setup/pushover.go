// Copyright (c) 2025 BVK Chaitanya

package setup

import (
	"context"
	"flag"
	"time"

	"github.com/bvk/stopbot/pushover"
	"github.com/visvasity/cli"
)

type PushOver struct {
	dataDir     string
	skipTesting bool

	appID  string
	userID string
}

func (c *PushOver) Purpose() string {
	return "Setup configures PushOver service API parameters"
}

func (c *PushOver) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("pushover", flag.ContinueOnError)
	fset.StringVar(&c.dataDir, "data-dir", "", "path to the data directory")
	fset.StringVar(&c.userID, "user-id", "", "PushOver service user identifier")
	fset.StringVar(&c.appID, "app-id", "", "PushOver service Application identifier")
	fset.BoolVar(&c.skipTesting, "skip-testing", false, "don't test the parameters")
	return "pushover", fset, cli.CmdFunc(c.run)
}

func (c *PushOver) Description() string {
	return `

Command "pushover" helps users configure notifications through the
Pushover service.

Pushover keys are optional. They are only required to receive notifications to
the mobile phones. They can be configured as follows:

  $ stopbot setup pushover --app-id=awja5ue...ito7svf --user-id=uscjs2...tvp4kv

`
}

func (c *PushOver) run(ctx context.Context, args []string) error {
	secretsPath, secrets, err := loadSecrets(c.dataDir)
	if err != nil {
		return err
	}

	secrets.Pushover = &pushover.Keys{
		ApplicationKey: c.appID,
		UserKey:        c.userID,
	}
	if err := secrets.Check(); err != nil {
		return err
	}

	if !c.skipTesting {
		// Attempt to authenticate with pushover to validate the keys.
		client, err := pushover.New(secrets.Pushover)
		if err != nil {
			return err
		}
		if err := client.SendMessage(ctx, time.Now(), "Test message from Pushover config setup; please ignore."); err != nil {
			return err
		}
	}

	return saveSecrets(secretsPath, secrets)
}
