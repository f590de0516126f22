// Copyright (c) 2025 BVK Chaitanya

package setup

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bvk/stopbot/ctxutil"
	"github.com/bvk/stopbot/telegram"
	"github.com/bvkgo/kv/kvmemdb"
	"github.com/visvasity/cli"
	"golang.org/x/term"
)

type Telegram struct {
	dataDir     string
	skipTesting bool

	ownerID  string
	otherIDs string
	botToken string
}

func (c *Telegram) Purpose() string {
	return "Setup configures Telegram service API parameters"
}

func (c *Telegram) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("telegram", flag.ContinueOnError)
	fset.StringVar(&c.dataDir, "data-dir", "", "path to the data directory")
	fset.StringVar(&c.ownerID, "owner-id", "", "Owner's telegram user id")
	fset.StringVar(&c.otherIDs, "other-ids", "", "Comma separated additional telegram user ids")
	fset.StringVar(&c.botToken, "bot-token", "", "Telegram bot's authentication token")
	fset.BoolVar(&c.skipTesting, "skip-testing", false, "don't test the parameters")
	return "telegram", fset, cli.CmdFunc(c.run)
}

func (c *Telegram) Description() string {
	return `

Command "telegram" helps users configure notifications to their Telegram
account through a Telegram bot.

Telegram configuration is optional. This is only required to receive
notifications to the mobile phones and to control the daemon from a chat
window. They can be configured as follows:

  $ stopbot setup telegram --owner-id=username --bot-token=USCJS2...TVP4KV

`
}

func (c *Telegram) run(ctx context.Context, args []string) error {
	secretsPath, secrets, err := loadSecrets(c.dataDir)
	if err != nil {
		return err
	}

	var others []string
	for _, v := range strings.Split(c.otherIDs, ",") {
		if v = strings.TrimSpace(v); len(v) != 0 {
			others = append(others, v)
		}
	}
	secrets.Telegram = &telegram.Secrets{
		BotToken: c.botToken,
		OwnerID:  c.ownerID,
		OtherIDs: others,
	}
	if err := secrets.Check(); err != nil {
		return err
	}

	if !c.skipTesting {
		func() {
			fmt.Println("Start a chat with telegram bot and then press any key")
			// switch stdin into 'raw' mode
			oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
			if err != nil {
				log.Fatal(err)
			}
			defer term.Restore(int(os.Stdin.Fd()), oldState)

			b := make([]byte, 1)
			_, err = os.Stdin.Read(b)
			if err != nil {
				log.Fatal(err)
			}
		}()

		// Attempt to authenticate with telegram to validate the token.
		client, err := telegram.New(ctx, kvmemdb.New(), secrets.Telegram)
		if err != nil {
			return err
		}
		defer client.Close()

		ctxutil.Sleep(ctx, time.Second)
		if err := client.SendMessage(ctx, time.Now(), "Test message from Telegram config setup; please ignore."); err != nil {
			return err
		}
	}

	return saveSecrets(secretsPath, secrets)
}
