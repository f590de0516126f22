// Copyright (c) 2025 BVK Chaitanya

package db

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"regexp"

	"github.com/bvk/stopbot/subcmds/cmdutil"
	"github.com/bvkgo/kv"
	"github.com/visvasity/cli"
)

type List struct {
	cmdutil.DBFlags

	keyRe string

	valueType string
}

func (c *List) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("command takes no arguments")
	}

	var keyRe *regexp.Regexp
	if len(c.keyRe) != 0 {
		re, err := regexp.Compile(c.keyRe)
		if err != nil {
			return fmt.Errorf("could not compile key-regexp value: %w", err)
		}
		keyRe = re
	}

	if len(c.valueType) != 0 {
		if _, err := TypeNameValue(c.valueType); err != nil {
			return fmt.Errorf("invalid value-type %q: %w", c.valueType, err)
		}
	}

	list := func(ctx context.Context, r kv.Reader) error {
		it, err := r.Scan(ctx)
		if err != nil {
			return err
		}
		defer kv.Close(it)

		for k, v, err := it.Fetch(ctx, false); err == nil; k, v, err = it.Fetch(ctx, true) {
			if keyRe != nil && !keyRe.MatchString(k) {
				continue
			}

			if c.valueType == "" {
				fmt.Println(k)
				continue
			}

			value, _ := TypeNameValue(c.valueType)
			if err := gob.NewDecoder(v).Decode(value); err != nil {
				return fmt.Errorf("could not gob-decode value for key %q: %w", k, err)
			}
			data, _ := json.Marshal(value)
			fmt.Printf("%s %s\n", k, data)
		}

		if _, _, err := it.Fetch(ctx, false); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	}

	db, closer, err := c.DBFlags.GetDatabase(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if err := kv.WithReader(ctx, db, list); err != nil {
		return err
	}
	return nil
}

func (c *List) Command() (string, *flag.FlagSet, cli.CmdFunc) {
	fset := flag.NewFlagSet("list", flag.ContinueOnError)
	c.DBFlags.SetFlags(fset)
	fset.StringVar(&c.keyRe, "key-regexp", "", "regular expression to pick keys")
	fset.StringVar(&c.valueType, "value-type", "", "gob type name for the values")
	return "list", fset, cli.CmdFunc(c.run)
}

func (c *List) Purpose() string {
	return "Prints keys and values in the database"
}
