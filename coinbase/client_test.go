// Copyright (c) 2025 BVK Chaitanya

package coinbase

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/bvk/stopbot/exchange"
	"github.com/shopspring/decimal"
)

func testSpec() exchange.TickerSpec {
	return exchange.TickerSpec{Exchange: Name, Base: "BTC", Counter: "USD"}
}

var testingCreds *Credentials

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func checkCredentials() bool {
	if testingCreds != nil {
		return true
	}
	data, err := os.ReadFile("coinbase-creds.json")
	if err != nil {
		return false
	}
	c := new(Credentials)
	if err := json.Unmarshal(data, c); err != nil {
		return false
	}
	if c.Check() != nil {
		return false
	}
	testingCreds = c
	return true
}

func TestClient(t *testing.T) {
	if !checkCredentials() {
		t.Skip("no credentials")
		return
	}

	ctx := context.Background()
	ex, err := New(ctx, testingCreds, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ex.Close()

	product, err := ex.GetProduct(ctx, testSpec())
	if err != nil {
		t.Fatal(err)
	}
	if product.PriceScale <= 0 {
		t.Fatalf("unexpected price scale %d", product.PriceScale)
	}
	t.Logf("product: %+v", product)
}

func TestTickerFeed(t *testing.T) {
	if !checkCredentials() {
		t.Skip("no credentials")
		return
	}

	ctx := context.Background()
	ex, err := New(ctx, testingCreds, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ex.Close()

	feed, err := ex.OpenFeed(ctx, exchange.Ticker, []exchange.TickerSpec{testSpec()})
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	ev, ok := <-feed.Events()
	if !ok {
		t.Fatalf("feed has closed unexpectedly")
	}
	t.Logf("event: %#v", ev)
}
