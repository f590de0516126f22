// Copyright (c) 2025 BVK Chaitanya

// Package coinbase implements the exchange adapter for the Coinbase Advanced
// Trade API.
package coinbase

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/bvk/stopbot/ctxutil"
	"golang.org/x/time/rate"

	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

type client struct {
	cg ctxutil.CloseGroup

	opts Options

	kid string

	priKey *ecdsa.PrivateKey
	signer jose.Signer

	client *http.Client

	limiter *rate.Limiter

	// timeAdjustment is positive when local time is found to be ahead of the
	// server time, in which case, this value must be subtracted from the local
	// time before the local time can be used as a timestamp in the signature
	// calculations.
	timeAdjustment atomic.Int64
}

type nonceSource struct{}

func (n nonceSource) Nonce() (string, error) {
	r, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

func newClient(ctx context.Context, kid, pemtext string, opts *Options) (*client, error) {
	if opts == nil {
		opts = new(Options)
	}
	opts.setDefaults()

	block, _ := pem.Decode([]byte(pemtext))
	if block == nil {
		slog.Error("could not parse the PEM private key")
		return nil, os.ErrInvalid
	}
	priKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		slog.Error("could not parse the EC private key", "err", err)
		return nil, err
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: priKey},
		(&jose.SignerOptions{NonceSource: nonceSource{}}).WithType("JWT").WithHeader("kid", kid),
	)
	if err != nil {
		slog.Error("could not create go-jose.v2 pkg signer", "err", err)
		return nil, err
	}

	adjustment, err := findTimeAdjustment(ctx, opts.MaxFetchTimeLatency)
	if err != nil {
		slog.Error("could not determine time adjustment value", "err", err)
		return nil, err
	}
	log.Printf("local time needs to be adjusted by -%s to match the coinbase server time", adjustment)
	if adjustment > opts.MaxTimeAdjustment {
		slog.Error("local time is out of sync by large amount", "required", adjustment)
		return nil, fmt.Errorf("local time is out-of-sync by large amount with the server time")
	}

	jar, err := cookiejar.New(nil /* options */)
	if err != nil {
		slog.Error("could not create cookiejar", "err", err)
		return nil, fmt.Errorf("could not create cookiejar: %w", err)
	}

	c := &client{
		opts:   *opts,
		kid:    kid,
		priKey: priKey,
		signer: signer,
		client: &http.Client{
			Jar:     jar,
			Timeout: opts.HttpClientTimeout,
		},
		limiter: rate.NewLimiter(25, 1),
	}

	c.timeAdjustment.Store(int64(adjustment))
	c.cg.Go(c.goFindTimeAdjustment)
	return c, nil
}

func (c *client) Close() error {
	c.cg.Close()
	return nil
}

func (c *client) goFindTimeAdjustment(ctx context.Context) {
	for ctxutil.Sleep(ctx, c.opts.SyncTimeInterval); ctx.Err() == nil; ctxutil.Sleep(ctx, c.opts.SyncTimeInterval) {
		if diff, err := findTimeAdjustment(ctx, c.opts.MaxFetchTimeLatency); err == nil && diff != 0 {
			log.Printf("local time needs to be adjusted by -%s to match the coinbase server time", diff)
			c.timeAdjustment.Store(int64(diff))
		}
	}
}

func findTimeAdjustment(ctx context.Context, maxLatency time.Duration) (time.Duration, error) {
	type ServerTime struct {
		ISO string `json:"iso"`
	}

	for ; ctx.Err() == nil; ctxutil.Sleep(ctx, time.Second) {
		start := time.Now()
		resp, err := http.Get("https://api.exchange.coinbase.com/time")
		stop := time.Now()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}

		latency := stop.Sub(start)
		if latency > maxLatency {
			slog.Warn(fmt.Sprintf("get coinbase server time took %s > %s (too long; will retry)", latency, maxLatency))
			continue // retry
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("could not read server time response body", "err", err)
			return 0, fmt.Errorf("could not read server time response: %w", err)
		}

		var st ServerTime
		if err := json.Unmarshal(body, &st); err != nil {
			slog.Error("could not unmarshal server time response", "err", err)
			return 0, fmt.Errorf("could not unmarshal server time response: %w", err)
		}

		stime, err := time.Parse("2006-01-02T15:04:05.999Z", st.ISO)
		if err != nil {
			slog.Error("could not parse server timestamp", "value", st.ISO, "err", err)
			return 0, fmt.Errorf("could not parse server timestamp: %w", err)
		}

		ltime := start.Add(latency / 2).UTC()
		adjust := ltime.Sub(stime)

		if adjust < 0 {
			return 0, nil
		}
		return adjust, nil
	}

	return 0, context.Cause(ctx)
}

func (c *client) now() time.Time {
	return time.Now().Add(time.Duration(-c.timeAdjustment.Load()))
}

type apiKeyClaims struct {
	*jwt.Claims
	URI string `json:"uri"`
}

func (c *client) signJWT(uri string) (string, error) {
	cl := &apiKeyClaims{
		Claims: &jwt.Claims{
			Subject:   c.kid,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(time.Now()),
			Expiry:    jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
		},
		URI: uri,
	}
	return jwt.Signed(c.signer).Claims(cl).CompactSerialize()
}

func (c *client) getJSON(ctx context.Context, url *url.URL, resultPtr interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return err
	}
	token, err := c.signJWT(fmt.Sprintf("%s %s%s", http.MethodGet, url.Host, url.Path))
	if err != nil {
		slog.Error("could not create signed jwt token", "err", err)
		return err
	}
	req.Header.Add("Authorization", "Bearer "+token)

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http GET %s returned %d: %s", url.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(resultPtr); err != nil {
		slog.Error("could not decode response to json", "err", err)
		return err
	}
	return nil
}

func (c *client) postJSON(ctx context.Context, url *url.URL, request, resultPtr interface{}) error {
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url.String(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	token, err := c.signJWT(fmt.Sprintf("%s %s%s", http.MethodPost, url.Host, url.Path))
	if err != nil {
		slog.Error("could not create signed jwt token", "err", err)
		return err
	}
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Content-Type", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http POST %s returned %d: %s", url.Path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(resultPtr); err != nil {
		slog.Error("could not decode response to json", "err", err)
		return err
	}
	return nil
}

func (c *client) getOrder(ctx context.Context, orderID string) (*GetOrderResponse, error) {
	url := &url.URL{
		Scheme: "https",
		Host:   c.opts.RestHostname,
		Path:   "/api/v3/brokerage/orders/historical/" + orderID,
	}
	resp := new(GetOrderResponse)
	if err := c.getJSON(ctx, url, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not http get order details", "order", orderID, "err", err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *client) getProduct(ctx context.Context, productID string) (*GetProductResponse, error) {
	url := &url.URL{
		Scheme: "https",
		Host:   c.opts.RestHostname,
		Path:   path.Join("/api/v3/brokerage/products/", productID),
	}
	resp := new(GetProductResponse)
	if err := c.getJSON(ctx, url, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not get product details", "product", productID, "err", err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *client) listAccounts(ctx context.Context, values url.Values) (_ *ListAccountsResponse, cont url.Values, _ error) {
	url := &url.URL{
		Scheme:   "https",
		Host:     c.opts.RestHostname,
		Path:     "/api/v3/brokerage/accounts",
		RawQuery: values.Encode(),
	}
	resp := new(ListAccountsResponse)
	if err := c.getJSON(ctx, url, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not http list accounts", "url", url, "err", err)
		}
		return nil, nil, err
	}
	if len(resp.Cursor) > 0 {
		values.Set("cursor", resp.Cursor)
		return resp, values, nil
	}
	return resp, nil, nil
}

func (c *client) createOrder(ctx context.Context, request *CreateOrderRequest) (*CreateOrderResponse, error) {
	url := &url.URL{
		Scheme: "https",
		Host:   c.opts.RestHostname,
		Path:   "/api/v3/brokerage/orders",
	}
	resp := new(CreateOrderResponse)
	if err := c.postJSON(ctx, url, request, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not create order", "url", url, "err", err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *client) cancelOrder(ctx context.Context, request *CancelOrderRequest) (*CancelOrderResponse, error) {
	url := &url.URL{
		Scheme: "https",
		Host:   c.opts.RestHostname,
		Path:   "/api/v3/brokerage/orders/batch_cancel",
	}
	resp := new(CancelOrderResponse)
	if err := c.postJSON(ctx, url, request, resp); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Error("could not cancel order", "url", url, "err", err)
		}
		return nil, err
	}
	return resp, nil
}
