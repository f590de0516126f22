// Copyright (c) 2025 BVK Chaitanya

package coinbase

import "time"

var (
	RestHostname      = "api.coinbase.com"
	WebsocketHostname = "advanced-trade-ws.coinbase.com"
)

type Options struct {
	// Hostnames for the REST and WebSocket service endpoints.
	RestHostname      string
	WebsocketHostname string

	// Timeout to use for the HTTP requests.
	HttpClientTimeout time.Duration

	// Max limit for time difference between local time and the server times.
	MaxTimeAdjustment time.Duration

	// Max time latency for fetching the server time from coinbase.
	MaxFetchTimeLatency time.Duration

	// Timeout interval between successive server time synchronizations.
	SyncTimeInterval time.Duration
}

func (v *Options) setDefaults() {
	if v.RestHostname == "" {
		v.RestHostname = RestHostname
	}
	if v.WebsocketHostname == "" {
		v.WebsocketHostname = WebsocketHostname
	}
	if v.HttpClientTimeout == 0 {
		v.HttpClientTimeout = 5 * time.Second
	}
	if v.MaxTimeAdjustment == 0 {
		v.MaxTimeAdjustment = time.Minute
	}
	if v.MaxFetchTimeLatency == 0 {
		v.MaxFetchTimeLatency = 5 * time.Second
	}
	if v.SyncTimeInterval == 0 {
		v.SyncTimeInterval = 30 * time.Minute
	}
}
