// Copyright (c) 2025 BVK Chaitanya

package db

import (
	"fmt"

	"github.com/bvk/stopbot/gobs"
)

func TypeNameValue(typename string) (any, error) {
	var v any
	switch typename {
	case "JobData":
		v = new(gobs.JobData)
	case "TrailingStopState":
		v = new(gobs.TrailingStopState)
	case "LimitOrderState":
		v = new(gobs.LimitOrderState)
	case "TelegramState":
		v = new(gobs.TelegramState)
	case "KeyValue":
		v = new(gobs.KeyValue)
	default:
		return nil, fmt.Errorf("unsupported type name %q", typename)
	}
	return v, nil
}
