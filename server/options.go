// Copyright (c) 2025 BVK Chaitanya

package server

import "time"

type Options struct {
	// NoResume is true when unfinished jobs from the database should not be
	// resumed automatically.
	NoResume bool

	// PollInterval overrides the snapshot interval for exchanges that cannot
	// stream a data kind.
	PollInterval time.Duration
}

func (v *Options) setDefaults() {
	if v.PollInterval == 0 {
		v.PollInterval = 10 * time.Second
	}
}
