package core

import "time"

// Engine defaults
const (
	DefaultPollTimeout    = time.Second
	DefaultIdleTimeout    = 5 * time.Second
	DefaultMaxHeaderBytes = 8192
	DefaultMaxConnections = 10000

	// idle connections are swept at most this often
	maxSweepInterval = time.Second
	minSweepInterval = 10 * time.Millisecond
)
