package pools

import (
	"runtime/debug"
)

// GCConfig holds GC tuning parameters for a worker process
type GCConfig struct {
	// Percent sets GOGC. Zero keeps the runtime default.
	Percent int

	// MemoryLimit sets the soft memory limit in bytes. Zero means no limit.
	MemoryLimit int64
}

// ApplyGCConfig applies cfg to the current process
func ApplyGCConfig(cfg GCConfig) {
	if cfg.Percent > 0 {
		debug.SetGCPercent(cfg.Percent)
	}

	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
}
