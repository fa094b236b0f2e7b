package core

import (
	"encoding/json"
	"log/slog"

	"github.com/searchktools/fast-static/core/observability"
	"github.com/searchktools/fast-static/core/pools"
)

// EngineStats is a point-in-time view of one worker's engine
type EngineStats struct {
	OpenConnections int                    `json:"open_connections"`
	Traffic         observability.Snapshot `json:"traffic"`
	FilePool        *FilePoolStats         `json:"file_pool,omitempty"`
}

// FilePoolStats mirrors pools.WorkerPoolStats for the file-read pool
type FilePoolStats struct {
	Workers   int    `json:"workers"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Inline    uint64 `json:"inline"`
	Pending   uint64 `json:"pending"`
	Steals    uint64 `json:"steals"`
}

func filePoolStats(s pools.WorkerPoolStats) *FilePoolStats {
	return &FilePoolStats{
		Workers:   s.NumWorkers,
		Submitted: s.TasksSubmitted,
		Completed: s.TasksCompleted,
		Inline:    s.TasksInline,
		Pending:   s.TasksPending,
		Steals:    s.StealsSuccess,
	}
}

// Stats reports engine statistics. The connection count is only exact
// when called from the loop or after Run has returned.
func (e *Engine) Stats() EngineStats {
	stats := EngineStats{
		OpenConnections: len(e.connections),
		Traffic:         e.monitor.Snapshot(),
	}
	if e.filePool != nil {
		stats.FilePool = filePoolStats(e.filePool.Stats())
	}
	return stats
}

// JSON returns the statistics as a single-line JSON document
func (s EngineStats) JSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// LogValue implements slog.LogValuer
func (s EngineStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("open", s.OpenConnections),
		slog.Any("traffic", s.Traffic),
	}
	if p := s.FilePool; p != nil {
		attrs = append(attrs, slog.Group("file_pool",
			slog.Int("workers", p.Workers),
			slog.Uint64("completed", p.Completed),
			slog.Uint64("inline", p.Inline),
			slog.Uint64("steals", p.Steals),
		))
	}
	return slog.GroupValue(attrs...)
}
