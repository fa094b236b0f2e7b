package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-static/config"
	"github.com/searchktools/fast-static/core"
	"github.com/searchktools/fast-static/core/pools"
	"github.com/searchktools/fast-static/core/static"
)

// WorkerID reports whether this process was started as a worker, and its id
func WorkerID() (int, bool, error) {
	v, ok := os.LookupEnv(WorkerEnv)
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.Atoi(v)
	if err != nil || id < 0 {
		return 0, true, fmt.Errorf("bad %s %q", WorkerEnv, v)
	}
	return id, true, nil
}

// RunWorker serves the inherited listener until SIGTERM or SIGINT arrives
// or ctx is cancelled.
func RunWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	signal.Ignore(syscall.SIGPIPE)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pools.ApplyGCConfig(pools.GCConfig{
		Percent:     cfg.GCPercent,
		MemoryLimit: cfg.MemoryLimit,
	})

	// The supervisor keeps its own reference; ours is released on return.
	defer unix.Close(ListenerFd)

	if _, err := unix.GetsockoptInt(ListenerFd, unix.SOL_SOCKET, unix.SO_TYPE); err != nil {
		return fmt.Errorf("inherited listener on fd %d: %w", ListenerFd, err)
	}

	resolver, err := static.NewResolver(cfg.DocRoot)
	if err != nil {
		return err
	}

	engine := core.NewEngine(resolver, core.Options{
		PollTimeout:    cfg.PollTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		MaxConnections: cfg.MaxConnections,
		FileWorkers:    cfg.FileWorkers,
		Logger:         log,
	})

	log.Info("worker ready", "root", resolver.Root())
	if err := engine.Run(ctx, ListenerFd); err != nil {
		return err
	}
	log.Debug("final stats", "json", engine.Stats().JSON())
	return nil
}
