package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchktools/fast-static/config"
)

// Main runs fast-static with args (program name excluded) and returns the
// process exit code. The same binary is both supervisor and worker; the
// role comes from WorkerEnv.
func Main(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stderr, config.Usage())
			return 0
		}
		fmt.Fprintf(os.Stderr, "fast-static: %v\n\n%s", err, config.Usage())
		return 1
	}

	logger := newLogger(os.Stderr, cfg)

	id, isWorker, err := WorkerID()
	if err != nil {
		logger.Error("worker startup failed", "error", err)
		return 1
	}
	if isWorker {
		return workerMain(cfg, logger.With("worker", id, "pid", os.Getpid()))
	}
	return supervisorMain(cfg, logger.With("role", "supervisor"))
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func workerMain(cfg *config.Config, log *slog.Logger) int {
	if err := RunWorker(context.Background(), cfg, log); err != nil {
		log.Error("worker failed", "error", err)
		return 1
	}
	return 0
}

func supervisorMain(cfg *config.Config, log *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := PrepareDocRoot(cfg.DocRoot, cfg.Port); err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}

	sup, err := NewSupervisor(SupervisorOptions{
		Workers:         cfg.Workers,
		RestartDelay:    cfg.RestartDelay,
		MaxRestartDelay: cfg.MaxRestartDelay,
		StableAfter:     cfg.StableAfter,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          log,
	})
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}
	if err := sup.Start(cfg.Addr()); err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}
	log.Info("listening", "addr", sup.Addr().String(), "workers", cfg.Workers, "root", cfg.DocRoot)

	if err := sup.Run(ctx); err != nil {
		log.Error("supervisor failed", "error", err)
		return 1
	}
	return 0
}
