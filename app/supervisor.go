package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// WorkerEnv marks a process as a worker and carries its id
const WorkerEnv = "FAST_STATIC_WORKER_ID"

// tickInterval paces delayed restarts and spawn retries
const tickInterval = time.Second

var ErrNotStarted = errors.New("supervisor not started")

// WorkerStatus is the lifecycle state of a worker slot
type WorkerStatus int

const (
	WorkerRunning WorkerStatus = iota
	WorkerExited
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerExited:
		return "exited"
	}
	return "unknown"
}

// Worker is one worker slot. The id is fixed for the slot's lifetime; the
// process behind it is replaced on every restart.
type Worker struct {
	ID        int
	Pid       int
	Status    WorkerStatus
	Restarts  int
	StartedAt time.Time

	process   *os.Process
	nextStart time.Time
	delay     time.Duration
}

// SupervisorOptions configures a Supervisor
type SupervisorOptions struct {
	Workers int

	// Executable and Args are what every worker runs. Defaults are the
	// running binary and its own arguments.
	Executable string
	Args       []string
	// Env is the worker environment without WorkerEnv. Nil inherits ours.
	Env []string

	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	StableAfter     time.Duration
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

type exitEvent struct {
	id      int
	process *os.Process
	state   *os.ProcessState
	err     error
}

// Supervisor owns the listening socket and keeps Workers worker processes
// running on it. Worker state is only touched by Start and the Run loop;
// mu guards it for Workers readers.
type Supervisor struct {
	opts SupervisorOptions
	log  *slog.Logger

	listener *net.TCPListener

	mu      sync.Mutex
	workers []*Worker
	exits   chan exitEvent
}

// NewSupervisor creates a supervisor. Call Start, then Run.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("need at least one worker, got %d", opts.Workers)
	}
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		opts.Executable = exe
		if opts.Args == nil {
			opts.Args = os.Args[1:]
		}
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.MaxRestartDelay < opts.RestartDelay {
		opts.MaxRestartDelay = opts.RestartDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Supervisor{
		opts:  opts,
		log:   opts.Logger,
		exits: make(chan exitEvent, opts.Workers),
	}, nil
}

// Start opens the listener on addr and spawns the workers. If any worker
// fails to start, the ones already running are killed and the listener is
// closed.
func (s *Supervisor) Start(addr string) error {
	ln, err := listen(addr)
	if err != nil {
		return err
	}
	s.listener = ln

	if err := s.spawnWorkers(); err != nil {
		s.killAll()
		s.awaitAll()
		ln.Close()
		return err
	}
	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Supervisor) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Workers returns a snapshot of the worker table
func (s *Supervisor) Workers() []Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Worker, len(s.workers))
	for i, w := range s.workers {
		out[i] = *w
		out[i].process = nil
	}
	return out
}

func (s *Supervisor) spawnWorkers() error {
	for id := 0; id < s.opts.Workers; id++ {
		w := &Worker{ID: id}
		s.mu.Lock()
		s.workers = append(s.workers, w)
		s.mu.Unlock()

		if err := s.startWorker(w); err != nil {
			return fmt.Errorf("start worker %d: %w", id, err)
		}
	}
	return nil
}

// startWorker launches a process for w and a watcher that reports its exit
func (s *Supervisor) startWorker(w *Worker) error {
	proc, err := s.spawn(w.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	w.process = proc
	w.Pid = proc.Pid
	w.Status = WorkerRunning
	w.StartedAt = time.Now()
	s.mu.Unlock()

	go func() {
		state, err := proc.Wait()
		s.exits <- exitEvent{id: w.ID, process: proc, state: state, err: err}
	}()

	s.log.Info("worker started", "worker", w.ID, "pid", proc.Pid)
	return nil
}

func (s *Supervisor) spawn(id int) (*os.Process, error) {
	env := make([]string, 0, len(s.opts.Env)+1)
	for _, kv := range s.opts.Env {
		if !strings.HasPrefix(kv, WorkerEnv+"=") {
			env = append(env, kv)
		}
	}
	env = append(env, WorkerEnv+"="+strconv.Itoa(id))

	argv := append([]string{s.opts.Executable}, s.opts.Args...)

	var pid int
	err := listenerFd(s.listener, func(fd uintptr) error {
		var err error
		pid, err = syscall.ForkExec(s.opts.Executable, argv, &syscall.ProcAttr{
			Env:   env,
			Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), fd},
			Sys:   workerSysProcAttr(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return os.FindProcess(pid)
}

// Run supervises the workers until ctx is cancelled, then shuts them down
// and closes the listener.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.listener == nil {
		return ErrNotStarted
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.exits:
			s.handleExit(ev, time.Now())
		case now := <-ticker.C:
			s.restartDue(now)
		}
	}
}

func (s *Supervisor) handleExit(ev exitEvent, now time.Time) {
	w := s.workers[ev.id]
	if w.process != ev.process {
		return
	}

	uptime := now.Sub(w.StartedAt)
	s.mu.Lock()
	w.Status = WorkerExited
	w.process = nil
	w.delay = restartDelay(w.delay, uptime, s.opts)
	w.nextStart = now.Add(w.delay)
	s.mu.Unlock()

	s.log.Warn("worker exited",
		"worker", w.ID, "pid", ev.process.Pid, "status", exitStatus(ev),
		"uptime", uptime.Round(time.Millisecond), "restart_in", w.delay)

	if w.delay == 0 {
		s.restart(w, now)
	}
}

// restartDelay returns how long to wait before restarting a worker that
// ran for uptime. A worker that ran stably restarts at once; each exit
// within StableAfter doubles the wait up to MaxRestartDelay.
func restartDelay(prev, uptime time.Duration, opts SupervisorOptions) time.Duration {
	if uptime >= opts.StableAfter {
		return 0
	}
	if prev == 0 {
		return opts.RestartDelay
	}
	next := prev * 2
	if next > opts.MaxRestartDelay {
		next = opts.MaxRestartDelay
	}
	return next
}

func (s *Supervisor) restart(w *Worker, now time.Time) {
	if err := s.startWorker(w); err != nil {
		s.mu.Lock()
		w.nextStart = now.Add(tickInterval)
		s.mu.Unlock()
		s.log.Error("worker restart failed", "worker", w.ID, "error", err)
		return
	}
	s.mu.Lock()
	w.Restarts++
	s.mu.Unlock()
}

func (s *Supervisor) restartDue(now time.Time) {
	for _, w := range s.workers {
		if w.Status == WorkerExited && !now.Before(w.nextStart) {
			s.restart(w, now)
		}
	}
}

// shutdown sends SIGTERM to every worker and waits for them; stragglers are
// killed after ShutdownTimeout.
func (s *Supervisor) shutdown() {
	s.log.Info("shutting down", "workers", s.running())

	for _, w := range s.workers {
		if w.process != nil {
			if err := w.process.Signal(syscall.SIGTERM); err != nil {
				s.log.Warn("signal worker", "worker", w.ID, "error", err)
			}
		}
	}

	deadline := time.NewTimer(s.opts.ShutdownTimeout)
	defer deadline.Stop()

	for s.running() > 0 {
		select {
		case ev := <-s.exits:
			s.markExited(ev)
		case <-deadline.C:
			s.log.Warn("shutdown timeout, killing workers", "remaining", s.running())
			s.killAll()
		}
	}

	if err := s.listener.Close(); err != nil {
		s.log.Warn("close listener", "error", err)
	}
	s.log.Info("shutdown complete")
}

func (s *Supervisor) markExited(ev exitEvent) {
	w := s.workers[ev.id]
	if w.process != ev.process {
		return
	}
	s.mu.Lock()
	w.Status = WorkerExited
	w.process = nil
	s.mu.Unlock()
	s.log.Info("worker stopped", "worker", w.ID, "pid", ev.process.Pid, "status", exitStatus(ev))
}

func (s *Supervisor) killAll() {
	for _, w := range s.workers {
		if w.process != nil {
			w.process.Kill()
		}
	}
}

// awaitAll collects exit events until no worker is running
func (s *Supervisor) awaitAll() {
	for s.running() > 0 {
		s.markExited(<-s.exits)
	}
}

func (s *Supervisor) running() int {
	n := 0
	for _, w := range s.workers {
		if w.process != nil {
			n++
		}
	}
	return n
}

func exitStatus(ev exitEvent) string {
	if ev.err != nil {
		return ev.err.Error()
	}
	return ev.state.String()
}
