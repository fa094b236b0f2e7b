package pools

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task represents a unit of work
type Task func()

// WorkerPool runs blocking tasks (file reads) off the event loop.
// Each goroutine owns a queue and steals from the others when idle.
//
// Submit and Close must be called from a single goroutine.
type WorkerPool struct {
	numWorkers int
	queues     []chan Task
	next       int
	closed     atomic.Bool
	wg         sync.WaitGroup

	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksInline    atomic.Uint64
		stealsSuccess  atomic.Uint64
	}
}

// NewWorkerPool creates a pool of numWorkers goroutines, each with a
// queue of queueSize tasks
func NewWorkerPool(numWorkers, queueSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &WorkerPool{
		numWorkers: numWorkers,
		queues:     make([]chan Task, numWorkers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan Task, queueSize)
	}

	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.run(i)
	}

	return p
}

// Submit queues task round-robin. When the chosen and the following queue
// are both full the task runs inline on the caller. Returns false once
// the pool is closed.
func (p *WorkerPool) Submit(task Task) bool {
	if p.closed.Load() {
		return false
	}

	p.stats.tasksSubmitted.Add(1)

	idx := p.next
	p.next = (p.next + 1) % p.numWorkers

	for try := 0; try < 2; try++ {
		select {
		case p.queues[(idx+try)%p.numWorkers] <- task:
			return true
		default:
		}
	}

	p.stats.tasksInline.Add(1)
	task()
	p.stats.tasksCompleted.Add(1)
	return true
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		select {
		case task, ok := <-own:
			if !ok {
				return
			}
			p.exec(task)
			continue
		default:
		}

		if p.trySteal(id) {
			continue
		}

		task, ok := <-own
		if !ok {
			return
		}
		p.exec(task)
	}
}

func (p *WorkerPool) exec(task Task) {
	task()
	p.stats.tasksCompleted.Add(1)
}

func (p *WorkerPool) trySteal(id int) bool {
	for i := 1; i < p.numWorkers; i++ {
		victim := p.queues[(id+i)%p.numWorkers]
		select {
		case task, ok := <-victim:
			if ok {
				p.stats.stealsSuccess.Add(1)
				p.exec(task)
				return true
			}
		default:
		}
	}
	return false
}

// Close stops accepting tasks and waits until every queued task has run
func (p *WorkerPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		TasksSubmitted: submitted,
		TasksCompleted: completed,
		TasksInline:    p.stats.tasksInline.Load(),
		TasksPending:   submitted - completed,
		StealsSuccess:  p.stats.stealsSuccess.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksInline    uint64
	TasksPending   uint64
	StealsSuccess  uint64
}
