package gateway

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Pool runs submitted work on a fixed set of workers so command execution
// never rides the connection goroutines. Submission is non-blocking: a full
// queue reports busy instead of stalling the caller.
type Pool struct {
	tasks   chan func()
	workers int
	logger  *log.Logger

	wg       sync.WaitGroup
	startOne sync.Once
	stopOne  sync.Once
}

// NewPool sizes a pool. Non-positive workers or depth fall back to 1 worker
// and an unbuffered queue.
func NewPool(workers, depth int, logger *log.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		tasks:   make(chan func(), depth),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. Safe to call more than once.
func (p *Pool) Start() {
	p.startOne.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
		p.logger.Debug("worker pool started", "workers", p.workers, "queue", cap(p.tasks))
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		fn()
	}
}

// Submit queues fn for execution. Returns false when the queue is full or
// the pool has stopped.
func (p *Pool) Submit(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	// Submitting to a stopped pool would panic on the closed channel;
	// report busy instead.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case p.tasks <- fn:
		return true
	default:
		p.logger.Warn("worker pool queue full, rejecting task")
		return false
	}
}

// Stop closes the queue and waits for in-flight work to finish.
func (p *Pool) Stop() {
	p.stopOne.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}
