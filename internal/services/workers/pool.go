package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// Task represents a work item to be processed
type Task func(ctx context.Context) error

// Pool manages a pool of workers for parallel processing. The reconciler
// uses one per cycle to fan out per-job status queries.
type Pool struct {
	tasks      chan Task
	maxWorkers int
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	errors     []error
	errorsMu   sync.Mutex
	logger     arbor.ILogger
}

// NewPool creates a new worker pool
func NewPool(maxWorkers int, logger arbor.ILogger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		tasks:      make(chan Task, maxWorkers*2),
		maxWorkers: maxWorkers,
		ctx:        ctx,
		cancel:     cancel,
		errors:     make([]error, 0),
		logger:     logger,
	}
}

// Start begins the worker pool
func (p *Pool) Start() {
	p.logger.Debug().
		Int("max_workers", p.maxWorkers).
		Msg("Starting worker pool")

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit adds a task to the pool
func (p *Pool) Submit(task Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Wait waits for all queued tasks to complete
func (p *Pool) Wait() {
	close(p.tasks)
	p.wg.Wait()
}

// Shutdown cancels in-flight tasks and waits for workers to exit
func (p *Pool) Shutdown() {
	p.cancel()
	p.Wait()
}

// Errors returns all collected errors
func (p *Pool) Errors() []error {
	p.errorsMu.Lock()
	defer p.errorsMu.Unlock()
	return p.errors
}

// worker processes tasks from the queue
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}

			if err := task(p.ctx); err != nil {
				p.errorsMu.Lock()
				p.errors = append(p.errors, err)
				p.errorsMu.Unlock()

				p.logger.Error().
					Err(err).
					Int("worker_id", id).
					Msg("Pool task failed")
			}

		case <-p.ctx.Done():
			return
		}
	}
}
