package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/jobs"
)

// Queue is an in-memory implementation of jobs.Publisher and jobs.Consumer.
// It uses Go channels for task distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing;
// multi-instance deployments use the Redis-backed asynqueue package.
type Queue struct {
	taskChan    chan *jobs.ProcessTask
	closeChan   chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	workerCount int
	log         zerolog.Logger
	closed      bool
	started     bool
}

// NewQueue creates a new in-memory task queue.
// bufferSize determines how many tasks can be queued before PublishProcess blocks.
func NewQueue(bufferSize, workerCount int, log zerolog.Logger) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Queue{
		taskChan:    make(chan *jobs.ProcessTask, bufferSize),
		closeChan:   make(chan struct{}),
		workerCount: workerCount,
		log:         log,
	}
}

// PublishProcess implements the jobs.Publisher interface.
func (q *Queue) PublishProcess(ctx context.Context, task *jobs.ProcessTask) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()

	if closed {
		return fmt.Errorf("queue is closed")
	}
	if task.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	select {
	case q.taskChan <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the jobs.Consumer interface. Starting twice is a no-op.
func (q *Queue) Start(ctx context.Context, handler jobs.TaskHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if q.started {
		return nil
	}
	q.started = true

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.TaskHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case task := <-q.taskChan:
			if task == nil {
				return
			}
			q.run(ctx, task, handler)
		}
	}
}

// run executes one task. Failures are logged and dropped: the pipeline has
// already recorded them on the job.
func (q *Queue) run(ctx context.Context, task *jobs.ProcessTask, handler jobs.TaskHandler) {
	log := q.log.With().Str("job_id", task.JobID).Logger()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Task handler panicked")
		}
	}()

	if err := handler(ctx, task); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Task failed")
		return
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Task completed")
}

// Stop implements the jobs.Consumer interface.
// It stops the queue and waits for all in-flight tasks to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the jobs.Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
