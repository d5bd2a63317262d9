// Package asynqueue carries process tasks through Redis with asynq, so the API
// and one or more worker processes can share a persistent job store.
package asynqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-extractor/internal/jobs"
)

// TaskProcessStatement is enqueued each time a job is submitted for async processing.
const TaskProcessStatement = "statement:process"

// RedisConfig locates the Redis instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) opt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// NewTask encodes a ProcessTask. Tasks are never retried by asynq: a failed
// pipeline run is terminal for its job.
func NewTask(task *jobs.ProcessTask) (*asynq.Task, error) {
	if task.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskProcessStatement, data, asynq.MaxRetry(0)), nil
}

// DecodeTask reverses NewTask.
func DecodeTask(t *asynq.Task) (*jobs.ProcessTask, error) {
	var task jobs.ProcessTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if task.JobID == "" {
		return nil, fmt.Errorf("decode payload: job ID is empty")
	}
	return &task, nil
}

// Publisher enqueues process tasks on Redis.
type Publisher struct {
	client *asynq.Client
	queue  string
}

// NewPublisher creates a Publisher. queue may be empty for asynq's default queue.
func NewPublisher(cfg RedisConfig, queue string) *Publisher {
	return &Publisher{client: asynq.NewClient(cfg.opt()), queue: queue}
}

// PublishProcess implements the jobs.Publisher interface.
func (p *Publisher) PublishProcess(ctx context.Context, task *jobs.ProcessTask) error {
	t, err := NewTask(task)
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if p.queue != "" {
		opts = append(opts, asynq.Queue(p.queue))
	}
	if _, err := p.client.EnqueueContext(ctx, t, opts...); err != nil {
		return fmt.Errorf("enqueue process task: %w", err)
	}
	return nil
}

// Close implements the jobs.Publisher interface.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Consumer runs an asynq server that hands process tasks to a jobs.TaskHandler.
type Consumer struct {
	server  *asynq.Server
	log     zerolog.Logger
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewConsumer creates a Consumer with the given concurrency.
func NewConsumer(cfg RedisConfig, concurrency int, queue string, log zerolog.Logger) *Consumer {
	acfg := asynq.Config{
		Concurrency: concurrency,
		Logger:      &asynqLogger{log: log.With().Str("component", "asynq").Logger()},
	}
	if queue != "" {
		acfg.Queues = map[string]int{queue: 1}
	}
	return &Consumer{server: asynq.NewServer(cfg.opt(), acfg), log: log}
}

// Handler adapts a jobs.TaskHandler to an asynq mux.
func Handler(handler jobs.TaskHandler, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessStatement, func(ctx context.Context, t *asynq.Task) error {
		task, err := DecodeTask(t)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := handler(ctx, task); err != nil {
			log.Error().Err(err).Str("job_id", task.JobID).Msg("Task failed")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	})
	return mux
}

// Start implements the jobs.Consumer interface. It does not block.
func (c *Consumer) Start(ctx context.Context, handler jobs.TaskHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("consumer is stopped")
	}
	if c.started {
		return nil
	}
	if err := c.server.Start(Handler(handler, c.log)); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	c.started = true
	return nil
}

// Stop implements the jobs.Consumer interface. asynq waits for in-flight
// tasks up to its own shutdown timeout; ctx is not consulted.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || !c.started {
		c.stopped = true
		return nil
	}
	c.stopped = true
	c.server.Shutdown()
	return nil
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

var _ jobs.Publisher = (*Publisher)(nil)
var _ jobs.Consumer = (*Consumer)(nil)
