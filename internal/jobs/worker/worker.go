package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/yungbote/labtrace-backend/internal/jobs"
	"github.com/yungbote/labtrace-backend/internal/jobs/runtime"
	"github.com/yungbote/labtrace-backend/internal/observability"
	"github.com/yungbote/labtrace-backend/internal/pkg/httpx"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
	"github.com/yungbote/labtrace-backend/internal/platform/redisq"
)

// Consumer is the queue surface the worker needs.
type Consumer interface {
	Pop(ctx context.Context, queue string) (*redisq.Message, error)
	Ack(ctx context.Context, msg *redisq.Message) error
	Nack(ctx context.Context, msg *redisq.Message) error
	Touch(ctx context.Context, msg *redisq.Message) error
	RequeueStale(ctx context.Context, queue string) (int, error)
}

type Config struct {
	Concurrency int
	TaskTimeout time.Duration
	// MaxDeliveries bounds redelivery of transient failures.
	MaxDeliveries   int
	RequeueInterval time.Duration
	DrainTimeout    time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Concurrency:     envutil.Int("WORKER_CONCURRENCY", 4),
		TaskTimeout:     envutil.Duration("WORKER_TASK_TIMEOUT", 10*time.Minute),
		MaxDeliveries:   envutil.Int("WORKER_MAX_DELIVERIES", 3),
		RequeueInterval: envutil.Duration("WORKER_REQUEUE_INTERVAL", time.Minute),
		DrainTimeout:    envutil.Duration("WORKER_DRAIN_TIMEOUT", 30*time.Second),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Minute
	}
	if c.MaxDeliveries < 1 {
		c.MaxDeliveries = 1
	}
	if c.RequeueInterval <= 0 {
		c.RequeueInterval = time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

type Worker struct {
	log      *logger.Logger
	consumer Consumer
	registry *runtime.Registry
	cfg      Config
}

// Budget is the longest a delivery may stay claimed once its task starts.
// The queue's visibility timeout must exceed it.
func (c Config) Budget() time.Duration {
	c = c.withDefaults()
	return c.TaskTimeout + c.DrainTimeout
}

func NewWorker(baseLog *logger.Logger, consumer Consumer, registry *runtime.Registry, cfg Config) (*Worker, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	if consumer == nil || registry == nil {
		return nil, fmt.Errorf("consumer and registry are required")
	}
	return &Worker{
		log:      baseLog.With("component", "QueueWorker"),
		consumer: consumer,
		registry: registry,
		cfg:      cfg.withDefaults(),
	}, nil
}

// Run consumes every registered queue until ctx is done, then waits up to
// DrainTimeout for in-flight tasks.
func (w *Worker) Run(ctx context.Context) error {
	queues := w.registry.Queues()
	if len(queues) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	pool, err := ants.NewPool(w.cfg.Concurrency, ants.WithPanicHandler(func(r any) {
		w.log.Error("worker pool panic", "panic", r)
	}))
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer func() {
		if err := pool.ReleaseTimeout(w.cfg.DrainTimeout); err != nil {
			w.log.Warn("worker pool drain timed out", "error", err)
		}
	}()

	w.log.Info("Starting queue worker", "queues", queues, "concurrency", w.cfg.Concurrency)
	for _, q := range queues {
		w.requeueStale(ctx, q)
	}

	var wg sync.WaitGroup
	for _, q := range queues {
		h, _ := w.registry.Get(q)
		wg.Add(1)
		go func(q string, h runtime.Handler) {
			defer wg.Done()
			w.consume(ctx, pool, q, h)
		}(q, h)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.janitor(ctx, queues)
	}()
	wg.Wait()
	return nil
}

func (w *Worker) consume(ctx context.Context, pool *ants.Pool, queue string, h runtime.Handler) {
	for {
		if ctx.Err() != nil {
			w.log.Info("Worker loop stopped", "queue", queue)
			return
		}
		msg, err := w.consumer.Pop(ctx, queue)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Warn("queue pop failed", "queue", queue, "error", err)
			_ = httpx.Sleep(ctx, time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		if err := pool.Submit(func() { w.Handle(ctx, h, msg) }); err != nil {
			// message stays in the processing list and is requeued as stale
			w.log.Error("worker pool rejected task", "queue", queue, "message_id", msg.ID, "error", err)
		}
	}
}

func (w *Worker) janitor(ctx context.Context, queues []string) {
	ticker := time.NewTicker(w.cfg.RequeueInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues {
				w.requeueStale(ctx, q)
			}
		}
	}
}

func (w *Worker) requeueStale(ctx context.Context, queue string) {
	n, err := w.consumer.RequeueStale(ctx, queue)
	if err != nil {
		w.log.Warn("requeue stale failed", "queue", queue, "error", err)
		return
	}
	if n > 0 {
		w.log.Info("requeued stale deliveries", "queue", queue, "count", n)
	}
}

// Handle runs h for one delivery and settles it: success and non-retryable
// failures are acked, transient failures are nacked until MaxDeliveries.
func (w *Worker) Handle(ctx context.Context, h runtime.Handler, msg *redisq.Message) {
	start := time.Now()
	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	jc := runtime.NewContext(taskCtx, msg, w.log)
	if err := w.consumer.Touch(taskCtx, msg); err != nil {
		jc.Log.Warn("touch delivery failed", "error", err)
	}
	err := w.run(h, jc)

	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer settleCancel()

	status := "ok"
	switch {
	case err == nil:
		err = w.consumer.Ack(settleCtx, msg)
	case jobs.IsTransient(err) && msg.Deliveries < w.cfg.MaxDeliveries:
		status = "retry"
		jc.Log.Warn("task failed, redelivering", "delivery", msg.Deliveries, "error", err)
		err = w.consumer.Nack(settleCtx, msg)
	default:
		status = "error"
		jc.Log.Error("task failed, dropping", "delivery", msg.Deliveries, "error", err)
		err = w.consumer.Ack(settleCtx, msg)
	}
	if err != nil {
		jc.Log.Warn("settle delivery failed", "status", status, "error", err)
	}
	observability.Current().ObserveWorkerTask(msg.Queue, status, time.Since(start))
}

func (w *Worker) run(h runtime.Handler, jc *runtime.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			jc.Log.Error("Task handler panic", "panic", r)
			err = &panicError{Val: r}
		}
	}()
	return h.Run(jc)
}

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
