package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/backend-ledger/backend_ledger/internal/retry"
)

// Worker drains a Queue and hands messages to a Notifier. Failed deliveries
// are put back on the queue until MaxAttempts is reached.
type Worker struct {
	queue       Queue
	notifier    Notifier
	logger      *slog.Logger
	concurrency int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	sendTimeout time.Duration

	wg sync.WaitGroup
}

// WorkerConfig tunes a Worker.
type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	SendTimeout time.Duration
}

// NewWorker builds a worker; zero config fields fall back to defaults.
func NewWorker(queue Queue, notifier Notifier, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &Worker{
		queue:       queue,
		notifier:    notifier,
		logger:      logger,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
		sendTimeout: cfg.SendTimeout,
	}
}

// Start launches the worker goroutines. They stop when ctx is cancelled; use
// Wait to block until they have exited.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.loop(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker goroutine has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		message, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			if errors.Is(err, ErrMalformedMessage) {
				w.logger.Warn("dropped malformed notification", slog.Int("worker", id), slog.Any("error", err))
				continue
			}
			w.logger.Error("receive notification", slog.Int("worker", id), slog.Any("error", err))
			if retry.Sleep(ctx, w.backoffBase) != nil {
				return
			}
			continue
		}
		w.handle(ctx, message)
	}
}

func (w *Worker) handle(ctx context.Context, message Message) {
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	err := w.notifier.Send(sendCtx, message)
	cancel()
	if err == nil {
		w.logger.Debug("notification delivered", slog.String("id", message.ID), slog.String("kind", message.Kind))
		return
	}

	message.Attempts++
	attrs := []any{
		slog.String("id", message.ID),
		slog.String("kind", message.Kind),
		slog.Int("attempts", message.Attempts),
		slog.Any("error", err),
	}
	if message.Attempts >= w.maxAttempts || errors.Is(err, ErrNoRecipient) {
		w.logger.Error("notification dropped", attrs...)
		return
	}
	w.logger.Warn("notification delivery failed, requeueing", attrs...)

	if err := retry.Sleep(ctx, retry.Backoff(w.backoffBase, w.backoffMax, message.Attempts)); err != nil {
		// Shutting down: requeue immediately.
		requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := w.queue.Dispatch(requeueCtx, message); err != nil {
			w.logger.Error("requeue notification on shutdown", slog.String("id", message.ID), slog.Any("error", err))
		}
		return
	}
	if err := w.queue.Dispatch(ctx, message); err != nil {
		w.logger.Error("requeue notification", slog.String("id", message.ID), slog.Any("error", err))
	}
}
