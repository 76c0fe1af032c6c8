package gojob

import (
	"context"
	"fmt"
	"time"

	"github.com/dima-ai/go-connections/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// WarmService is the slice of the connection service the warm-refresh job
// drives.
type WarmService interface {
	WarmExpiring(ctx context.Context, opts core.WarmOptions) (core.WarmResult, error)
}

// Warmer consumes warm-refresh jobs off a go-job queue and runs them against
// the connection service. A failed run is nacked with a bounded requeue so a
// flaky provider does not pin the queue.
type Warmer struct {
	service  WarmService
	dequeuer queue.Dequeuer
	policy   RetryPolicy
	logger   job.Logger
	retry    time.Duration
	attempts map[string]int
}

type WarmerOption func(*Warmer)

// WithWarmerLogger sets the job logger. Use gologger.ToJobLogger to bridge an
// application logger.
func WithWarmerLogger(logger job.Logger) WarmerOption {
	return func(w *Warmer) {
		w.logger = logger
	}
}

// WithWarmerRetryDelay sets the requeue delay applied after a failed run.
func WithWarmerRetryDelay(delay time.Duration) WarmerOption {
	return func(w *Warmer) {
		if delay > 0 {
			w.retry = delay
		}
	}
}

func NewWarmer(service WarmService, dequeuer queue.Dequeuer, policy RetryPolicy, opts ...WarmerOption) (*Warmer, error) {
	if service == nil {
		return nil, fmt.Errorf("gojob: warm service is required")
	}
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	warmer := &Warmer{
		service:  service,
		dequeuer: dequeuer,
		policy:   policy,
		retry:    time.Minute,
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(warmer)
		}
	}
	return warmer, nil
}

// Run consumes deliveries until the context is canceled or the dequeuer
// fails.
func (w *Warmer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.RunOnce(ctx); err != nil {
			return err
		}
	}
}

// RunOnce handles a single delivery: parse, warm, then ack or nack.
func (w *Warmer) RunOnce(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("gojob: warmer is not configured")
	}
	raw, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	delivery := NewDeliveryAdapter(raw, w.policy)
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "empty delivery"})
	}

	opts, parseErr := WarmOptionsFromMessage(msg)
	if parseErr != nil {
		w.logError("warm refresh message rejected", "error", parseErr)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: parseErr.Error()})
	}

	result, warmErr := w.service.WarmExpiring(ctx, opts)
	if warmErr != nil {
		attempt := w.bumpAttempt(msg.IdempotencyKey)
		w.logError("warm refresh run failed", "error", warmErr, "attempt", attempt)
		return delivery.NackForAttempt(ctx, core.JobNackOptions{
			Delay:   w.retry,
			Requeue: true,
			Reason:  warmErr.Error(),
		}, attempt)
	}

	w.clearAttempt(msg.IdempotencyKey)
	w.logInfo("warm refresh run completed",
		"scanned", result.Scanned,
		"refreshed", result.Refreshed,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return delivery.Ack(ctx)
}

func (w *Warmer) bumpAttempt(key string) int {
	if key == "" {
		return 1
	}
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Warmer) clearAttempt(key string) {
	if key != "" {
		delete(w.attempts, key)
	}
}

func (w *Warmer) logInfo(message string, args ...any) {
	if w.logger != nil {
		w.logger.Info(message, args...)
	}
}

func (w *Warmer) logError(message string, args ...any) {
	if w.logger != nil {
		w.logger.Error(message, args...)
	}
}
