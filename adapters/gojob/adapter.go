package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dima-ai/go-connections/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// JobIDWarmRefresh identifies the background job that refreshes grants
// approaching expiry ahead of caller demand.
const JobIDWarmRefresh = "connections.refresh.warm"

const (
	paramWarmLeadMs      = "lead_ms"
	paramWarmLimit       = "limit"
	paramWarmMaxAttempts = "max_attempts"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// NewWarmRefreshMessage builds the execution message for one warm-refresh run.
// The idempotency key deduplicates overlapping schedules of the same window.
func NewWarmRefreshMessage(opts core.WarmOptions, idempotencyKey string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID: JobIDWarmRefresh,
		Parameters: map[string]any{
			paramWarmLeadMs:      opts.LeadWindow.Milliseconds(),
			paramWarmLimit:       opts.Limit,
			paramWarmMaxAttempts: opts.MaxAttempts,
		},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		DedupPolicy:    "drop",
	}
}

// WarmOptionsFromMessage recovers warm options from a queued message. Missing
// parameters fall back to zero values so the service applies its configured
// defaults.
func WarmOptionsFromMessage(msg *core.JobExecutionMessage) (core.WarmOptions, error) {
	if msg == nil {
		return core.WarmOptions{}, fmt.Errorf("gojob: execution message is required")
	}
	if msg.JobID != JobIDWarmRefresh {
		return core.WarmOptions{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	opts := core.WarmOptions{}
	leadMs, err := intParameter(msg.Parameters, paramWarmLeadMs)
	if err != nil {
		return core.WarmOptions{}, err
	}
	opts.LeadWindow = time.Duration(leadMs) * time.Millisecond
	limit, err := intParameter(msg.Parameters, paramWarmLimit)
	if err != nil {
		return core.WarmOptions{}, err
	}
	opts.Limit = int(limit)
	attempts, err := intParameter(msg.Parameters, paramWarmMaxAttempts)
	if err != nil {
		return core.WarmOptions{}, err
	}
	opts.MaxAttempts = int(attempts)
	return opts, nil
}

func intParameter(params map[string]any, key string) (int64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, nil
	}
	switch value := raw.(type) {
	case int:
		return int64(value), nil
	case int64:
		return value, nil
	case float64:
		return int64(value), nil
	default:
		return 0, fmt.Errorf("gojob: parameter %q has unsupported type %T", key, raw)
	}
}

// ToExecutionMessage maps a connections runtime message to go-job.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

// FromExecutionMessage maps a go-job message into the connections contract.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// ToNackOptions maps connections nack options to go-job.
func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

// FromNackOptions maps go-job nack options to connections.
func FromNackOptions(opts queue.NackOptions) core.JobNackOptions {
	return core.JobNackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, 0)
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, attempt)
	return d.delivery.Nack(ctx, ToNackOptions(normalized))
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
)
