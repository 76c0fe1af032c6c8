package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dima-ai/go-connections/core"

	"github.com/goliatone/go-job/queue"
)

type stubWarmService struct {
	calls   int
	lastOpt core.WarmOptions
	result  core.WarmResult
	err     error
}

func (s *stubWarmService) WarmExpiring(_ context.Context, opts core.WarmOptions) (core.WarmResult, error) {
	s.calls++
	s.lastOpt = opts
	return s.result, s.err
}

type stubDequeuer struct {
	deliveries []*stubQueueDelivery
	err        error
}

func (d *stubDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if d.err != nil {
		return nil, d.err
	}
	if len(d.deliveries) == 0 {
		return nil, errors.New("queue drained")
	}
	next := d.deliveries[0]
	d.deliveries = d.deliveries[1:]
	return next, nil
}

func warmDelivery(opts core.WarmOptions, idempotencyKey string) *stubQueueDelivery {
	return &stubQueueDelivery{message: ToExecutionMessage(NewWarmRefreshMessage(opts, idempotencyKey))}
}

func TestWarmerAcksSuccessfulRun(t *testing.T) {
	service := &stubWarmService{result: core.WarmResult{Scanned: 4, Refreshed: 3, Skipped: 1}}
	delivery := warmDelivery(core.WarmOptions{LeadWindow: 5 * time.Minute, Limit: 20}, "warm-1")
	dequeuer := &stubDequeuer{deliveries: []*stubQueueDelivery{delivery}}

	warmer, err := NewWarmer(service, dequeuer, RetryPolicy{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("NewWarmer: %v", err)
	}

	if err := warmer.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if service.calls != 1 {
		t.Fatalf("expected warm run, got %d calls", service.calls)
	}
	if service.lastOpt.LeadWindow != 5*time.Minute || service.lastOpt.Limit != 20 {
		t.Fatalf("unexpected warm options %+v", service.lastOpt)
	}
	if delivery.acks != 1 {
		t.Fatalf("expected ack after a successful run")
	}
}

func TestWarmerNacksFailedRunThenDeadLetters(t *testing.T) {
	service := &stubWarmService{err: errors.New("provider unavailable")}
	first := warmDelivery(core.WarmOptions{}, "warm-2")
	second := warmDelivery(core.WarmOptions{}, "warm-2")
	dequeuer := &stubDequeuer{deliveries: []*stubQueueDelivery{first, second}}

	warmer, err := NewWarmer(service, dequeuer, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true},
		WithWarmerRetryDelay(30*time.Second))
	if err != nil {
		t.Fatalf("NewWarmer: %v", err)
	}

	if err := warmer.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !first.lastNack.Requeue || first.lastNack.DeadLetter {
		t.Fatalf("expected first failure to requeue, got %+v", first.lastNack)
	}
	if first.lastNack.Delay != 30*time.Second {
		t.Fatalf("expected retry delay, got %v", first.lastNack.Delay)
	}

	if err := warmer.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !second.lastNack.DeadLetter || second.lastNack.Requeue {
		t.Fatalf("expected dead letter at max attempts, got %+v", second.lastNack)
	}
}

func TestWarmerDeadLettersMalformedMessage(t *testing.T) {
	service := &stubWarmService{}
	delivery := &stubQueueDelivery{message: ToExecutionMessage(&core.JobExecutionMessage{
		JobID:      JobIDWarmRefresh,
		Parameters: map[string]any{"lead_ms": "not-a-number"},
	})}
	dequeuer := &stubDequeuer{deliveries: []*stubQueueDelivery{delivery}}

	warmer, err := NewWarmer(service, dequeuer, RetryPolicy{})
	if err != nil {
		t.Fatalf("NewWarmer: %v", err)
	}
	if err := warmer.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if service.calls != 0 {
		t.Fatalf("expected malformed message to skip the service")
	}
	if !delivery.lastNack.DeadLetter {
		t.Fatalf("expected dead letter, got %+v", delivery.lastNack)
	}
}

func TestNewWarmerRequiresDependencies(t *testing.T) {
	if _, err := NewWarmer(nil, &stubDequeuer{}, RetryPolicy{}); err == nil {
		t.Fatalf("expected nil service to be rejected")
	}
	if _, err := NewWarmer(&stubWarmService{}, nil, RetryPolicy{}); err == nil {
		t.Fatalf("expected nil dequeuer to be rejected")
	}
}
