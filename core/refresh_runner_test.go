package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// immediateScheduler keeps retry waits out of the test clock.
type immediateScheduler struct{}

func (immediateScheduler) NextDelay(int) time.Duration { return 0 }

func TestExponentialBackoffSchedulerNextDelay(t *testing.T) {
	scheduler := ExponentialBackoffScheduler{Initial: 500 * time.Millisecond, Max: 10 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 500 * time.Millisecond},
		{attempt: 1, want: 500 * time.Millisecond},
		{attempt: 2, want: time.Second},
		{attempt: 3, want: 2 * time.Second},
		{attempt: 5, want: 8 * time.Second},
		{attempt: 6, want: 10 * time.Second},
		{attempt: 20, want: 10 * time.Second},
	}
	for _, tc := range cases {
		if got := scheduler.NextDelay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}

	// Zero-valued schedulers fall back to sane bounds.
	if got := (ExponentialBackoffScheduler{}).NextDelay(1); got != 500*time.Millisecond {
		t.Fatalf("expected default initial delay, got %v", got)
	}
}

func TestWarmExpiringRefreshesCandidates(t *testing.T) {
	fixture := newServiceFixture(t, WithRefreshBackoffScheduler(immediateScheduler{}))
	ctx := context.Background()

	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 1, WorkspaceID: 10, AgentID: "agent-a", Service: "github"},
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAtMs:  fixture.expiresIn(time.Minute),
	})
	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 2, WorkspaceID: 10, AgentID: "agent-b", Service: "github"},
		AccessToken:  "at-2",
		RefreshToken: "rt-2",
		ExpiresAtMs:  fixture.expiresIn(2 * time.Minute),
	})
	// Outside the lead window: untouched.
	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 3, WorkspaceID: 10, AgentID: "agent-c", Service: "github"},
		AccessToken:  "at-3",
		RefreshToken: "rt-3",
		ExpiresAtMs:  fixture.expiresIn(24 * time.Hour),
	})

	fixture.provider.refresh = func(refreshToken string, _ RefreshHints) (TokenGrant, error) {
		return TokenGrant{
			AccessToken: "warmed-" + refreshToken,
			ExpiresAtMs: fixture.expiresIn(time.Hour),
		}, nil
	}

	result, err := fixture.service.WarmExpiring(ctx, WarmOptions{LeadWindow: 5 * time.Minute})
	if err != nil {
		t.Fatalf("WarmExpiring: %v", err)
	}
	if result.Scanned != 2 || result.Refreshed != 2 || result.Failed != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if fixture.provider.refreshCalls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", fixture.provider.refreshCalls)
	}

	warmed, err := fixture.connections.Get(ctx, GrantKey{UserID: 1, WorkspaceID: 10, AgentID: "agent-a", Service: "github"})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if warmed.AccessToken != "warmed-rt-1" {
		t.Fatalf("expected warmed token, got %q", warmed.AccessToken)
	}
}

func TestWarmExpiringRetriesTransientFailure(t *testing.T) {
	fixture := newServiceFixture(t, WithRefreshBackoffScheduler(immediateScheduler{}))
	ctx := context.Background()

	fixture.seedConnection(t, Connection{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAtMs:  fixture.expiresIn(time.Minute),
	})

	attempts := 0
	fixture.provider.refresh = func(string, RefreshHints) (TokenGrant, error) {
		attempts++
		if attempts < 3 {
			return TokenGrant{}, errors.New("temporarily unavailable")
		}
		return TokenGrant{AccessToken: "warmed", ExpiresAtMs: fixture.expiresIn(time.Hour)}, nil
	}

	result, err := fixture.service.WarmExpiring(ctx, WarmOptions{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("WarmExpiring: %v", err)
	}
	if result.Refreshed != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWarmExpiringStopsRetryingUnrecoverableErrors(t *testing.T) {
	fixture := newServiceFixture(t, WithRefreshBackoffScheduler(immediateScheduler{}))
	ctx := context.Background()

	fixture.seedConnection(t, Connection{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAtMs:  fixture.expiresIn(time.Minute),
	})
	fixture.provider.refresh = func(string, RefreshHints) (TokenGrant, error) {
		return TokenGrant{}, errors.New("invalid_grant: refresh token revoked")
	}

	result, err := fixture.service.WarmExpiring(ctx, WarmOptions{MaxAttempts: 5})
	if err != nil {
		t.Fatalf("per-connection failures must not abort the sweep: %v", err)
	}
	if result.Failed != 1 || result.Refreshed != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if fixture.provider.refreshCalls != 1 {
		t.Fatalf("a dead refresh token must not be retried, got %d calls", fixture.provider.refreshCalls)
	}
}

func TestWarmExpiringContinuesPastFailures(t *testing.T) {
	fixture := newServiceFixture(t, WithRefreshBackoffScheduler(immediateScheduler{}))
	ctx := context.Background()

	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 1, WorkspaceID: 10, AgentID: "agent-a", Service: "github"},
		AccessToken:  "at-1",
		RefreshToken: "rt-dead",
		ExpiresAtMs:  fixture.expiresIn(time.Minute),
	})
	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 2, WorkspaceID: 10, AgentID: "agent-b", Service: "github"},
		AccessToken:  "at-2",
		RefreshToken: "rt-live",
		ExpiresAtMs:  fixture.expiresIn(2 * time.Minute),
	})

	fixture.provider.refresh = func(refreshToken string, _ RefreshHints) (TokenGrant, error) {
		if refreshToken == "rt-dead" {
			return TokenGrant{}, errors.New("invalid refresh token")
		}
		return TokenGrant{AccessToken: "warmed", ExpiresAtMs: fixture.expiresIn(time.Hour)}, nil
	}

	result, err := fixture.service.WarmExpiring(ctx, WarmOptions{})
	if err != nil {
		t.Fatalf("WarmExpiring: %v", err)
	}
	if result.Scanned != 2 || result.Refreshed != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWarmExpiringSkipsCandidatesRefreshedAfterScan(t *testing.T) {
	fixture := newServiceFixture(t, WithRefreshBackoffScheduler(immediateScheduler{}))
	ctx := context.Background()

	key := GrantKey{UserID: 1, WorkspaceID: 10, AgentID: "agent-a", Service: "github"}
	fixture.seedConnection(t, Connection{
		Key:          key,
		AccessToken:  "at-stale",
		RefreshToken: "rt-1",
		ExpiresAtMs:  fixture.expiresIn(time.Minute),
	})

	// A lazy refresh lands right after the sweep takes its snapshot.
	fixture.connections.afterScan = func() {
		fixture.connections.put(Connection{
			Key:          key,
			AccessToken:  "at-lazy",
			RefreshToken: "rt-1",
			ExpiresAtMs:  fixture.expiresIn(time.Hour),
		})
	}
	fixture.provider.refresh = func(string, RefreshHints) (TokenGrant, error) {
		return TokenGrant{AccessToken: "at-redundant", ExpiresAtMs: fixture.expiresIn(time.Hour)}, nil
	}

	result, err := fixture.service.WarmExpiring(ctx, WarmOptions{LeadWindow: 5 * time.Minute})
	if err != nil {
		t.Fatalf("WarmExpiring: %v", err)
	}
	if result.Scanned != 1 || result.Skipped != 1 || result.Refreshed != 0 {
		t.Fatalf("expected the superseded candidate skipped, got %+v", result)
	}
	if fixture.provider.refreshCalls != 0 {
		t.Fatalf("expected no provider call for an already-fresh grant, got %d", fixture.provider.refreshCalls)
	}

	got, err := fixture.connections.Get(ctx, key)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.AccessToken != "at-lazy" {
		t.Fatalf("expected the lazily refreshed token kept, got %q", got.AccessToken)
	}
}

func TestWarmExpiringHonorsLimit(t *testing.T) {
	fixture := newServiceFixture(t, WithRefreshBackoffScheduler(immediateScheduler{}))
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		fixture.seedConnection(t, Connection{
			Key:          GrantKey{UserID: i, WorkspaceID: 10, AgentID: "agent-a", Service: "github"},
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresAtMs:  fixture.expiresIn(time.Duration(i) * time.Minute),
		})
	}
	fixture.provider.refresh = func(string, RefreshHints) (TokenGrant, error) {
		return TokenGrant{AccessToken: "warmed", ExpiresAtMs: fixture.expiresIn(time.Hour)}, nil
	}

	result, err := fixture.service.WarmExpiring(ctx, WarmOptions{Limit: 2})
	if err != nil {
		t.Fatalf("WarmExpiring: %v", err)
	}
	if result.Scanned != 2 || result.Refreshed != 2 {
		t.Fatalf("expected the limit to cap the sweep, got %+v", result)
	}
}

func TestWarmExpiringAbortsOnCanceledContext(t *testing.T) {
	fixture := newServiceFixture(t, WithRefreshBackoffScheduler(ExponentialBackoffScheduler{
		Initial: time.Hour,
		Max:     time.Hour,
	}))

	fixture.seedConnection(t, Connection{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAtMs:  fixture.expiresIn(time.Minute),
	})
	fixture.provider.refresh = func(string, RefreshHints) (TokenGrant, error) {
		return TokenGrant{}, errors.New("temporarily unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := fixture.service.WarmExpiring(ctx, WarmOptions{MaxAttempts: 3}); err == nil {
		t.Fatalf("expected cancellation to abort the sweep")
	}
}
