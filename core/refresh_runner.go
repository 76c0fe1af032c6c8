package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultWarmMaxAttempts    = 3
	defaultWarmInitialBackoff = 500 * time.Millisecond
	defaultWarmMaxBackoff     = 10 * time.Second
	defaultWarmScanLimit      = 100
)

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultWarmInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultWarmMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type WarmOptions struct {
	LeadWindow  time.Duration
	Limit       int
	MaxAttempts int
}

type WarmResult struct {
	Scanned   int
	Refreshed int
	Failed    int
	Skipped   int
}

// WarmExpiring proactively refreshes connections whose access token expires
// inside the lead window, with bounded retry per connection. It backs the
// background warmer job and never sits on the caller-facing lazy path, which
// stays retry-free.
func (s *Service) WarmExpiring(ctx context.Context, opts WarmOptions) (result WarmResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh_warm", err, fields)
	}()

	if s == nil {
		return WarmResult{}, fmt.Errorf("core: service is nil")
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return WarmResult{}, err
	}

	lead := opts.LeadWindow
	if lead <= 0 {
		lead = s.config.Refresh.WarmLead()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultWarmScanLimit
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultWarmMaxAttempts
	}

	before := s.clock().Add(lead)
	candidates, listErr := s.connectionStore.ListExpiring(ctx, before, limit)
	if listErr != nil {
		err = s.mapError(listErr)
		return WarmResult{}, err
	}

	result.Scanned = len(candidates)
	for _, conn := range candidates {
		if strings.TrimSpace(conn.RefreshToken) == "" {
			result.Skipped++
			continue
		}
		if warmErr := s.warmOne(ctx, conn, before, maxAttempts); warmErr != nil {
			if errors.Is(warmErr, context.Canceled) || errors.Is(warmErr, context.DeadlineExceeded) {
				err = s.mapError(warmErr)
				return result, err
			}
			if errors.Is(warmErr, errWarmSuperseded) {
				result.Skipped++
				continue
			}
			result.Failed++
			s.logWarn(ctx, "warm refresh failed", map[string]any{
				"user_id":      conn.Key.UserID,
				"workspace_id": conn.Key.WorkspaceID,
				"agent_id":     conn.Key.AgentID,
				"service":      conn.Key.Service,
				"error":        warmErr.Error(),
			})
			continue
		}
		result.Refreshed++
	}

	fields["scanned"] = result.Scanned
	fields["refreshed"] = result.Refreshed
	fields["failed"] = result.Failed
	return result, nil
}

// errWarmSuperseded marks a candidate another refresh already took care of
// between the scan and the lock.
var errWarmSuperseded = errors.New("core: warm refresh superseded")

func (s *Service) warmOne(ctx context.Context, conn Connection, before time.Time, maxAttempts int) error {
	unlock := func() {}
	if s.grantLocker != nil {
		handle, lockErr := s.grantLocker.Acquire(ctx, conn.Key.String())
		if lockErr != nil {
			return lockErr
		}
		unlock = func() {
			_ = handle.Unlock(ctx)
		}
	}
	defer unlock()

	// A lazy refresh may have landed while we waited for the lock, so the
	// scan snapshot cannot be trusted: re-read and re-check the cutoff.
	current, getErr := s.connectionStore.Get(ctx, conn.Key)
	if getErr != nil {
		if errors.Is(getErr, ErrNotConnected) {
			return errWarmSuperseded
		}
		return getErr
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		return errWarmSuperseded
	}
	if current.ExpiresAtMs > before.UnixMilli() {
		return errWarmSuperseded
	}
	conn = current

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, refreshErr := s.refreshConnection(ctx, conn)
		if refreshErr == nil {
			return nil
		}
		lastErr = refreshErr

		if isUnrecoverableRefreshError(refreshErr) || attempt == maxAttempts {
			return refreshErr
		}

		delay := defaultWarmInitialBackoff
		if s.refreshScheduler != nil {
			delay = s.refreshScheduler.NextDelay(attempt)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

// isUnrecoverableRefreshError flags provider answers that retrying cannot
// fix, like a dead refresh token.
func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "reauthorization required")
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
