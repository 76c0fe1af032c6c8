package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestIssueSessionStoresHashNotToken(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fixture.service.IssueSession(ctx, 7)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if strings.TrimSpace(issued.Token) == "" {
		t.Fatalf("expected a raw token")
	}
	if issued.UserID != 7 {
		t.Fatalf("expected user 7, got %d", issued.UserID)
	}

	wantExpiry := fixture.clock.Now().Add(DefaultSessionTTL).UnixMilli()
	if issued.ExpiresAtMs != wantExpiry {
		t.Fatalf("expected expiry %d, got %d", wantExpiry, issued.ExpiresAtMs)
	}

	stored, ok := fixture.sessions.session(issued.SessionID)
	if !ok {
		t.Fatalf("expected persisted session")
	}
	if stored.TokenHash == issued.Token {
		t.Fatalf("raw token must never be stored")
	}
	if stored.TokenHash != HashSessionToken(issued.Token) {
		t.Fatalf("stored hash must match the issued token")
	}
}

func TestIssueSessionRejectsBadUser(t *testing.T) {
	fixture := newServiceFixture(t)
	if _, err := fixture.service.IssueSession(context.Background(), 0); err == nil {
		t.Fatalf("expected non-positive user id to be rejected")
	}
}

func TestRotateSessionIssuesNewTokenAndRevokesOld(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	first, err := fixture.service.IssueSession(ctx, 7)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	second, err := fixture.service.RotateSession(ctx, first.Token)
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if second.Token == first.Token {
		t.Fatalf("rotation must mint a fresh token")
	}
	if second.SessionID == first.SessionID {
		t.Fatalf("rotation must create a new session row")
	}
	if second.UserID != 7 {
		t.Fatalf("rotation must keep the user, got %d", second.UserID)
	}

	old, ok := fixture.sessions.session(first.SessionID)
	if !ok {
		t.Fatalf("expected old session to remain as an audit row")
	}
	if old.RevokedAtMs == 0 {
		t.Fatalf("expected old session to be revoked")
	}
	if old.LastUsedAtMs == 0 {
		t.Fatalf("expected rotation to stamp the old session's last use")
	}

	// The consumed token is dead: a second rotation with it must fail.
	if _, err := fixture.service.RotateSession(ctx, first.Token); err == nil {
		t.Fatalf("expected rotation of a consumed token to fail")
	}
}

func TestRotateSessionRejectsUnknownAndExpiredTokens(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	if _, err := fixture.service.RotateSession(ctx, "unknown-token"); err == nil {
		t.Fatalf("expected unknown token to be rejected")
	}
	if _, err := fixture.service.RotateSession(ctx, "   "); err == nil {
		t.Fatalf("expected blank token to be rejected")
	}

	issued, err := fixture.service.IssueSession(ctx, 7)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	fixture.clock.Advance(DefaultSessionTTL + time.Minute)

	_, rotateErr := fixture.service.RotateSession(ctx, issued.Token)
	if rotateErr == nil {
		t.Fatalf("expected expired token to be rejected")
	}
	var rich *goerrors.Error
	if !goerrors.As(rotateErr, &rich) || rich.TextCode != ConnectionsErrorSessionInvalid {
		t.Fatalf("expected session-invalid envelope, got %v", rotateErr)
	}
}

func TestRevokeSessionIsOneShot(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fixture.service.IssueSession(ctx, 7)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if err := fixture.service.RevokeSession(ctx, issued.Token); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if err := fixture.service.RevokeSession(ctx, issued.Token); err == nil {
		t.Fatalf("expected second revoke of the same token to fail")
	}
}

func TestLogoutRevokesSessionAndDeletesConnections(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fixture.service.IssueSession(ctx, 1)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 1, WorkspaceID: 10, AgentID: "agent-a", Service: "github"},
		RefreshToken: "rt-1",
	})
	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 1, WorkspaceID: 20, AgentID: "agent-b", Service: "google"},
		RefreshToken: "rt-2",
	})
	fixture.seedConnection(t, Connection{
		Key:          GrantKey{UserID: 2, WorkspaceID: 10, AgentID: "agent-a", Service: "github"},
		RefreshToken: "rt-other",
	})

	result, err := fixture.service.Logout(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if result.UserID != 1 {
		t.Fatalf("expected user 1, got %d", result.UserID)
	}
	if result.ConnectionsRemoved != 2 {
		t.Fatalf("expected 2 connections removed, got %d", result.ConnectionsRemoved)
	}

	// The other user's connection survives.
	otherKey := GrantKey{UserID: 2, WorkspaceID: 10, AgentID: "agent-a", Service: "github"}
	if _, err := fixture.connections.Get(ctx, otherKey); err != nil {
		t.Fatalf("expected other user's connection to survive: %v", err)
	}

	// The session is dead afterwards.
	if _, err := fixture.service.RotateSession(ctx, issued.Token); !isSessionInvalid(err) {
		t.Fatalf("expected logged-out token to be invalid, got %v", err)
	}
}

func isSessionInvalid(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionInvalid) {
		return true
	}
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.TextCode == ConnectionsErrorSessionInvalid
}

func TestHashSessionTokenIsDeterministic(t *testing.T) {
	first := HashSessionToken("raw-token")
	second := HashSessionToken("raw-token")
	if first != second {
		t.Fatalf("hash must be deterministic")
	}
	if first == HashSessionToken("other-token") {
		t.Fatalf("distinct tokens must hash differently")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256 digest, got %d chars", len(first))
	}
}
