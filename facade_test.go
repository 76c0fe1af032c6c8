package connections

import (
	"context"
	"testing"

	"github.com/dima-ai/go-connections/core"
	connectionsquery "github.com/dima-ai/go-connections/query"
	"github.com/dima-ai/go-connections/security"
)

type stubFacadeService struct {
	getCalls int
}

func (s *stubFacadeService) StoreGrant(context.Context, core.StoreGrantInput) (core.Connection, error) {
	return core.Connection{}, nil
}

func (s *stubFacadeService) CompleteGrant(context.Context, core.CompleteGrantRequest) (core.CompleteGrantResult, error) {
	return core.CompleteGrantResult{}, nil
}

func (s *stubFacadeService) ValidAccessToken(context.Context, core.GrantKey) (string, error) {
	return "", nil
}

func (s *stubFacadeService) IssueSession(context.Context, int64) (core.IssuedSession, error) {
	return core.IssuedSession{}, nil
}

func (s *stubFacadeService) RotateSession(context.Context, string) (core.IssuedSession, error) {
	return core.IssuedSession{}, nil
}

func (s *stubFacadeService) RevokeSession(context.Context, string) error { return nil }

func (s *stubFacadeService) Logout(context.Context, string) (core.LogoutResult, error) {
	return core.LogoutResult{}, nil
}

func (s *stubFacadeService) WarmExpiring(context.Context, core.WarmOptions) (core.WarmResult, error) {
	return core.WarmResult{}, nil
}

func (s *stubFacadeService) Connections(context.Context, int64, int64) ([]core.ConnectionRef, error) {
	return nil, nil
}

func (s *stubFacadeService) Connected(context.Context, core.GrantKey) (bool, error) {
	return false, nil
}

func (s *stubFacadeService) Get(context.Context, core.GrantKey) (core.Connection, error) {
	s.getCalls++
	return core.Connection{}, nil
}

func TestNewFacadeRequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
}

func TestNewFacadeWiresCommandsAndQueries(t *testing.T) {
	service := &stubFacadeService{}
	facade, err := NewFacade(service)
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}

	commands := facade.Commands()
	if commands.StoreGrant == nil || commands.CompleteGrant == nil || commands.RefreshToken == nil {
		t.Fatalf("grant commands not wired: %+v", commands)
	}
	if commands.IssueSession == nil || commands.RotateSession == nil || commands.RevokeSession == nil || commands.Logout == nil {
		t.Fatalf("session commands not wired: %+v", commands)
	}
	if commands.WarmExpiring == nil {
		t.Fatalf("warm command not wired")
	}

	queries := facade.Queries()
	if queries.GetConnection == nil || queries.ListConnections == nil || queries.Connected == nil || queries.ValidateRedirect == nil {
		t.Fatalf("queries not wired: %+v", queries)
	}
	if facade.Service() == nil {
		t.Fatalf("expected service accessor to round-trip")
	}
}

func TestNewFacadeResolvesStoreReaderFromService(t *testing.T) {
	service := &stubFacadeService{}
	facade, err := NewFacade(service)
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}

	key := core.GrantKey{UserID: 1, WorkspaceID: 10, AgentID: "agent-a", Service: "github"}
	if _, err := facade.Queries().GetConnection.Query(context.Background(), connectionsquery.GetConnectionMessage{Key: key}); err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if service.getCalls != 1 {
		t.Fatalf("expected reader resolved from service, got %d calls", service.getCalls)
	}
}

func TestNewFacadeResolvesRedirectPolicyFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redirect.AllowedSuffixes = []string{"dima-ai.com"}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	facade, err := NewFacade(service)
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}

	allowed, err := facade.Queries().ValidateRedirect.Query(context.Background(), connectionsquery.ValidateRedirectMessage{URL: "https://dev.dima-ai.com/callback"})
	if err != nil {
		t.Fatalf("ValidateRedirect: %v", err)
	}
	if !allowed {
		t.Fatalf("expected suffix subdomain to pass")
	}
}

func TestNewFacadeRedirectPolicyOverride(t *testing.T) {
	service := &stubFacadeService{}
	policy := security.NewRedirectPolicy([]string{"https://app.dima-ai.com"}, nil)
	facade, err := NewFacade(service, WithRedirectPolicy(policy))
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}

	allowed, err := facade.Queries().ValidateRedirect.Query(context.Background(), connectionsquery.ValidateRedirectMessage{URL: "https://app.dima-ai.com/done"})
	if err != nil {
		t.Fatalf("ValidateRedirect: %v", err)
	}
	if !allowed {
		t.Fatalf("expected listed origin to pass")
	}

	allowed, err = facade.Queries().ValidateRedirect.Query(context.Background(), connectionsquery.ValidateRedirectMessage{URL: "https://other.dima-ai.com/done"})
	if err != nil {
		t.Fatalf("ValidateRedirect: %v", err)
	}
	if allowed {
		t.Fatalf("expected unlisted origin to be rejected")
	}
}

func TestNilFacadeAccessors(t *testing.T) {
	var facade *Facade
	if facade.Service() != nil {
		t.Fatalf("expected nil service from nil facade")
	}
	if facade.Commands().StoreGrant != nil {
		t.Fatalf("expected zero commands from nil facade")
	}
	if facade.Queries().GetConnection != nil {
		t.Fatalf("expected zero queries from nil facade")
	}
}
