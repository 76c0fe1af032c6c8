package connections

import (
	"fmt"

	connectionscommand "github.com/dima-ai/go-connections/command"
	"github.com/dima-ai/go-connections/core"
	connectionsquery "github.com/dima-ai/go-connections/query"
	"github.com/dima-ai/go-connections/security"
)

// CommandQueryService is the full surface the facade wires: every mutating
// operation plus the read-only connection views.
type CommandQueryService interface {
	connectionscommand.MutatingService
	connectionsquery.ConnectionReader
}

type Commands struct {
	StoreGrant    *connectionscommand.StoreGrantCommand
	CompleteGrant *connectionscommand.CompleteGrantCommand
	RefreshToken  *connectionscommand.RefreshTokenCommand
	IssueSession  *connectionscommand.IssueSessionCommand
	RotateSession *connectionscommand.RotateSessionCommand
	RevokeSession *connectionscommand.RevokeSessionCommand
	Logout        *connectionscommand.LogoutCommand
	WarmExpiring  *connectionscommand.WarmExpiringCommand
}

type Queries struct {
	GetConnection    *connectionsquery.GetConnectionQuery
	ListConnections  *connectionsquery.ListConnectionsQuery
	Connected        *connectionsquery.ConnectedQuery
	ValidateRedirect *connectionsquery.ValidateRedirectQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	storeReader    connectionsquery.ConnectionStoreReader
	redirectPolicy *security.RedirectPolicy
}

// WithConnectionStoreReader overrides the store reader backing GetConnection.
// By default the facade resolves it from the service dependencies.
func WithConnectionStoreReader(reader connectionsquery.ConnectionStoreReader) FacadeOption {
	return func(options *facadeOptions) {
		options.storeReader = reader
	}
}

// WithRedirectPolicy overrides the redirect allow-list backing
// ValidateRedirect. By default the facade builds one from the service config.
func WithRedirectPolicy(policy security.RedirectPolicy) FacadeOption {
	return func(options *facadeOptions) {
		options.redirectPolicy = &policy
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("connections: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.storeReader
	if reader == nil {
		reader = resolveStoreReader(service)
	}
	policy := resolveRedirectPolicy(service, cfg.redirectPolicy)

	facade := &Facade{service: service}
	facade.commands = Commands{
		StoreGrant:    connectionscommand.NewStoreGrantCommand(service),
		CompleteGrant: connectionscommand.NewCompleteGrantCommand(service),
		RefreshToken:  connectionscommand.NewRefreshTokenCommand(service),
		IssueSession:  connectionscommand.NewIssueSessionCommand(service),
		RotateSession: connectionscommand.NewRotateSessionCommand(service),
		RevokeSession: connectionscommand.NewRevokeSessionCommand(service),
		Logout:        connectionscommand.NewLogoutCommand(service),
		WarmExpiring:  connectionscommand.NewWarmExpiringCommand(service),
	}
	facade.queries = Queries{
		GetConnection:    connectionsquery.NewGetConnectionQuery(reader),
		ListConnections:  connectionsquery.NewListConnectionsQuery(service),
		Connected:        connectionsquery.NewConnectedQuery(service),
		ValidateRedirect: connectionsquery.NewValidateRedirectQuery(policy),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveStoreReader(service CommandQueryService) connectionsquery.ConnectionStoreReader {
	if reader, ok := service.(connectionsquery.ConnectionStoreReader); ok {
		return reader
	}
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	if store := provider.Dependencies().ConnectionStore; store != nil {
		return store
	}
	return nil
}

func resolveRedirectPolicy(service CommandQueryService, override *security.RedirectPolicy) security.RedirectPolicy {
	if override != nil {
		return *override
	}
	provider, ok := service.(interface {
		Config() core.Config
	})
	if !ok {
		return security.NewRedirectPolicy(nil, nil)
	}
	redirect := provider.Config().Redirect
	return security.NewRedirectPolicy(redirect.AllowedOrigins, redirect.AllowedSuffixes)
}
