package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/dima-ai/go-connections/core"
)

// MutatingService is the slice of the connection service the command bus
// drives: every operation here can write.
type MutatingService interface {
	StoreGrant(ctx context.Context, in core.StoreGrantInput) (core.Connection, error)
	CompleteGrant(ctx context.Context, req core.CompleteGrantRequest) (core.CompleteGrantResult, error)
	ValidAccessToken(ctx context.Context, key core.GrantKey) (string, error)
	IssueSession(ctx context.Context, userID int64) (core.IssuedSession, error)
	RotateSession(ctx context.Context, rawToken string) (core.IssuedSession, error)
	RevokeSession(ctx context.Context, rawToken string) error
	Logout(ctx context.Context, rawToken string) (core.LogoutResult, error)
	WarmExpiring(ctx context.Context, opts core.WarmOptions) (core.WarmResult, error)
}

type StoreGrantCommand struct {
	service MutatingService
}

func NewStoreGrantCommand(service MutatingService) *StoreGrantCommand {
	return &StoreGrantCommand{service: service}
}

func (c *StoreGrantCommand) Execute(ctx context.Context, msg StoreGrantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: grant service is required")
	}
	out, err := c.service.StoreGrant(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteGrantCommand struct {
	service MutatingService
}

func NewCompleteGrantCommand(service MutatingService) *CompleteGrantCommand {
	return &CompleteGrantCommand{service: service}
}

func (c *CompleteGrantCommand) Execute(ctx context.Context, msg CompleteGrantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: grant service is required")
	}
	out, err := c.service.CompleteGrant(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshTokenCommand struct {
	service MutatingService
}

func NewRefreshTokenCommand(service MutatingService) *RefreshTokenCommand {
	return &RefreshTokenCommand{service: service}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token service is required")
	}
	token, err := c.service.ValidAccessToken(ctx, msg.Key)
	if err != nil {
		return err
	}
	storeResult(ctx, token)
	return nil
}

type IssueSessionCommand struct {
	service MutatingService
}

func NewIssueSessionCommand(service MutatingService) *IssueSessionCommand {
	return &IssueSessionCommand{service: service}
}

func (c *IssueSessionCommand) Execute(ctx context.Context, msg IssueSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.IssueSession(ctx, msg.UserID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RotateSessionCommand struct {
	service MutatingService
}

func NewRotateSessionCommand(service MutatingService) *RotateSessionCommand {
	return &RotateSessionCommand{service: service}
}

func (c *RotateSessionCommand) Execute(ctx context.Context, msg RotateSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.RotateSession(ctx, msg.Token)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeSessionCommand struct {
	service MutatingService
}

func NewRevokeSessionCommand(service MutatingService) *RevokeSessionCommand {
	return &RevokeSessionCommand{service: service}
}

func (c *RevokeSessionCommand) Execute(ctx context.Context, msg RevokeSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	return c.service.RevokeSession(ctx, msg.Token)
}

type LogoutCommand struct {
	service MutatingService
}

func NewLogoutCommand(service MutatingService) *LogoutCommand {
	return &LogoutCommand{service: service}
}

func (c *LogoutCommand) Execute(ctx context.Context, msg LogoutMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: logout service is required")
	}
	out, err := c.service.Logout(ctx, msg.Token)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type WarmExpiringCommand struct {
	service MutatingService
}

func NewWarmExpiringCommand(service MutatingService) *WarmExpiringCommand {
	return &WarmExpiringCommand{service: service}
}

func (c *WarmExpiringCommand) Execute(ctx context.Context, msg WarmExpiringMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: warm service is required")
	}
	out, err := c.service.WarmExpiring(ctx, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
