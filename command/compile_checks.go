package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[StoreGrantMessage]    = (*StoreGrantCommand)(nil)
	_ gocmd.Commander[CompleteGrantMessage] = (*CompleteGrantCommand)(nil)
	_ gocmd.Commander[RefreshTokenMessage]  = (*RefreshTokenCommand)(nil)
	_ gocmd.Commander[IssueSessionMessage]  = (*IssueSessionCommand)(nil)
	_ gocmd.Commander[RotateSessionMessage] = (*RotateSessionCommand)(nil)
	_ gocmd.Commander[RevokeSessionMessage] = (*RevokeSessionCommand)(nil)
	_ gocmd.Commander[LogoutMessage]        = (*LogoutCommand)(nil)
	_ gocmd.Commander[WarmExpiringMessage]  = (*WarmExpiringCommand)(nil)
)
