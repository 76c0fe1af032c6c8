package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/dima-ai/go-connections/core"
)

var (
	_ gocmd.Querier[GetConnectionMessage, core.Connection]        = (*GetConnectionQuery)(nil)
	_ gocmd.Querier[ListConnectionsMessage, []core.ConnectionRef] = (*ListConnectionsQuery)(nil)
	_ gocmd.Querier[ConnectedMessage, bool]                       = (*ConnectedQuery)(nil)
	_ gocmd.Querier[ValidateRedirectMessage, bool]                = (*ValidateRedirectQuery)(nil)
)
