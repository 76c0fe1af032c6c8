package sqlstore

import "github.com/dima-ai/go-connections/core"

var (
	_ core.UserStore              = (*UserStore)(nil)
	_ core.ConnectionStore        = (*ConnectionStore)(nil)
	_ core.ConnectionStore        = (*CachedConnectionStore)(nil)
	_ core.SessionStore           = (*SessionStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
