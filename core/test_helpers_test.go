package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func testKey() GrantKey {
	return GrantKey{UserID: 1, WorkspaceID: 10, AgentID: "agent-a", Service: "github"}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.August, 26, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeUserStore struct {
	mu      sync.Mutex
	users   map[int64]User
	upserts int
	err     error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[int64]User{}}
}

func (f *fakeUserStore) Upsert(_ context.Context, in UpsertUserInput) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	f.upserts++
	existing, ok := f.users[in.ID]
	user := User{
		ID:        in.ID,
		Email:     in.Email,
		Name:      in.Name,
		Picture:   in.Picture,
		CreatedAt: existing.CreatedAt,
	}
	if !ok {
		user.CreatedAt = time.Now().UTC()
	}
	f.users[in.ID] = user
	return user, nil
}

func (f *fakeUserStore) Ensure(_ context.Context, id int64) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	if existing, ok := f.users[id]; ok {
		return existing, nil
	}
	user := User{ID: id, CreatedAt: time.Now().UTC()}
	f.users[id] = user
	return user, nil
}

func (f *fakeUserStore) Get(_ context.Context, id int64) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %d not found", id)
	}
	return user, nil
}

// fakeConnectionStore mirrors the durable store semantics: upsert coalesces
// an empty refresh token, get misses as ErrNotConnected.
type fakeConnectionStore struct {
	mu        sync.Mutex
	conns     map[string]Connection
	seq       int
	gets      int
	upserts   int
	upsertErr error
	getErr    error
	listErr   error
	// afterScan runs once the expiring snapshot is taken, letting tests
	// interleave work between a sweep's scan and its per-key lock.
	afterScan func()
}

func newFakeConnectionStore() *fakeConnectionStore {
	return &fakeConnectionStore{conns: map[string]Connection{}}
}

func (f *fakeConnectionStore) put(conn Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn.ID == "" {
		f.seq++
		conn.ID = fmt.Sprintf("conn-%d", f.seq)
	}
	f.conns[conn.Key.String()] = conn
}

func (f *fakeConnectionStore) Upsert(_ context.Context, in UpsertConnectionInput) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return Connection{}, f.upsertErr
	}
	f.upserts++

	refreshToken := in.RefreshToken
	existing, ok := f.conns[in.Key.String()]
	if strings.TrimSpace(refreshToken) == "" && ok {
		refreshToken = existing.RefreshToken
	}
	conn := Connection{
		ID:            existing.ID,
		Key:           in.Key,
		WorkspaceSlug: in.WorkspaceSlug,
		AccessToken:   in.AccessToken,
		RefreshToken:  refreshToken,
		ExpiresAtMs:   in.ExpiresAtMs,
		Scopes:        in.Scopes,
		ConnectionID:  in.ConnectionID,
		UpdatedAt:     time.Now().UTC(),
	}
	if conn.ID == "" {
		f.seq++
		conn.ID = fmt.Sprintf("conn-%d", f.seq)
	}
	f.conns[in.Key.String()] = conn
	return conn, nil
}

func (f *fakeConnectionStore) Get(_ context.Context, key GrantKey) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return Connection{}, f.getErr
	}
	conn, ok := f.conns[key.String()]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNotConnected, key)
	}
	return conn, nil
}

func (f *fakeConnectionStore) List(_ context.Context, userID int64, workspaceID int64) ([]ConnectionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var refs []ConnectionRef
	for _, conn := range f.conns {
		if conn.Key.UserID != userID || conn.Key.WorkspaceID != workspaceID {
			continue
		}
		if strings.TrimSpace(conn.RefreshToken) == "" {
			continue
		}
		refs = append(refs, ConnectionRef{AgentID: conn.Key.AgentID, Service: conn.Key.Service})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].AgentID != refs[j].AgentID {
			return refs[i].AgentID < refs[j].AgentID
		}
		return refs[i].Service < refs[j].Service
	})
	return refs, nil
}

func (f *fakeConnectionStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]Connection, error) {
	f.mu.Lock()
	if f.listErr != nil {
		f.mu.Unlock()
		return nil, f.listErr
	}
	cutoff := before.UTC().UnixMilli()
	var out []Connection
	for _, conn := range f.conns {
		if strings.TrimSpace(conn.RefreshToken) == "" {
			continue
		}
		if conn.ExpiresAtMs <= 0 || conn.ExpiresAtMs > cutoff {
			continue
		}
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAtMs < out[j].ExpiresAtMs })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	hook := f.afterScan
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeConnectionStore) DeleteAllForUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for key, conn := range f.conns {
		if conn.Key.UserID == userID {
			delete(f.conns, key)
			removed++
		}
	}
	return removed, nil
}

type fakeSessionStore struct {
	mu        sync.Mutex
	byID      map[string]Session
	seq       int
	createErr error
	rotateErr error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byID: map[string]Session{}}
}

func (f *fakeSessionStore) Create(_ context.Context, in CreateSessionInput) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Session{}, f.createErr
	}
	return f.create(in), nil
}

func (f *fakeSessionStore) create(in CreateSessionInput) Session {
	f.seq++
	session := Session{
		ID:          fmt.Sprintf("sess-%d", f.seq),
		UserID:      in.UserID,
		TokenHash:   in.TokenHash,
		CreatedAt:   time.Now().UTC(),
		ExpiresAtMs: in.ExpiresAtMs,
	}
	f.byID[session.ID] = session
	return session
}

func (f *fakeSessionStore) FindByHash(_ context.Context, hash string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.byID {
		if session.TokenHash == hash {
			return session, nil
		}
	}
	return Session{}, fmt.Errorf("%w: unknown token", ErrSessionInvalid)
}

func (f *fakeSessionStore) Touch(_ context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("%w: unknown session", ErrSessionInvalid)
	}
	session.LastUsedAtMs = now.UTC().UnixMilli()
	f.byID[id] = session
	return nil
}

func (f *fakeSessionStore) Revoke(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoke(id, now), nil
}

func (f *fakeSessionStore) revoke(id string, now time.Time) bool {
	session, ok := f.byID[id]
	if !ok || session.RevokedAtMs > 0 {
		return false
	}
	session.RevokedAtMs = now.UTC().UnixMilli()
	f.byID[id] = session
	return true
}

func (f *fakeSessionStore) Rotate(_ context.Context, in RotateSessionInput) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return Session{}, f.rotateErr
	}
	if !f.revoke(in.RevokeID, in.Now) {
		return Session{}, fmt.Errorf("%w: session already rotated or revoked", ErrSessionInvalid)
	}
	outgoing := f.byID[in.RevokeID]
	outgoing.LastUsedAtMs = in.Now.UTC().UnixMilli()
	f.byID[in.RevokeID] = outgoing
	return f.create(in.Next), nil
}

func (f *fakeSessionStore) session(id string) (Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[id]
	return session, ok
}

type fakeProvider struct {
	mu            sync.Mutex
	refreshCalls  int
	exchangeCalls int
	profileCalls  int
	refresh       func(refreshToken string, hints RefreshHints) (TokenGrant, error)
	exchange      func(code string, redirectURI string) (TokenGrant, error)
	profile       func(accessToken string) (Profile, error)
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code string, redirectURI string) (TokenGrant, error) {
	p.mu.Lock()
	p.exchangeCalls++
	fn := p.exchange
	p.mu.Unlock()
	if fn == nil {
		return TokenGrant{}, fmt.Errorf("exchange is not stubbed")
	}
	return fn(code, redirectURI)
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string, hints RefreshHints) (TokenGrant, error) {
	p.mu.Lock()
	p.refreshCalls++
	fn := p.refresh
	p.mu.Unlock()
	if fn == nil {
		return TokenGrant{}, fmt.Errorf("refresh is not stubbed")
	}
	return fn(refreshToken, hints)
}

func (p *fakeProvider) FetchProfile(_ context.Context, accessToken string) (Profile, error) {
	p.mu.Lock()
	p.profileCalls++
	fn := p.profile
	p.mu.Unlock()
	if fn == nil {
		return Profile{}, fmt.Errorf("profile is not stubbed")
	}
	return fn(accessToken)
}

type serviceFixture struct {
	service     *Service
	clock       *testClock
	users       *fakeUserStore
	connections *fakeConnectionStore
	sessions    *fakeSessionStore
	provider    *fakeProvider
}

func newServiceFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()

	fixture := &serviceFixture{
		clock:       newTestClock(),
		users:       newFakeUserStore(),
		connections: newFakeConnectionStore(),
		sessions:    newFakeSessionStore(),
		provider:    &fakeProvider{},
	}

	registry := NewProviderRegistry()
	if err := registry.Register("github", fixture.provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}

	base := []Option{
		WithUserStore(fixture.users),
		WithConnectionStore(fixture.connections),
		WithSessionStore(fixture.sessions),
		WithRegistry(registry),
		WithClock(fixture.clock.Now),
	}
	service, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	fixture.service = service
	return fixture
}

func (f *serviceFixture) expiresIn(d time.Duration) int64 {
	return f.clock.Now().Add(d).UnixMilli()
}

func (f *serviceFixture) seedConnection(t *testing.T, conn Connection) Connection {
	t.Helper()
	if conn.Key == (GrantKey{}) {
		conn.Key = testKey()
	}
	f.connections.put(conn)
	stored, err := f.connections.Get(context.Background(), conn.Key)
	if err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	return stored
}
