package authz

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/cache"
)

type fakeMembers struct {
	mu    sync.Mutex
	roles map[string]map[string]struct{}
	calls int
	err   error
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{roles: map[string]map[string]struct{}{}}
}

func (f *fakeMembers) RoleNames(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for r := range f.roles[userID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeMembers) AddMembership(_ context.Context, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[userID] == nil {
		f.roles[userID] = map[string]struct{}{}
	}
	f.roles[userID][roleName] = struct{}{}
	return nil
}

func (f *fakeMembers) RemoveMembership(_ context.Context, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[userID][roleName]; !ok {
		return auth.ErrNotFound
	}
	delete(f.roles[userID], roleName)
	return nil
}

func (f *fakeMembers) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGrants enforces the same uniqueness the grant table does.
type fakeGrants struct {
	mu           sync.Mutex
	rows         map[Grant]struct{}
	inserts      int
	grantedCalls int
	permCalls    int
	err          error
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{rows: map[Grant]struct{}{}}
}

func (f *fakeGrants) InsertGrants(_ context.Context, grants []Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.err != nil {
		return f.err
	}
	for _, g := range grants {
		f.rows[g] = struct{}{}
	}
	return nil
}

func (f *fakeGrants) DeleteResourceGrants(_ context.Context, ref Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for g := range f.rows {
		if g.ResourceType == ref.Type && g.ResourceID == ref.ID {
			delete(f.rows, g)
		}
	}
	return nil
}

func (f *fakeGrants) GrantedIDs(_ context.Context, userID, resourceType, permission string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantedCalls++
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for g := range f.rows {
		if g.UserID == userID && g.ResourceType == resourceType && g.Permission == permission {
			ids = append(ids, g.ResourceID)
		}
	}
	return ids, nil
}

func (f *fakeGrants) PermissionsOn(_ context.Context, userID string, ref Ref) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permCalls++
	if f.err != nil {
		return nil, f.err
	}
	var perms []string
	for g := range f.rows {
		if g.UserID == userID && g.ResourceType == ref.Type && g.ResourceID == ref.ID {
			perms = append(perms, g.Permission)
		}
	}
	return perms, nil
}

func (f *fakeGrants) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeGrants) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newMemoryCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewMemory(64)
	require.NoError(t, err)
	return c
}

func newRedisCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

var (
	alice = auth.Identity{UserID: "alice", Email: "alice@test.com"}
	bob   = auth.Identity{UserID: "bob", Email: "bob@test.com"}
	root  = auth.Identity{UserID: "root", Email: "root@test.com", Superuser: true}
)
