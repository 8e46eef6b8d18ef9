package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hatchup.org/internal/auth"
)

func TestRolesAnonymousHasNoRolesAndNoLookup(t *testing.T) {
	members := newFakeMembers()
	rs := NewRoleStore(newMemoryCache(t), members)

	roles, err := rs.Roles(context.Background(), auth.Anonymous)
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Zero(t, members.lookups())
}

func TestRolesAreCachedUnderVersionedKey(t *testing.T) {
	c, mr := newRedisCache(t)
	members := newFakeMembers()
	require.NoError(t, members.AddMembership(context.Background(), "alice", RoleClient))
	rs := NewRoleStore(c, members)
	ctx := context.Background()

	roles, err := rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleClient}, roles)

	_, err = rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, members.lookups(), "second read must be served from cache")

	raw, err := mr.Get("auth.roles.v1.user:alice")
	require.NoError(t, err)
	assert.JSONEq(t, `["Client"]`, raw)
	assert.Equal(t, 60*time.Second, mr.TTL("auth.roles.v1.user:alice"))
}

func TestRolesExpireAfterTTL(t *testing.T) {
	c, mr := newRedisCache(t)
	members := newFakeMembers()
	rs := NewRoleStore(c, members, WithRoleTTL(10*time.Second))
	ctx := context.Background()

	_, err := rs.Roles(ctx, alice)
	require.NoError(t, err)

	// Membership changes behind the store's back are visible once the TTL lapses.
	members.roles["alice"] = map[string]struct{}{RoleInvestor: {}}
	roles, err := rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, roles)

	mr.FastForward(11 * time.Second)
	roles, err = rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleInvestor}, roles)
}

func TestAssignAndRemoveInvalidateImmediately(t *testing.T) {
	members := newFakeMembers()
	rs := NewRoleStore(newMemoryCache(t), members)
	ctx := context.Background()

	roles, err := rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, roles)

	require.NoError(t, rs.AssignRole(ctx, "alice", RoleAdmin))
	roles, err = rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleAdmin}, roles)

	require.NoError(t, rs.RemoveRole(ctx, "alice", RoleAdmin))
	roles, err = rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, roles)

	err = rs.RemoveRole(ctx, "alice", RoleAdmin)
	require.ErrorIs(t, err, auth.ErrNotFound)

	err = rs.AssignRole(ctx, " ", RoleAdmin)
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestInvalidateForcesReload(t *testing.T) {
	members := newFakeMembers()
	rs := NewRoleStore(newMemoryCache(t), members)
	ctx := context.Background()

	_, err := rs.Roles(ctx, alice)
	require.NoError(t, err)
	members.roles["alice"] = map[string]struct{}{RoleStartup: {}}

	require.NoError(t, rs.Invalidate(ctx, "alice"))
	roles, err := rs.Roles(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleStartup}, roles)
}

func TestRolesPropagateStoreErrors(t *testing.T) {
	members := newFakeMembers()
	members.err = errors.New("db down")
	rs := NewRoleStore(newMemoryCache(t), members)

	_, err := rs.Roles(context.Background(), alice)
	require.Error(t, err)

	ok, err := rs.HasAnyRole(context.Background(), alice, RoleClient)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestRolesPropagateCacheErrors(t *testing.T) {
	c, mr := newRedisCache(t)
	rs := NewRoleStore(c, newFakeMembers())
	mr.SetError("READONLY")

	_, err := rs.Roles(context.Background(), alice)
	require.Error(t, err)
}

func TestCorruptCacheEntryIsReloaded(t *testing.T) {
	c, mr := newRedisCache(t)
	members := newFakeMembers()
	members.roles["alice"] = map[string]struct{}{RoleClient: {}}
	rs := NewRoleStore(c, members)
	require.NoError(t, mr.Set("auth.roles.v1.user:alice", "{not json"))

	roles, err := rs.Roles(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, []string{RoleClient}, roles)
}

func TestHasAnyRole(t *testing.T) {
	members := newFakeMembers()
	members.roles["alice"] = map[string]struct{}{RoleClient: {}}
	rs := NewRoleStore(newMemoryCache(t), members)
	ctx := context.Background()

	cases := []struct {
		name    string
		id      auth.Identity
		allowed []string
		want    bool
	}{
		{"anonymous", auth.Anonymous, []string{RoleClient}, false},
		{"intersection", alice, []string{RoleAdmin, RoleClient}, true},
		{"no intersection", alice, []string{RoleAdmin}, false},
		{"empty allow list", alice, nil, false},
		{"admin ignores membership", root, []string{RoleAdmin}, true},
		{"admin with empty allow list", root, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := rs.HasAnyRole(ctx, tc.id, tc.allowed...)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIsPlatformAdminNeverTouchesStorage(t *testing.T) {
	members := newFakeMembers()
	rs := NewRoleStore(newMemoryCache(t), members)

	assert.True(t, rs.IsPlatformAdmin(root))
	assert.False(t, rs.IsPlatformAdmin(alice))
	assert.False(t, rs.IsPlatformAdmin(auth.Identity{Superuser: true}))
	assert.Zero(t, members.lookups())
}
