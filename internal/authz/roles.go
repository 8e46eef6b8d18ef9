// Package authz decides whether an identity may act: role membership for
// endpoints, per-object grant rows for individual resources, and the
// platform-admin bypass that precedes both.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/cache"
	"hatchup.org/internal/obs"
)

// Well-known role names. Roles are plain strings; these are defaults for
// bootstrap and endpoint declarations, not a closed set.
const (
	RoleAdmin      = "Admin"
	RoleSuperAdmin = "Super Admin"
	RoleClient     = "Client"
	RoleStartup    = "Startup"
	RoleInvestor   = "Investor"
)

const (
	roleCacheKeyPrefix = "auth.roles.v1.user:"
	defaultRoleTTL     = 60 * time.Second
)

// MembershipStore is the durable user ↔ role relation.
type MembershipStore interface {
	RoleNames(ctx context.Context, userID string) ([]string, error)
	AddMembership(ctx context.Context, userID, roleName string) error
	RemoveMembership(ctx context.Context, userID, roleName string) error
}

// RoleSet is a set of role names.
type RoleSet map[string]struct{}

// NewRoleSet builds a set from names, skipping blanks.
func NewRoleSet(names ...string) RoleSet {
	s := make(RoleSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

func (s RoleSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in sorted order.
func (s RoleSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RoleStore resolves user → role names through a shared cache with a short
// TTL. Membership changes made through AssignRole/RemoveRole invalidate the
// cached entry before returning.
type RoleStore struct {
	cache   cache.Cache
	members MembershipStore
	ttl     time.Duration
	logger  *zap.Logger
}

// RoleStoreOption configures a RoleStore.
type RoleStoreOption func(*RoleStore)

// WithRoleTTL sets how long resolved role sets are cached.
func WithRoleTTL(ttl time.Duration) RoleStoreOption {
	return func(r *RoleStore) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRoleLogger sets the logger.
func WithRoleLogger(l *zap.Logger) RoleStoreOption {
	return func(r *RoleStore) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRoleStore(c cache.Cache, members MembershipStore, opts ...RoleStoreOption) *RoleStore {
	r := &RoleStore{
		cache:   c,
		members: members,
		ttl:     defaultRoleTTL,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func roleCacheKey(userID string) string {
	return roleCacheKeyPrefix + userID
}

// RoleSet returns the identity's roles. Anonymous identities have none and
// cause no lookup.
func (r *RoleStore) RoleSet(ctx context.Context, id auth.Identity) (RoleSet, error) {
	if !id.Authenticated() {
		return RoleSet{}, nil
	}
	key := roleCacheKey(id.UserID)

	raw, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		var names []string
		if jerr := json.Unmarshal([]byte(raw), &names); jerr == nil {
			obs.RecordRoleCache(true)
			return NewRoleSet(names...), nil
		}
		r.logger.Warn("dropping corrupt role cache entry", zap.String("user_id", id.UserID))
		_ = r.cache.Delete(ctx, key)
	case !errors.Is(err, cache.ErrMiss):
		return nil, fmt.Errorf("read role cache: %w", err)
	}
	obs.RecordRoleCache(false)

	names, err := r.members.RoleNames(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	set := NewRoleSet(names...)
	payload, err := json.Marshal(set.Names())
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, string(payload), r.ttl); err != nil {
		// The freshly loaded set is still correct; only the cache fill failed.
		r.logger.Warn("role cache fill failed", zap.String("user_id", id.UserID), zap.Error(err))
	}
	return set, nil
}

// Roles returns the identity's role names sorted.
func (r *RoleStore) Roles(ctx context.Context, id auth.Identity) ([]string, error) {
	set, err := r.RoleSet(ctx, id)
	if err != nil {
		return nil, err
	}
	return set.Names(), nil
}

// Invalidate drops the cached role set for userID.
func (r *RoleStore) Invalidate(ctx context.Context, userID string) error {
	if err := r.cache.Delete(ctx, roleCacheKey(userID)); err != nil {
		return fmt.Errorf("invalidate role cache: %w", err)
	}
	return nil
}

// IsPlatformAdmin reports the superuser bypass. It never consults roles.
func (r *RoleStore) IsPlatformAdmin(id auth.Identity) bool {
	return id.Authenticated() && id.Superuser
}

// HasAnyRole is true for platform admins, or when the identity holds at
// least one of allowed. An empty allowed list admits only platform admins.
func (r *RoleStore) HasAnyRole(ctx context.Context, id auth.Identity, allowed ...string) (bool, error) {
	if !id.Authenticated() {
		return false, nil
	}
	if r.IsPlatformAdmin(id) {
		return true, nil
	}
	if len(allowed) == 0 {
		return false, nil
	}
	set, err := r.RoleSet(ctx, id)
	if err != nil {
		return false, err
	}
	for _, name := range allowed {
		if set.Has(name) {
			return true, nil
		}
	}
	return false, nil
}

// AssignRole adds userID to roleName and invalidates the cached role set.
func (r *RoleStore) AssignRole(ctx context.Context, userID, roleName string) error {
	userID, roleName, err := membershipArgs(userID, roleName)
	if err != nil {
		return err
	}
	if err := r.members.AddMembership(ctx, userID, roleName); err != nil {
		return err
	}
	return r.Invalidate(ctx, userID)
}

// RemoveRole removes userID from roleName and invalidates the cached role set.
func (r *RoleStore) RemoveRole(ctx context.Context, userID, roleName string) error {
	userID, roleName, err := membershipArgs(userID, roleName)
	if err != nil {
		return err
	}
	if err := r.members.RemoveMembership(ctx, userID, roleName); err != nil {
		return err
	}
	return r.Invalidate(ctx, userID)
}

func membershipArgs(userID, roleName string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(roleName)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	if roleName == "" {
		return "", "", fmt.Errorf("%w: role name is required", auth.ErrInvalidInput)
	}
	return userID, roleName, nil
}
