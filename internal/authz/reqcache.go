package authz

import (
	"context"
	"fmt"
	"sync"
)

type permissionSet map[string]struct{}

func newPermissionSet(perms []string) permissionSet {
	s := make(permissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

type requestCacheKey struct {
	userID string
	ref    Ref
}

// RequestCache memoizes per-object permission sets for the lifetime of one
// request. Later checks in the same request see the first snapshot even if
// grants change meanwhile.
type RequestCache struct {
	mu    sync.Mutex
	perms map[requestCacheKey]permissionSet
}

type requestCacheContextKey struct{}

// WithRequestCache returns a context carrying a fresh RequestCache. Call it
// once per request, after authentication.
func WithRequestCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestCacheContextKey{}, &RequestCache{
		perms: make(map[requestCacheKey]permissionSet),
	})
}

// RequestCacheFrom returns the request's cache, or nil.
func RequestCacheFrom(ctx context.Context) *RequestCache {
	rc, _ := ctx.Value(requestCacheContextKey{}).(*RequestCache)
	return rc
}

// Len reports how many objects have been resolved in this request.
func (c *RequestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.perms)
}

// permissions holds the lock across fetch so concurrent checks on the same
// object inside one request trigger a single lookup. Failed fetches are not
// remembered.
func (c *RequestCache) permissions(ctx context.Context, userID string, ref Ref, fetch func(context.Context) ([]string, error)) (permissionSet, error) {
	key := requestCacheKey{userID: userID, ref: ref}
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.perms[key]; ok {
		return set, nil
	}
	perms, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("load object permissions: %w", err)
	}
	set := newPermissionSet(perms)
	c.perms[key] = set
	return set, nil
}
