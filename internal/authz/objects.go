package authz

import (
	"context"
	"fmt"
	"strings"

	"hatchup.org/internal/auth"
)

// Object-level actions granted to a resource owner. Creation is a type-level
// capability and is never granted per object.
const (
	ActionView   = "view"
	ActionChange = "change"
	ActionDelete = "delete"
)

// Resource addresses one object by type and id.
type Resource interface {
	ResourceType() string
	ResourceID() string
}

// Ref is a plain Resource.
type Ref struct {
	Type string
	ID   string
}

func (r Ref) ResourceType() string { return r.Type }
func (r Ref) ResourceID() string   { return r.ID }

// RefOf converts any Resource into a Ref.
func RefOf(r Resource) Ref {
	return Ref{Type: r.ResourceType(), ID: r.ResourceID()}
}

// Grant is one object permission row.
type Grant struct {
	UserID       string
	ResourceType string
	ResourceID   string
	Permission   string
}

// GrantStore persists grant rows. Rows are unique per
// (user, resource type, resource id, permission).
type GrantStore interface {
	// InsertGrants writes all rows in one transaction, ignoring rows that
	// already exist.
	InsertGrants(ctx context.Context, grants []Grant) error
	// DeleteResourceGrants removes every user's rows on ref.
	DeleteResourceGrants(ctx context.Context, ref Ref) error
	// GrantedIDs returns the ids of resourceType objects on which userID
	// holds permission.
	GrantedIDs(ctx context.Context, userID, resourceType, permission string) ([]string, error)
	// PermissionsOn returns every permission userID holds on ref.
	PermissionsOn(ctx context.Context, userID string, ref Ref) ([]string, error)
}

// Codename builds the permission string for an action on a resource type,
// e.g. Codename("document", "view") == "document.view".
func Codename(resourceType, action string) string {
	return resourceType + "." + action
}

// OwnerPermissions is the default set granted to whoever creates an object.
func OwnerPermissions(resourceType string) []string {
	return []string{
		Codename(resourceType, ActionView),
		Codename(resourceType, ActionChange),
		Codename(resourceType, ActionDelete),
	}
}

// ObjectPermissions answers per-object questions from grant rows.
type ObjectPermissions struct {
	grants GrantStore
}

func NewObjectPermissions(grants GrantStore) *ObjectPermissions {
	return &ObjectPermissions{grants: grants}
}

// AssignOwner grants userID the owner permission set on res. Extra perms
// replace the defaults when given. Calling it again is a no-op.
func (p *ObjectPermissions) AssignOwner(ctx context.Context, userID string, res Resource, perms ...string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: owner id is required", auth.ErrInvalidInput)
	}
	ref := RefOf(res)
	if ref.Type == "" || ref.ID == "" {
		return fmt.Errorf("%w: resource type and id are required", auth.ErrInvalidInput)
	}
	if len(perms) == 0 {
		perms = OwnerPermissions(ref.Type)
	}
	grants := make([]Grant, 0, len(perms))
	for _, perm := range perms {
		grants = append(grants, Grant{
			UserID:       userID,
			ResourceType: ref.Type,
			ResourceID:   ref.ID,
			Permission:   perm,
		})
	}
	if err := p.grants.InsertGrants(ctx, grants); err != nil {
		return fmt.Errorf("assign owner permissions: %w", err)
	}
	return nil
}

// Revoke removes every grant on res, for all users. Call it once the object
// itself is gone so a reused id does not inherit stale grants.
func (p *ObjectPermissions) Revoke(ctx context.Context, res Resource) error {
	if err := p.grants.DeleteResourceGrants(ctx, RefOf(res)); err != nil {
		return fmt.Errorf("revoke object permissions: %w", err)
	}
	return nil
}

// Check reports whether id holds every permission in required on res.
// Platform admins always pass; anonymous callers and empty requirement lists
// never do. The permission set of res is fetched at most once per request
// when ctx carries a RequestCache.
func (p *ObjectPermissions) Check(ctx context.Context, id auth.Identity, res Resource, required ...string) (bool, error) {
	if !id.Authenticated() {
		return false, nil
	}
	if id.Superuser {
		return true, nil
	}
	if len(required) == 0 {
		return false, nil
	}
	ref := RefOf(res)
	fetch := func(ctx context.Context) ([]string, error) {
		return p.grants.PermissionsOn(ctx, id.UserID, ref)
	}

	var granted permissionSet
	if rc := RequestCacheFrom(ctx); rc != nil {
		set, err := rc.permissions(ctx, id.UserID, ref, fetch)
		if err != nil {
			return false, err
		}
		granted = set
	} else {
		perms, err := fetch(ctx)
		if err != nil {
			return false, fmt.Errorf("load object permissions: %w", err)
		}
		granted = newPermissionSet(perms)
	}

	for _, perm := range required {
		if _, ok := granted[perm]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Filter returns the candidates on which id holds perm, preserving order.
// Platform admins get candidates unchanged and anonymous callers get nothing.
// Grants are resolved with one query per resource type, never per candidate.
func Filter[T Resource](ctx context.Context, p *ObjectPermissions, id auth.Identity, candidates []T, perm string) ([]T, error) {
	if !id.Authenticated() {
		return []T{}, nil
	}
	if id.Superuser {
		return candidates, nil
	}

	allowed := make(map[string]map[string]struct{})
	for _, c := range candidates {
		typ := c.ResourceType()
		if _, done := allowed[typ]; done {
			continue
		}
		ids, err := p.grants.GrantedIDs(ctx, id.UserID, typ, perm)
		if err != nil {
			return nil, fmt.Errorf("filter by permission: %w", err)
		}
		set := make(map[string]struct{}, len(ids))
		for _, gid := range ids {
			set[gid] = struct{}{}
		}
		allowed[typ] = set
	}

	out := make([]T, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := allowed[c.ResourceType()][c.ResourceID()]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
