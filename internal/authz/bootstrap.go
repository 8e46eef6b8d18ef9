package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hatchup.org/internal/config"
)

// RoleBootstrapSpec declares a role and the coarse permissions it should
// hold. PermissionScope, when set, qualifies each codename as
// "{scope}.{codename}".
type RoleBootstrapSpec struct {
	RoleName            string
	PermissionCodenames []string
	PermissionScope     string
}

// RoleCatalog is the durable role table.
type RoleCatalog interface {
	// EnsureRole creates the role if missing and returns its id.
	EnsureRole(ctx context.Context, name string) (string, error)
	// SetRolePermissions replaces the role's coarse permission set.
	SetRolePermissions(ctx context.Context, roleID string, codenames []string) error
}

// BaseRoles are created on every bootstrap, with no coarse permissions.
func BaseRoles() []RoleBootstrapSpec {
	names := []string{RoleAdmin, RoleSuperAdmin, RoleClient, RoleStartup, RoleInvestor}
	specs := make([]RoleBootstrapSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, RoleBootstrapSpec{RoleName: n})
	}
	return specs
}

// SpecsFromDefinitions turns role definitions loaded from YAML into specs,
// one per (role, scope). Roles declared without scopes still get a spec so
// that the role exists.
func SpecsFromDefinitions(defs []config.RoleDefinition) []RoleBootstrapSpec {
	var specs []RoleBootstrapSpec
	for _, def := range defs {
		if len(def.Scopes) == 0 {
			specs = append(specs, RoleBootstrapSpec{RoleName: def.Name})
			continue
		}
		scopes := make([]string, 0, len(def.Scopes))
		for scope := range def.Scopes {
			scopes = append(scopes, scope)
		}
		sort.Strings(scopes)
		for _, scope := range scopes {
			specs = append(specs, RoleBootstrapSpec{
				RoleName:            def.Name,
				PermissionCodenames: def.Scopes[scope],
				PermissionScope:     scope,
			})
		}
	}
	return specs
}

// LoadSpecs returns the base roles followed by the roles declared in
// rolesFile. An empty path yields the base roles only.
func LoadSpecs(rolesFile string) ([]RoleBootstrapSpec, error) {
	specs := BaseRoles()
	if rolesFile == "" {
		return specs, nil
	}
	defs, err := config.LoadRoleDefinitions(rolesFile)
	if err != nil {
		return nil, err
	}
	return append(specs, SpecsFromDefinitions(defs)...), nil
}

// EnsureRoles creates every role named by specs and sets the coarse
// permissions of roles that declare any. Specs naming the same role are
// merged, so a role spread across several scopes ends up with the union.
// Running it again with the same specs changes nothing. It returns role name
// → role id.
func EnsureRoles(ctx context.Context, catalog RoleCatalog, specs []RoleBootstrapSpec) (map[string]string, error) {
	var order []string
	perms := make(map[string]map[string]struct{})
	for _, spec := range specs {
		name := strings.TrimSpace(spec.RoleName)
		if name == "" {
			return nil, fmt.Errorf("bootstrap roles: empty role name")
		}
		set, seen := perms[name]
		if !seen {
			order = append(order, name)
			set = make(map[string]struct{})
			perms[name] = set
		}
		for _, code := range spec.PermissionCodenames {
			if code = strings.TrimSpace(code); code == "" {
				continue
			}
			if scope := strings.TrimSpace(spec.PermissionScope); scope != "" {
				code = scope + "." + code
			}
			set[code] = struct{}{}
		}
	}

	ids := make(map[string]string, len(order))
	for _, name := range order {
		roleID, err := catalog.EnsureRole(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ensure role %q: %w", name, err)
		}
		ids[name] = roleID
		if len(perms[name]) == 0 {
			continue
		}
		codenames := make([]string, 0, len(perms[name]))
		for code := range perms[name] {
			codenames = append(codenames, code)
		}
		sort.Strings(codenames)
		if err := catalog.SetRolePermissions(ctx, roleID, codenames); err != nil {
			return nil, fmt.Errorf("set permissions for role %q: %w", name, err)
		}
	}
	return ids, nil
}
