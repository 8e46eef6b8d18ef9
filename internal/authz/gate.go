package authz

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/obs"
)

const (
	gateEndpoint = "endpoint"
	gateObject   = "object"

	// AnyAction is the fallback key in ActionPermissions.
	AnyAction = "*"
)

var tracer = otel.Tracer("hatchup.org/internal/authz")

// ActionPermissions maps a logical action (retrieve, update, ...) to the
// permissions it requires on the target object. AnyAction applies to actions
// without their own entry.
type ActionPermissions map[string][]string

// Required returns the permissions for action and whether any were declared.
func (m ActionPermissions) Required(action string) ([]string, bool) {
	if perms, ok := m[action]; ok && len(perms) > 0 {
		return perms, true
	}
	if perms, ok := m[AnyAction]; ok && len(perms) > 0 {
		return perms, true
	}
	return nil, false
}

// Gate is the policy decision point. Both decisions check the platform-admin
// bypass first, deny when nothing is declared, and report denial as false
// with a nil error. A non-nil error means the decision could not be made and
// must not be treated as either outcome.
type Gate struct {
	roles   *RoleStore
	objects *ObjectPermissions
}

func NewGate(roles *RoleStore, objects *ObjectPermissions) *Gate {
	return &Gate{roles: roles, objects: objects}
}

// AllowEndpoint admits id if it holds any of allowedRoles.
func (g *Gate) AllowEndpoint(ctx context.Context, id auth.Identity, allowedRoles []string) (allowed bool, err error) {
	ctx, span := tracer.Start(ctx, "authz.AllowEndpoint")
	defer func() { finish(span, gateEndpoint, allowed, err) }()

	switch {
	case !id.Authenticated():
		return false, nil
	case g.roles.IsPlatformAdmin(id):
		return true, nil
	case len(allowedRoles) == 0:
		return false, nil
	}
	return g.roles.HasAnyRole(ctx, id, allowedRoles...)
}

// AllowObject admits id to perform action on res if it holds every
// permission perms declares for that action.
func (g *Gate) AllowObject(ctx context.Context, id auth.Identity, action string, perms ActionPermissions, res Resource) (allowed bool, err error) {
	ctx, span := tracer.Start(ctx, "authz.AllowObject")
	span.SetAttributes(
		attribute.String("authz.action", action),
		attribute.String("authz.resource_type", res.ResourceType()),
	)
	defer func() { finish(span, gateObject, allowed, err) }()

	switch {
	case !id.Authenticated():
		return false, nil
	case g.roles.IsPlatformAdmin(id):
		return true, nil
	}
	required, ok := perms.Required(action)
	if !ok {
		return false, nil
	}
	return g.objects.Check(ctx, id, res, required...)
}

func finish(span trace.Span, gate string, allowed bool, err error) {
	obs.RecordDecision(gate, allowed, err)
	span.SetAttributes(attribute.Bool("authz.allowed", allowed))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorization lookup failed")
	}
	span.End()
}
