package auth

import "context"

// UserStore loads accounts. Implementations return ErrNotFound for unknown
// users.
type UserStore interface {
	UserByID(ctx context.Context, id string) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
}

// RoleSource resolves the current role names of an identity. Tokens embed a
// snapshot of these; authorization always asks the source again.
type RoleSource interface {
	Roles(ctx context.Context, id Identity) ([]string, error)
}
