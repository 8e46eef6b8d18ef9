package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/ids"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, email, password_hash, is_superuser, is_active, created_at`

func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	return s.userWhere(ctx, `id = $1`, id)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.userWhere(ctx, `email = $1`, auth.NormalizeEmail(email))
}

func (s *Store) userWhere(ctx context.Context, cond string, arg any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errUnavailable
	}
	var (
		u    auth.User
		hash sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+cond, arg).
		Scan(&u.ID, &u.Email, &hash, &u.Superuser, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	u.PasswordHash = hash.String
	return u, nil
}

// CreateUser inserts an active account. An empty passwordHash creates an
// account that can only sign in through OTP.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, superuser bool) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errUnavailable
	}
	email = auth.NormalizeEmail(email)
	if email == "" {
		return auth.User{}, fmt.Errorf("%w: email is required", auth.ErrInvalidInput)
	}
	var hash sql.NullString
	if passwordHash != "" {
		hash = sql.NullString{String: passwordHash, Valid: true}
	}

	var u auth.User
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, is_superuser, is_active)
		values ($1, $2, $3, $4, true)
		returning `+userColumns, ids.New(), email, hash, superuser).
		Scan(&u.ID, &u.Email, &hash, &u.Superuser, &u.Active, &u.CreatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	u.PasswordHash = hash.String
	return u, nil
}
