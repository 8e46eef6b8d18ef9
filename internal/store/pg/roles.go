package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
	"hatchup.org/internal/ids"
)

var (
	_ authz.MembershipStore = (*Store)(nil)
	_ authz.RoleCatalog     = (*Store)(nil)
)

func (s *Store) RoleNames(ctx context.Context, userID string) ([]string, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// AddMembership is idempotent. Unknown users or roles yield ErrNotFound.
func (s *Store) AddMembership(ctx context.Context, userID, roleName string) error {
	if s.db == nil {
		return errUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var roleID string
	if err := tx.QueryRowContext(ctx, `select id from roles where name = $1`, roleName).Scan(&roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: role %q", auth.ErrNotFound, roleName)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict (user_id, role_id) do nothing
	`, userID, roleID); err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return fmt.Errorf("%w: user %q", auth.ErrNotFound, userID)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) RemoveMembership(ctx context.Context, userID, roleName string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles ur
		using roles r
		where r.id = ur.role_id and ur.user_id = $1 and r.name = $2
	`, userID, roleName)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) EnsureRole(ctx context.Context, name string) (string, error) {
	if s.db == nil {
		return "", errUnavailable
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into roles (id, name)
		values ($1, $2)
		on conflict (name) do nothing
	`, ids.New(), name); err != nil {
		return "", err
	}
	var id string
	if err := s.db.QueryRowContext(ctx, `select id from roles where name = $1`, name).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// SetRolePermissions replaces the role's coarse permission codenames.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, codenames []string) error {
	if s.db == nil {
		return errUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, code := range codenames {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, codename)
			values ($1, $2)
			on conflict do nothing
		`, roleID, code); err != nil {
			return err
		}
	}
	return tx.Commit()
}
