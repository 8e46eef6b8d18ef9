package pg

import (
	"context"
	"fmt"
	"strings"

	"hatchup.org/internal/authz"
)

var _ authz.GrantStore = (*Store)(nil)

// InsertGrants writes every row in a single statement so a partial owner
// grant is never visible.
func (s *Store) InsertGrants(ctx context.Context, grants []authz.Grant) error {
	if s.db == nil {
		return errUnavailable
	}
	if len(grants) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	values := make([]string, 0, len(grants))
	args := make([]any, 0, len(grants)*4)
	for i, g := range grants {
		n := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		args = append(args, g.UserID, g.ResourceType, g.ResourceID, g.Permission)
	}
	query := `
		insert into object_permissions (user_id, resource_type, resource_id, permission)
		values ` + strings.Join(values, ", ") + `
		on conflict (user_id, resource_type, resource_id, permission) do nothing`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteResourceGrants removes every user's grants on ref.
func (s *Store) DeleteResourceGrants(ctx context.Context, ref authz.Ref) error {
	if s.db == nil {
		return errUnavailable
	}
	_, err := s.db.ExecContext(ctx, `
		delete from object_permissions
		where resource_type = $1 and resource_id = $2
	`, ref.Type, ref.ID)
	return err
}

func (s *Store) GrantedIDs(ctx context.Context, userID, resourceType, permission string) ([]string, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select resource_id
		from object_permissions
		where user_id = $1 and resource_type = $2 and permission = $3
	`, userID, resourceType, permission)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func (s *Store) PermissionsOn(ctx context.Context, userID string, ref authz.Ref) ([]string, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select permission
		from object_permissions
		where user_id = $1 and resource_type = $2 and resource_id = $3
	`, userID, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}
