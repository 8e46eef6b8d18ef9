package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/document"
)

var _ document.Repository = (*Store)(nil)

const documentColumns = `id, owner_id, filename, content_type, size, content_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (document.Document, error) {
	var (
		d    document.Document
		hash sql.NullString
	)
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.ContentType, &d.Size, &hash, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return document.Document{}, err
	}
	d.ContentHash = hash.String
	return d, nil
}

func (s *Store) CreateDocument(ctx context.Context, d document.Document) (document.Document, error) {
	if s.db == nil {
		return document.Document{}, errUnavailable
	}
	var hash sql.NullString
	if d.ContentHash != "" {
		hash = sql.NullString{String: d.ContentHash, Valid: true}
	}
	created, err := scanDocument(s.db.QueryRowContext(ctx, `
		insert into documents (id, owner_id, filename, content_type, size, content_hash)
		values ($1, $2, $3, $4, $5, $6)
		returning `+documentColumns,
		d.ID, d.OwnerID, d.Filename, d.ContentType, d.Size, hash))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return document.Document{}, auth.ErrConflict
			case pgErrForeignKeyViolation:
				return document.Document{}, auth.ErrNotFound
			}
		}
		return document.Document{}, err
	}
	return created, nil
}

func (s *Store) Document(ctx context.Context, id string) (document.Document, error) {
	if s.db == nil {
		return document.Document{}, errUnavailable
	}
	d, err := scanDocument(s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, auth.ErrNotFound
	}
	return d, err
}

func (s *Store) ListDocuments(ctx context.Context) ([]document.Document, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	return s.queryDocuments(ctx, `select `+documentColumns+` from documents order by created_at, id`)
}

// ListDocumentsGranted selects through object_permissions so only the
// caller's rows leave the database.
func (s *Store) ListDocumentsGranted(ctx context.Context, userID, permission string) ([]document.Document, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	return s.queryDocuments(ctx, `
		select `+documentColumns+`
		from documents
		where id in (
			select resource_id from object_permissions
			where user_id = $1 and resource_type = $2 and permission = $3
		)
		order by created_at, id
	`, userID, document.ResourceType, permission)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateDocument(ctx context.Context, id string, upd document.Update) (document.Document, error) {
	if s.db == nil {
		return document.Document{}, errUnavailable
	}
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Filename != nil {
		setClauses = append(setClauses, fmt.Sprintf("filename = $%d", idx))
		args = append(args, strings.TrimSpace(*upd.Filename))
		idx++
	}
	if upd.ContentType != nil {
		setClauses = append(setClauses, fmt.Sprintf("content_type = $%d", idx))
		args = append(args, *upd.ContentType)
		idx++
	}
	if len(setClauses) == 0 {
		return s.Document(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`update documents set %s where id = $%d returning %s`,
		strings.Join(setClauses, ", "), idx, documentColumns)
	d, err := scanDocument(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, auth.ErrNotFound
	}
	return d, err
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from documents where id = $1`, id)
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
