package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// Manager executes SQL migrations and seed files. Both sets are read from
// an fs.FS, usually the embedded migrations package or os.DirFS.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order. Each file and its
// bookkeeping row commit together.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.migrations, ".up.sql", m.migrationsTable, "migration")
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds, ".sql", m.seedsTable, "seed")
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	history, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("no migrations applied")
	}
	last := history[len(history)-1]

	files, err := collectSQL(m.migrations, ".up.sql")
	if err != nil {
		return err
	}
	downPath := ""
	for _, f := range files {
		if f.Base == last {
			downPath = strings.TrimSuffix(f.Path, ".up.sql") + ".down.sql"
			break
		}
	}
	if downPath == "" {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if _, err := fs.Stat(m.migrations, downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	if err := m.run(ctx, m.migrations, downPath, forget, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return nil
}

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrationsTable)
}

func (m *Manager) applyPending(ctx context.Context, fsys fs.FS, suffix, table, kind string) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, now())`, table)
	for _, f := range files {
		if _, ok := seen[f.Base]; ok {
			continue
		}
		if err := m.run(ctx, fsys, f.Path, record, f.Base); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, f.Base, err)
		}
	}
	return nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// run executes the statements of one file and the bookkeeping statement in
// a single transaction.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name, bookkeeping, base string) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, base); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

// collectSQL lists files ending in suffix, sorted by base name. A nil or
// missing tree yields nothing.
func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: path.Base(p), Path: p})
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Base < files[j].Base })
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted strings and
// drops "--" line comments and blank statements.
func splitStatements(src string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}
	for _, line := range strings.Split(src, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				inString = !inString
				current.WriteRune(r)
			case r == ';' && !inString:
				current.WriteRune(r)
				flush()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteByte('\n')
	}
	flush()
	return stmts
}
