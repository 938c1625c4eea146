package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Tyrowin/formsync/internal/form"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS forms (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	share_token TEXT NOT NULL UNIQUE,
	created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS fields (
	id       TEXT PRIMARY KEY,
	form_id  TEXT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
	type     TEXT NOT NULL,
	label    TEXT NOT NULL,
	options  TEXT NOT NULL DEFAULT '[]',
	"order"  INTEGER NOT NULL,
	required INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS fields_form_id_idx ON fields (form_id);
CREATE TABLE IF NOT EXISTS responses (
	id              TEXT PRIMARY KEY,
	form_id         TEXT NOT NULL UNIQUE REFERENCES forms(id) ON DELETE CASCADE,
	data            TEXT NOT NULL DEFAULT '{}',
	last_updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite is a Store backed by a pool of SQLite connections.
type SQLite struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenSQLite opens (creating if needed) the database file at path. A
// non-positive poolSize defaults to max(NumCPU, 4).
func OpenSQLite(path string, poolSize int, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite %s: %w", path, err)
	}

	logger.Info("sqlite pool opened", "path", path, "pool_size", poolSize)
	return &SQLite{pool: pool, logger: logger, path: path}, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: sqlite take: %w", err)
	}
	return conn, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLite) Migrate(ctx context.Context) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("store: migrating sqlite: %w", err)
	}
	return nil
}

// ResolveForm maps a share token to its form id.
func (s *SQLite) ResolveForm(ctx context.Context, shareToken string) (string, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	return resolveSQLite(conn, shareToken)
}

func resolveSQLite(conn *sqlite.Conn, shareToken string) (string, error) {
	var id string
	found := false
	err := sqlitex.Execute(conn, `SELECT id FROM forms WHERE share_token = ?`, &sqlitex.ExecOptions{
		Args: []any{shareToken},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", fmt.Errorf("store: resolving share token: %w", err)
	}
	if !found {
		return "", fmt.Errorf("form for share token: %w", ErrNotFound)
	}
	return id, nil
}

// GetField returns the field's current type and options.
func (s *SQLite) GetField(ctx context.Context, formID, fieldID string) (form.Field, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return form.Field{}, err
	}
	defer s.pool.Put(conn)

	var (
		f     form.Field
		found bool
	)
	err = sqlitex.Execute(conn,
		`SELECT id, type, label, options, "order", required FROM fields WHERE id = ? AND form_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{fieldID, formID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return scanSQLiteField(stmt, &f)
			},
		})
	if err != nil {
		return form.Field{}, fmt.Errorf("store: reading field %s: %w", fieldID, err)
	}
	if !found {
		return form.Field{}, fmt.Errorf("field %s: %w", fieldID, ErrNotFound)
	}
	return f, nil
}

func scanSQLiteField(stmt *sqlite.Stmt, f *form.Field) error {
	f.ID = stmt.ColumnText(0)
	f.Type = form.FieldType(stmt.ColumnText(1))
	f.Label = stmt.ColumnText(2)
	if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &f.Options); err != nil {
		return fmt.Errorf("decoding options of field %s: %w", f.ID, err)
	}
	f.Options = normalizeOptions(f.Options)
	f.Order = stmt.ColumnInt(4)
	f.Required = stmt.ColumnBool(5)
	return nil
}

// MergeResponse sets data[fieldID] = value in a single statement. SQLite
// serializes writers, so concurrent merges are last-write-wins.
func (s *SQLite) MergeResponse(ctx context.Context, formID, fieldID string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encoding value for field %s: %w", fieldID, err)
	}

	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE responses
		    SET data = json_set(data, '$."' || ?1 || '"', json(?2)),
		        last_updated_at = CURRENT_TIMESTAMP
		  WHERE form_id = ?3`,
		&sqlitex.ExecOptions{Args: []any{fieldID, string(encoded), formID}},
	)
	if err != nil {
		return fmt.Errorf("store: merging field %s: %w", fieldID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("response document for form %s: %w", formID, ErrNotFound)
	}
	return nil
}

// CreateForm inserts the form, its fields, and an empty response document
// in one transaction.
func (s *SQLite) CreateForm(ctx context.Context, def form.Definition) (created form.Created, err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return form.Created{}, err
	}
	defer s.pool.Put(conn)

	ids := allocateIDs(def)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return form.Created{}, fmt.Errorf("store: begin: %w", err)
	}
	defer endFn(&err)

	if err = sqlitex.Execute(conn,
		`INSERT INTO forms (id, name, share_token) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{ids.formID, def.Name, ids.shareToken}},
	); err != nil {
		return form.Created{}, fmt.Errorf("store: creating form: %w", err)
	}

	for i, fd := range def.Fields {
		var options []byte
		options, err = json.Marshal(normalizeOptions(fd.Options))
		if err != nil {
			return form.Created{}, fmt.Errorf("store: encoding options: %w", err)
		}
		if err = sqlitex.Execute(conn,
			`INSERT INTO fields (id, form_id, type, label, options, "order", required)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				ids.fieldIDs[i], ids.formID, string(fd.Type), fd.Label, string(options), fd.Order, fd.Required,
			}},
		); err != nil {
			return form.Created{}, fmt.Errorf("store: creating field: %w", err)
		}
	}

	if err = sqlitex.Execute(conn,
		`INSERT INTO responses (id, form_id, data) VALUES (?, ?, '{}')`,
		&sqlitex.ExecOptions{Args: []any{ids.responseID, ids.formID}},
	); err != nil {
		return form.Created{}, fmt.Errorf("store: creating response document: %w", err)
	}

	s.logger.Info("form created", "form_id", ids.formID, "fields", len(def.Fields))
	return form.Created{ID: ids.formID, ShareToken: ids.shareToken}, nil
}

// GetForm returns the form for shareToken with fields in display order.
func (s *SQLite) GetForm(ctx context.Context, shareToken string) (form.Form, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return form.Form{}, err
	}
	defer s.pool.Put(conn)

	var (
		f     form.Form
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT id, name FROM forms WHERE share_token = ?`, &sqlitex.ExecOptions{
		Args: []any{shareToken},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			f.ID = stmt.ColumnText(0)
			f.Name = stmt.ColumnText(1)
			found = true
			return nil
		},
	})
	if err != nil {
		return form.Form{}, fmt.Errorf("store: reading form: %w", err)
	}
	if !found {
		return form.Form{}, fmt.Errorf("form for share token: %w", ErrNotFound)
	}

	f.Fields = []form.Field{}
	err = sqlitex.Execute(conn,
		`SELECT id, type, label, options, "order", required
		   FROM fields WHERE form_id = ? ORDER BY "order", id`,
		&sqlitex.ExecOptions{
			Args: []any{f.ID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var fld form.Field
				if err := scanSQLiteField(stmt, &fld); err != nil {
					return err
				}
				f.Fields = append(f.Fields, fld)
				return nil
			},
		})
	if err != nil {
		return form.Form{}, fmt.Errorf("store: reading fields: %w", err)
	}

	f.Response = map[string]any{}
	err = sqlitex.Execute(conn, `SELECT data FROM responses WHERE form_id = ?`, &sqlitex.ExecOptions{
		Args: []any{f.ID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			return json.Unmarshal([]byte(stmt.ColumnText(0)), &f.Response)
		},
	})
	if err != nil {
		return form.Form{}, fmt.Errorf("store: reading response document: %w", err)
	}
	return f, nil
}

// Close closes every connection in the pool.
func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing sqlite %s: %w", s.path, err)
	}
	s.logger.Info("sqlite pool closed", "path", s.path)
	return nil
}
