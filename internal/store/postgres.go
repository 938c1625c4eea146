package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/formsync/internal/form"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS forms (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		share_token TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS fields (
		id       TEXT PRIMARY KEY,
		form_id  TEXT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
		type     TEXT NOT NULL,
		label    TEXT NOT NULL,
		options  JSONB NOT NULL DEFAULT '[]',
		"order"  INTEGER NOT NULL,
		required BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS fields_form_id_idx ON fields (form_id)`,
	`CREATE TABLE IF NOT EXISTS responses (
		id              TEXT PRIMARY KEY,
		form_id         TEXT NOT NULL UNIQUE REFERENCES forms(id) ON DELETE CASCADE,
		data            JSONB NOT NULL DEFAULT '{}',
		last_updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects to the database at url. A non-positive poolSize
// keeps pgxpool's default.
func OpenPostgres(ctx context.Context, url string, poolSize int32, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("store: parsing postgres url: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = poolSize
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pinging postgres: %w", err)
	}

	logger.Info("postgres pool opened", "max_conns", cfg.MaxConns)
	return &Postgres{pool: pool, logger: logger}, nil
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrating postgres: %w", err)
		}
	}
	return nil
}

// ResolveForm maps a share token to its form id.
func (p *Postgres) ResolveForm(ctx context.Context, shareToken string) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx, `SELECT id FROM forms WHERE share_token = $1`, shareToken).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("form for share token: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("store: resolving share token: %w", err)
	}
	return id, nil
}

// GetField returns the field's current type and options.
func (p *Postgres) GetField(ctx context.Context, formID, fieldID string) (form.Field, error) {
	f := form.Field{ID: fieldID}
	err := p.pool.QueryRow(ctx,
		`SELECT type, label, options, "order", required FROM fields WHERE id = $1 AND form_id = $2`,
		fieldID, formID,
	).Scan(&f.Type, &f.Label, &f.Options, &f.Order, &f.Required)
	if errors.Is(err, pgx.ErrNoRows) {
		return form.Field{}, fmt.Errorf("field %s: %w", fieldID, ErrNotFound)
	}
	if err != nil {
		return form.Field{}, fmt.Errorf("store: reading field %s: %w", fieldID, err)
	}
	return f, nil
}

// MergeResponse sets data[fieldID] = value in a single statement; the row
// lock taken by UPDATE makes concurrent writers last-write-wins.
func (p *Postgres) MergeResponse(ctx context.Context, formID, fieldID string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encoding value for field %s: %w", fieldID, err)
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE responses
		    SET data = jsonb_set(data, ARRAY[$2::text], $3::jsonb, true),
		        last_updated_at = now()
		  WHERE form_id = $1`,
		formID, fieldID, string(encoded),
	)
	if err != nil {
		return fmt.Errorf("store: merging field %s: %w", fieldID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("response document for form %s: %w", formID, ErrNotFound)
	}
	return nil
}

// CreateForm inserts the form, its fields, and an empty response document
// in one transaction.
func (p *Postgres) CreateForm(ctx context.Context, def form.Definition) (form.Created, error) {
	ids := allocateIDs(def)

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO forms (id, name, share_token) VALUES ($1, $2, $3)`,
			ids.formID, def.Name, ids.shareToken,
		); err != nil {
			return err
		}

		for i, fd := range def.Fields {
			options, err := json.Marshal(normalizeOptions(fd.Options))
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO fields (id, form_id, type, label, options, "order", required)
				 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
				ids.fieldIDs[i], ids.formID, string(fd.Type), fd.Label, string(options), fd.Order, fd.Required,
			); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO responses (id, form_id, data) VALUES ($1, $2, '{}'::jsonb)`,
			ids.responseID, ids.formID,
		)
		return err
	})
	if err != nil {
		return form.Created{}, fmt.Errorf("store: creating form: %w", err)
	}

	p.logger.Info("form created", "form_id", ids.formID, "fields", len(def.Fields))
	return form.Created{ID: ids.formID, ShareToken: ids.shareToken}, nil
}

// GetForm returns the form for shareToken with fields in display order.
func (p *Postgres) GetForm(ctx context.Context, shareToken string) (form.Form, error) {
	var f form.Form
	err := p.pool.QueryRow(ctx,
		`SELECT id, name FROM forms WHERE share_token = $1`, shareToken,
	).Scan(&f.ID, &f.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return form.Form{}, fmt.Errorf("form for share token: %w", ErrNotFound)
	}
	if err != nil {
		return form.Form{}, fmt.Errorf("store: reading form: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT id, type, label, options, "order", required
		   FROM fields WHERE form_id = $1 ORDER BY "order", id`, f.ID)
	if err != nil {
		return form.Form{}, fmt.Errorf("store: reading fields: %w", err)
	}
	f.Fields, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (form.Field, error) {
		var fld form.Field
		err := row.Scan(&fld.ID, &fld.Type, &fld.Label, &fld.Options, &fld.Order, &fld.Required)
		fld.Options = normalizeOptions(fld.Options)
		return fld, err
	})
	if err != nil {
		return form.Form{}, fmt.Errorf("store: reading fields: %w", err)
	}

	err = p.pool.QueryRow(ctx,
		`SELECT data FROM responses WHERE form_id = $1`, f.ID,
	).Scan(&f.Response)
	if errors.Is(err, pgx.ErrNoRows) {
		f.Response = map[string]any{}
	} else if err != nil {
		return form.Form{}, fmt.Errorf("store: reading response document: %w", err)
	}
	if f.Response == nil {
		f.Response = map[string]any{}
	}
	return f, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
