// Package store persists forms, their fields, and response documents. It
// is the gateway the sync path uses to resolve share tokens, read field
// metadata, and merge accepted values.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/formsync/internal/form"
)

// ErrNotFound is returned when a share token, form, or field does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence gateway.
type Store interface {
	// ResolveForm maps a share token to its form id.
	ResolveForm(ctx context.Context, shareToken string) (string, error)
	// GetField returns the current metadata of a field within a form.
	GetField(ctx context.Context, formID, fieldID string) (form.Field, error)
	// MergeResponse upserts a single key of the form's response document.
	MergeResponse(ctx context.Context, formID, fieldID string, value any) error
	// CreateForm stores a new form with an empty response document.
	CreateForm(ctx context.Context, def form.Definition) (form.Created, error)
	// GetForm returns a form, its ordered fields, and its response document.
	GetForm(ctx context.Context, shareToken string) (form.Form, error)
	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a Store.
type Config struct {
	Driver   string
	URL      string
	PoolSize int

	// RedisAddr enables the share token cache when non-empty.
	RedisAddr string
	TokenTTL  time.Duration
}

// Open connects to the configured backend and, when RedisAddr is set,
// wraps it with a redis share token cache.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		st, err = OpenPostgres(ctx, cfg.URL, int32(cfg.PoolSize), logger)
	case DriverSQLite, "":
		st, err = OpenSQLite(cfg.URL, cfg.PoolSize, logger)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr == "" {
		return st, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		_ = st.Close()
		return nil, fmt.Errorf("store: connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("redis token cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.TokenTTL)
	return NewCachedResolver(st, rdb, cfg.TokenTTL, logger), nil
}

type newFormIDs struct {
	formID     string
	shareToken string
	responseID string
	fieldIDs   []string
}

func allocateIDs(def form.Definition) newFormIDs {
	ids := newFormIDs{
		formID:     uuid.NewString(),
		shareToken: uuid.NewString(),
		responseID: uuid.NewString(),
		fieldIDs:   make([]string, len(def.Fields)),
	}
	for i := range def.Fields {
		ids.fieldIDs[i] = uuid.NewString()
	}
	return ids
}

func normalizeOptions(options []string) []string {
	if options == nil {
		return []string{}
	}
	return options
}
