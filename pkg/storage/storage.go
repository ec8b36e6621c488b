// Package storage persists cleaned store records in Postgres or SQLite.
//
// Tables are derived from the record shape on first use: snake_case column
// names, bizes_id as primary key, and the index set in Indexes. Inserts are
// key-based upserts, so re-inserting a listing never duplicates rows.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Supported driver names.
const (
	DriverPostgres = "postgresql"
	DriverSQLite   = "sqlite"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "stores"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is implemented by both backends.
type Store interface {
	Count(ctx context.Context, top, sub string) (int, error)
	Delete(ctx context.Context, top, sub string) (int, error)
	Insert(ctx context.Context, records []model.Record) (int, error)
	Initialized(ctx context.Context) (bool, error)
	EnsureSchema(ctx context.Context, shape model.Record) error
	BuildIndexes(ctx context.Context) error
	Stats(ctx context.Context) (model.StoreStats, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string
	SQLitePath  string
	PostgresURL string
	Table       string
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	switch cfg.Driver {
	case DriverPostgres, "postgres":
		return OpenPostgres(ctx, cfg.PostgresURL, cfg.Table)
	case DriverSQLite, "sqlite3":
		return OpenSQLite(ctx, cfg.SQLitePath, cfg.Table)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// batchSize bounds rows per upsert round trip.
const batchSize = 1000

func chunks(records []model.Record, size int) [][]model.Record {
	var out [][]model.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, records[start:end])
	}
	return out
}

func hasPrimaryKey(cols []Column) bool {
	for _, c := range cols {
		if c.PrimaryKey {
			return true
		}
	}
	return false
}
