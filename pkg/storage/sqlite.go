package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SQLiteStore stores records in a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	table  string
	logger zerolog.Logger

	mu      sync.Mutex
	columns []string
}

// OpenSQLite opens (and creates) the database file at path.
func OpenSQLite(ctx context.Context, path, table string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; avoids "database is locked" between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if table == "" {
		table = DefaultTable
	}

	return &SQLiteStore{
		db:     db,
		table:  table,
		logger: log.With().Str("component", "sqlite-store").Str("table", table).Logger(),
	}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Initialized reports whether the table exists.
func (s *SQLiteStore) Initialized(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, s.table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", s.table, err)
	}
	return n > 0, nil
}

// EnsureSchema creates the table from shape if it does not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context, shape model.Record) error {
	cols := DeriveSchema(shape)
	if !hasPrimaryKey(cols) {
		return fmt.Errorf("derive schema: records carry no %s field", model.FieldStoreID)
	}

	defs := make([]string, len(cols))
	for i, c := range cols {
		def := quoteIdent(c.Name)
		if c.Type == TypeReal {
			def += " REAL"
		} else {
			def += " TEXT"
		}
		if c.PrimaryKey {
			def += " PRIMARY KEY"
		} else if c.NotNull {
			def += " NOT NULL"
		}
		defs[i] = def
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quoteIdent(s.table), strings.Join(defs, ",\n  "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	s.mu.Lock()
	s.columns = nil
	s.mu.Unlock()

	s.logger.Info().Int("columns", len(cols)).Msg("Table created")
	return nil
}

func (s *SQLiteStore) tableColumns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columns != nil {
		return s.columns, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(s.table)))
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	s.columns = names
	return names, nil
}

// BuildIndexes creates every index whose columns exist in the table.
func (s *SQLiteStore) BuildIndexes(ctx context.Context) error {
	names, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}
	existing := map[string]bool{}
	for _, n := range names {
		existing[n] = true
	}

	create, skipped := applicableIndexes(existing)
	for _, idx := range create {
		cols := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			cols[i] = quoteIdent(c)
		}
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(idx.Name), quoteIdent(s.table), strings.Join(cols, ", "))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	for _, idx := range skipped {
		s.logger.Warn().Str("index", idx.Name).Strs("columns", idx.Columns).Msg("Index skipped, columns missing")
	}

	s.logger.Info().Int("created", len(create)).Int("skipped", len(skipped)).Msg("Indexes built")
	return nil
}

// Count returns the number of rows for (top, sub). A missing table counts as 0.
func (s *SQLiteStore) Count(ctx context.Context, top, sub string) (int, error) {
	ok, err := s.Initialized(ctx)
	if err != nil || !ok {
		return 0, err
	}

	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?",
		quoteIdent(s.table), ColumnTopLevelName, ColumnSubLevelName)
	if err := s.db.QueryRowContext(ctx, q, top, sub).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s %s: %w", top, sub, err)
	}
	return n, nil
}

// Delete removes the rows of (top, sub) and returns how many were removed.
func (s *SQLiteStore) Delete(ctx context.Context, top, sub string) (int, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
		quoteIdent(s.table), ColumnTopLevelName, ColumnSubLevelName)
	res, err := s.db.ExecContext(ctx, q, top, sub)
	if err != nil {
		return 0, fmt.Errorf("delete %s %s: %w", top, sub, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s %s: %w", top, sub, err)
	}
	s.logger.Info().Str("top_level", top).Str("sub_level", sub).Int64("deleted", n).Msg("Region rows deleted")
	return int(n), nil
}

// Insert replaces records by bizes_id in one transaction and returns the
// number of records written.
func (s *SQLiteStore) Insert(ctx context.Context, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	names, err := s.tableColumns(ctx)
	if err != nil {
		return 0, err
	}
	cols := columnsFromNames(names, model.Shape(records))
	if !hasPrimaryKey(cols) {
		return 0, fmt.Errorf("insert: records carry no %s column", ColumnStoreID)
	}

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	stmtSQL := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		quoteIdent(s.table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rowValues(rec, cols)...); err != nil {
			return 0, fmt.Errorf("insert %v: %w", rec[model.FieldStoreID], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info().Int("rows", len(records)).Msg("Records upserted")
	return len(records), nil
}

// Stats returns row and category counts for the whole table.
func (s *SQLiteStore) Stats(ctx context.Context) (model.StoreStats, error) {
	var st model.StoreStats
	ok, err := s.Initialized(ctx)
	if err != nil || !ok {
		return st, err
	}

	q := fmt.Sprintf(`SELECT COUNT(*),
  COUNT(DISTINCT ctprvn_nm), COUNT(DISTINCT signgu_nm),
  COUNT(DISTINCT inds_lcls_nm), COUNT(DISTINCT inds_mcls_nm), COUNT(DISTINCT inds_scls_nm)
FROM %s`, quoteIdent(s.table))
	err = s.db.QueryRowContext(ctx, q).Scan(&st.TotalRows, &st.TopLevels, &st.SubLevels,
		&st.IndustryLarge, &st.IndustryMiddle, &st.IndustrySmall)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
