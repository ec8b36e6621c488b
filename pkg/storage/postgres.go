package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PostgresStore stores records in a Postgres table through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	logger zerolog.Logger

	mu      sync.Mutex
	columns []string
}

// OpenPostgres connects to url and verifies the connection.
func OpenPostgres(ctx context.Context, url, table string) (*PostgresStore, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewPostgresStore(pool, table), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{
		pool:   pool,
		table:  table,
		logger: log.With().Str("component", "postgres-store").Str("table", table).Logger(),
	}
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// Initialized reports whether the table exists.
func (s *PostgresStore) Initialized(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`,
		s.table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", s.table, err)
	}
	return exists, nil
}

// EnsureSchema creates the table from shape if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context, shape model.Record) error {
	cols := DeriveSchema(shape)
	if !hasPrimaryKey(cols) {
		return fmt.Errorf("derive schema: records carry no %s field", model.FieldStoreID)
	}

	defs := make([]string, len(cols))
	for i, c := range cols {
		def := pgx.Identifier{c.Name}.Sanitize()
		if c.Type == TypeReal {
			def += " DOUBLE PRECISION"
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

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", s.ident(), strings.Join(defs, ",\n  "))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	s.mu.Lock()
	s.columns = nil
	s.mu.Unlock()

	s.logger.Info().Int("columns", len(cols)).Msg("Table created")
	return nil
}

func (s *PostgresStore) tableColumns(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columns != nil {
		return s.columns, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`,
		s.table)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	s.columns = names
	return names, nil
}

// BuildIndexes creates every index whose columns exist in the table.
func (s *PostgresStore) BuildIndexes(ctx context.Context) error {
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
			cols[i] = pgx.Identifier{c}.Sanitize()
		}
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pgx.Identifier{idx.Name}.Sanitize(), s.ident(), strings.Join(cols, ", "))
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
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
func (s *PostgresStore) Count(ctx context.Context, top, sub string) (int, error) {
	ok, err := s.Initialized(ctx)
	if err != nil || !ok {
		return 0, err
	}

	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1 AND %s = $2",
		s.ident(), ColumnTopLevelName, ColumnSubLevelName)
	if err := s.pool.QueryRow(ctx, q, top, sub).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s %s: %w", top, sub, err)
	}
	return n, nil
}

// Delete removes the rows of (top, sub) and returns how many were removed.
func (s *PostgresStore) Delete(ctx context.Context, top, sub string) (int, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2",
		s.ident(), ColumnTopLevelName, ColumnSubLevelName)
	tag, err := s.pool.Exec(ctx, q, top, sub)
	if err != nil {
		return 0, fmt.Errorf("delete %s %s: %w", top, sub, err)
	}
	s.logger.Info().Str("top_level", top).Str("sub_level", sub).Int64("deleted", tag.RowsAffected()).Msg("Region rows deleted")
	return int(tag.RowsAffected()), nil
}

// Insert upserts records on bizes_id in batches and returns the number of
// records written.
func (s *PostgresStore) Insert(ctx context.Context, records []model.Record) (int, error) {
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

	stmt := s.upsertSQL(cols)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, chunk := range chunks(records, batchSize) {
		batch := &pgx.Batch{}
		for _, rec := range chunk {
			batch.Queue(stmt, rowValues(rec, cols)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("upsert batch: %w", err)
		}
		written += len(chunk)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info().Int("rows", written).Msg("Records upserted")
	return written, nil
}

func (s *PostgresStore) upsertSQL(cols []Column) string {
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		id := pgx.Identifier{c.Name}.Sanitize()
		names[i] = id
		params[i] = fmt.Sprintf("$%d", i+1)
		if !c.PrimaryKey {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
		}
	}

	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		s.ident(), strings.Join(names, ", "), strings.Join(params, ", "), ColumnStoreID, conflict)
}

// Stats returns row and category counts for the whole table.
func (s *PostgresStore) Stats(ctx context.Context) (model.StoreStats, error) {
	var st model.StoreStats
	ok, err := s.Initialized(ctx)
	if err != nil || !ok {
		return st, err
	}

	q := fmt.Sprintf(`SELECT COUNT(*),
  COUNT(DISTINCT ctprvn_nm), COUNT(DISTINCT signgu_nm),
  COUNT(DISTINCT inds_lcls_nm), COUNT(DISTINCT inds_mcls_nm), COUNT(DISTINCT inds_scls_nm)
FROM %s`, s.ident())
	err = s.pool.QueryRow(ctx, q).Scan(&st.TotalRows, &st.TopLevels, &st.SubLevels,
		&st.IndustryLarge, &st.IndustryMiddle, &st.IndustrySmall)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
