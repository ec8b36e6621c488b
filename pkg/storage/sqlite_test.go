package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "stores.db")
	s, err := OpenSQLite(context.Background(), path, "stores")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storeRecord(id, top, sub string) model.Record {
	return model.Record{
		"bizesId":    id,
		"bizesNm":    "가게" + id,
		"indsLclsCd": "I2",
		"indsLclsNm": "음식",
		"indsMclsCd": "I201",
		"indsMclsNm": "한식",
		"indsSclsCd": "I20101",
		"indsSclsNm": "백반/한정식",
		"ctprvnNm":   top,
		"signguNm":   sub,
		"signguCd":   "11110",
		"lon":        126.97,
		"lat":        37.57,
		"flrNo":      nil,
	}
}

func TestSQLiteStore_Lifecycle(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	ok, err := s.Initialized(ctx)
	if err != nil {
		t.Fatalf("Initialized() error = %v", err)
	}
	if ok {
		t.Fatal("Initialized() = true before EnsureSchema")
	}

	n, err := s.Count(ctx, "서울특별시", "종로구")
	if err != nil || n != 0 {
		t.Fatalf("Count() on missing table = %d, %v; want 0, nil", n, err)
	}

	records := []model.Record{
		storeRecord("1", "서울특별시", "종로구"),
		storeRecord("2", "서울특별시", "종로구"),
		storeRecord("3", "서울특별시", "중구"),
	}

	if err := s.EnsureSchema(ctx, model.Shape(records)); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := s.BuildIndexes(ctx); err != nil {
		t.Fatalf("BuildIndexes() error = %v", err)
	}

	written, err := s.Insert(ctx, records)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if written != 3 {
		t.Errorf("Insert() = %d, want 3", written)
	}

	// Same keys again: replaced, not duplicated.
	if _, err := s.Insert(ctx, records[:2]); err != nil {
		t.Fatalf("second Insert() error = %v", err)
	}

	if n, _ := s.Count(ctx, "서울특별시", "종로구"); n != 2 {
		t.Errorf("Count(종로구) = %d, want 2", n)
	}
	if n, _ := s.Count(ctx, "서울특별시", "중구"); n != 1 {
		t.Errorf("Count(중구) = %d, want 1", n)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := model.StoreStats{TotalRows: 3, TopLevels: 1, SubLevels: 2, IndustryLarge: 1, IndustryMiddle: 1, IndustrySmall: 1}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}

	deleted, err := s.Delete(ctx, "서울특별시", "종로구")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Delete() = %d, want 2", deleted)
	}
	if n, _ := s.Count(ctx, "서울특별시", "종로구"); n != 0 {
		t.Errorf("Count after Delete = %d, want 0", n)
	}
}

func TestSQLiteStore_Indexes(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	// No trar_no and no adong_nm: idx_trar and idx_region are skipped.
	if err := s.EnsureSchema(ctx, storeRecord("1", "a", "b")); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := s.BuildIndexes(ctx); err != nil {
		t.Fatalf("BuildIndexes() error = %v", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%'`)
	if err != nil {
		t.Fatalf("query indexes: %v", err)
	}
	defer rows.Close()

	got := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		got[name] = true
	}

	for _, name := range []string{"idx_industry", "idx_lon", "idx_lat", "idx_signgu_cd"} {
		if !got[name] {
			t.Errorf("index %s missing", name)
		}
	}
	for _, name := range []string{"idx_region", "idx_trar"} {
		if got[name] {
			t.Errorf("index %s should have been skipped", name)
		}
	}
}

func TestSQLiteStore_NotNullEnforced(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	rec := storeRecord("1", "a", "b")
	if err := s.EnsureSchema(ctx, rec); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	bad := storeRecord("2", "a", "b")
	bad["bizesNm"] = nil
	if _, err := s.Insert(ctx, []model.Record{rec, bad}); err == nil {
		t.Fatal("Insert() should fail on NULL bizes_nm")
	}
	// The whole transaction rolls back.
	if n, _ := s.Count(ctx, "a", "b"); n != 0 {
		t.Errorf("Count() = %d, want 0 after rollback", n)
	}
}

func TestSQLiteStore_EnsureSchemaNeedsKey(t *testing.T) {
	s := setupSQLite(t)

	err := s.EnsureSchema(context.Background(), model.Record{"bizesNm": "x"})
	if err == nil {
		t.Fatal("EnsureSchema() without bizesId should fail")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Driver: "mysql"})
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open(mysql) error = %v, want ErrUnknownDriver", err)
	}

	_, err = Open(ctx, Config{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db"), Table: "bad name;"})
	if err == nil {
		t.Error("Open() with invalid table name should fail")
	}

	s, err := Open(ctx, Config{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer s.Close()

	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T, want *SQLiteStore", s)
	}
}

func TestChunks(t *testing.T) {
	records := make([]model.Record, 2500)
	got := chunks(records, 1000)

	if len(got) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(got))
	}
	if len(got[2]) != 500 {
		t.Errorf("len(last chunk) = %d, want 500", len(got[2]))
	}
}
