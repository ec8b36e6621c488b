package storage

import (
	"strings"
	"testing"
)

func TestPostgresStore_UpsertSQL(t *testing.T) {
	s := NewPostgresStore(nil, "stores")

	got := s.upsertSQL([]Column{
		{Name: "bizes_id", PrimaryKey: true},
		{Name: "bizes_nm"},
		{Name: "lon"},
	})

	want := `INSERT INTO "stores" ("bizes_id", "bizes_nm", "lon") VALUES ($1, $2, $3) ON CONFLICT (bizes_id) DO UPDATE SET "bizes_nm" = EXCLUDED."bizes_nm", "lon" = EXCLUDED."lon"`
	if got != want {
		t.Errorf("upsertSQL() =\n%s\nwant\n%s", got, want)
	}
}

func TestPostgresStore_UpsertSQLKeyOnly(t *testing.T) {
	s := NewPostgresStore(nil, "")

	got := s.upsertSQL([]Column{{Name: "bizes_id", PrimaryKey: true}})
	if !strings.HasSuffix(got, "DO NOTHING") {
		t.Errorf("upsertSQL() = %q, want DO NOTHING conflict clause", got)
	}
	if !strings.Contains(got, `"stores"`) {
		t.Errorf("upsertSQL() = %q, want default table", got)
	}
}
