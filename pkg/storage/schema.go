package storage

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/Sternrassler/sdsc-collector/pkg/preprocess"
)

// Column names used by region filtering and statistics.
const (
	ColumnStoreID      = "bizes_id"
	ColumnTopLevelName = "ctprvn_nm"
	ColumnSubLevelName = "signgu_nm"
)

// ColumnType is the storage type of a derived column.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeReal
)

// Column is one derived table column.
type Column struct {
	Name       string
	Field      string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
}

// IndexSpec is an index created only when all its columns exist.
type IndexSpec struct {
	Name    string
	Columns []string
}

// Indexes is the index set for a store table.
var Indexes = []IndexSpec{
	{Name: "idx_region", Columns: []string{"ctprvn_nm", "signgu_nm", "adong_nm"}},
	{Name: "idx_industry", Columns: []string{"inds_lcls_nm", "inds_mcls_nm", "inds_scls_nm"}},
	{Name: "idx_lon", Columns: []string{"lon"}},
	{Name: "idx_lat", Columns: []string{"lat"}},
	{Name: "idx_trar", Columns: []string{"trar_no"}},
	{Name: "idx_signgu_cd", Columns: []string{"signgu_cd"}},
}

// envelope fields that sometimes leak into item lists.
var headerColumns = map[string]bool{
	"description": true,
	"columns":     true,
	"stdr_ym":     true,
	"result_code": true,
	"result_msg":  true,
	"total_count": true,
	"num_of_rows": true,
	"page_no":     true,
}

var notNullColumns = map[string]bool{
	"bizes_nm":     true,
	"inds_lcls_nm": true,
	"inds_mcls_nm": true,
	"inds_scls_nm": true,
}

// SnakeCase converts a lowerCamelCase API field name to snake_case.
func SnakeCase(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DeriveSchema builds the column list from the fields of shape, sorted by
// column name with the primary key first. Header fields are skipped.
func DeriveSchema(shape model.Record) []Column {
	numeric := map[string]bool{}
	for _, f := range preprocess.NumericFields {
		numeric[f] = true
	}

	seen := map[string]bool{}
	cols := make([]Column, 0, len(shape))
	for field := range shape {
		name := SnakeCase(field)
		if headerColumns[name] || seen[name] {
			continue
		}
		seen[name] = true

		col := Column{Name: name, Field: field, Type: TypeText}
		if numeric[field] {
			col.Type = TypeReal
		}
		if name == ColumnStoreID {
			col.PrimaryKey = true
		}
		if notNullColumns[name] {
			col.NotNull = true
		}
		cols = append(cols, col)
	}

	sort.Slice(cols, func(i, j int) bool {
		if cols[i].PrimaryKey != cols[j].PrimaryKey {
			return cols[i].PrimaryKey
		}
		return cols[i].Name < cols[j].Name
	})
	return cols
}

// applicableIndexes returns the indexes whose columns all exist.
func applicableIndexes(existing map[string]bool) (create []IndexSpec, skipped []IndexSpec) {
	for _, idx := range Indexes {
		ok := true
		for _, c := range idx.Columns {
			if !existing[c] {
				ok = false
				break
			}
		}
		if ok {
			create = append(create, idx)
		} else {
			skipped = append(skipped, idx)
		}
	}
	return create, skipped
}

// rowValues extracts values for cols from rec, in column order.
func rowValues(rec model.Record, cols []Column) []any {
	vals := make([]any, len(cols))
	for i, c := range cols {
		v, ok := rec[c.Field]
		if !ok {
			continue
		}
		vals[i] = v
	}
	return vals
}

// columnsFromNames pairs existing table columns with the record fields that
// feed them. Columns no record carries are left out.
func columnsFromNames(names []string, shape model.Record) []Column {
	byName := map[string]string{}
	for field := range shape {
		byName[SnakeCase(field)] = field
	}

	cols := make([]Column, 0, len(names))
	for _, n := range names {
		field, ok := byName[n]
		if !ok {
			continue
		}
		cols = append(cols, Column{Name: n, Field: field, PrimaryKey: n == ColumnStoreID})
	}
	return cols
}
