// Package snapshot writes cleaned region records as parquet files, either to
// a local directory or to a MinIO/S3 bucket.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/Sternrassler/sdsc-collector/pkg/preprocess"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// sink stores an encoded snapshot under name and returns its location.
type sink interface {
	put(ctx context.Context, name string, data []byte) (string, error)
}

// Writer encodes records and hands them to a sink.
type Writer struct {
	sink   sink
	logger zerolog.Logger
}

func newWriter(s sink, kind string) *Writer {
	return &Writer{
		sink:   s,
		logger: log.With().Str("component", "snapshot").Str("sink", kind).Logger(),
	}
}

// Write stores the cleaned records of (top, sub) and returns the location.
func (w *Writer) Write(ctx context.Context, records []model.Record, top, sub string) (string, error) {
	data, err := Encode(records)
	if err != nil {
		return "", err
	}

	location, err := w.sink.put(ctx, ObjectName(top, sub), data)
	if err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}

	w.logger.Info().
		Str("top_level", top).
		Str("sub_level", sub).
		Int("records", len(records)).
		Int("bytes", len(data)).
		Str("location", location).
		Msg("Snapshot written")
	return location, nil
}

// ObjectName is the file or object name for a region snapshot.
func ObjectName(top, sub string) string {
	clean := func(s string) string {
		s = strings.TrimSpace(s)
		s = strings.ReplaceAll(s, "/", "_")
		return strings.ReplaceAll(s, " ", "_")
	}
	return fmt.Sprintf("stores_%s_%s_processed.parquet", clean(top), clean(sub))
}

// Encode renders records as a snappy-compressed parquet file. Every field
// is optional; numeric fields are DOUBLE and the rest UTF8 strings.
func Encode(records []model.Record) ([]byte, error) {
	fields := fieldNames(records)
	if len(fields) == 0 {
		return nil, fmt.Errorf("encode snapshot: no fields")
	}

	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(buildSchema(fields), pfw, 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row, err := json.Marshal(projectRow(rec, fields))
		if err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("encode row: %w", err)
		}
		if err := pw.Write(string(row)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finish parquet: %w", err)
	}
	_ = pfw.Close()

	return buf.Bytes(), nil
}

func fieldNames(records []model.Record) []string {
	seen := map[string]bool{}
	for _, r := range records {
		for k := range r {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func isNumeric(field string) bool {
	for _, f := range preprocess.NumericFields {
		if f == field {
			return true
		}
	}
	return false
}

func buildSchema(fields []string) string {
	defs := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		tag := fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", f)
		if isNumeric(f) {
			tag = fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", f)
		}
		defs = append(defs, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": defs,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// projectRow drops nulls and values whose type does not match the column.
func projectRow(rec model.Record, fields []string) map[string]any {
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := rec[f]
		if !ok || v == nil {
			continue
		}
		if isNumeric(f) {
			if n, ok := v.(float64); ok {
				row[f] = n
			}
			continue
		}
		row[f] = fmt.Sprint(v)
	}
	return row
}
