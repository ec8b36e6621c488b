// Package model holds the value types shared by the collection engine and its
// collaborators.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Raw field names used by the engine. The upstream API names everything in
// lowerCamelCase.
const (
	FieldTopLevelName = "ctprvnNm"
	FieldTopLevelCode = "ctprvnCd"
	FieldSubLevelName = "signguNm"
	FieldSubLevelCode = "signguCd"
	FieldStoreID      = "bizesId"
)

// RegionQuery identifies one collection unit by human-readable names.
type RegionQuery struct {
	TopLevelName string
	SubLevelName string
}

// String returns "top sub", the form used in logs.
func (q RegionQuery) String() string {
	return q.TopLevelName + " " + q.SubLevelName
}

// RegionCode is the resolved hierarchical code pair for a RegionQuery.
type RegionCode struct {
	TopLevelCode string `json:"top_level_code"`
	SubLevelCode string `json:"sub_level_code"`
}

// PageRequest describes one page of a sub-region listing.
type PageRequest struct {
	SubLevelCode string
	PageNumber   int
	PageSize     int
}

// RawRecord is one listing item as returned by the API. Every scalar is kept
// in its string form; nulls are dropped.
type RawRecord map[string]string

// UnmarshalJSON decodes a flat JSON object, stringifying scalar values.
// Nested objects or arrays are kept as their compact JSON text.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("decode raw record: %w", err)
	}

	out := make(RawRecord, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = v
		case json.Number:
			out[key] = v.String()
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode nested field %q: %w", key, err)
			}
			out[key] = string(b)
		}
	}
	*r = out
	return nil
}

// Record is a cleaned record. Values are string, float64 or nil.
type Record map[string]any

// String returns the field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Float returns the numeric value of field and whether it is present.
func (r Record) Float(field string) (float64, bool) {
	f, ok := r[field].(float64)
	return f, ok
}

// Shape merges the field sets of records. A field keeps its first non-nil
// value, so a field that is null in one record and set in another is typed by
// the set value.
func Shape(records []Record) Record {
	shape := Record{}
	for _, r := range records {
		for k, v := range r {
			if cur, ok := shape[k]; !ok || cur == nil {
				shape[k] = v
			}
		}
	}
	return shape
}

// Summary describes a cleaned record set.
type Summary struct {
	Total              int `json:"total"`
	TopLevels          int `json:"top_levels"`
	SubLevels          int `json:"sub_levels"`
	IndustryLarge      int `json:"industry_large"`
	IndustryMiddle     int `json:"industry_middle"`
	IndustrySmall      int `json:"industry_small"`
	MissingCoordinates int `json:"missing_coordinates"`
}

// StoreStats summarizes a stored data set.
type StoreStats struct {
	TotalRows      int `json:"total_rows"`
	TopLevels      int `json:"top_levels"`
	SubLevels      int `json:"sub_levels"`
	IndustryLarge  int `json:"industry_large"`
	IndustryMiddle int `json:"industry_middle"`
	IndustrySmall  int `json:"industry_small"`
}
