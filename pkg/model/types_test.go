package model

import (
	"encoding/json"
	"testing"
)

func TestRawRecord_UnmarshalJSON(t *testing.T) {
	var recs []RawRecord
	data := `[{"bizesId":"1","trarNo":null,"flrNo":3,"lon":126.97},{"bizesId":"2","trarNo":"9174"}]`
	if err := json.Unmarshal([]byte(data), &recs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if _, ok := recs[0]["trarNo"]; ok {
		t.Error("null trarNo kept in record 0")
	}
	if got := recs[0]["flrNo"]; got != "3" {
		t.Errorf("flrNo = %q, want 3", got)
	}
	if got := recs[0]["lon"]; got != "126.97" {
		t.Errorf("lon = %q, want 126.97", got)
	}
	if got := recs[1]["trarNo"]; got != "9174" {
		t.Errorf("trarNo = %q, want 9174", got)
	}
}

func TestShape(t *testing.T) {
	shape := Shape([]Record{
		{"a": nil, "b": "x"},
		{"a": 1.5, "c": "y"},
		{"d": "z"},
	})

	if len(shape) != 4 {
		t.Errorf("len(shape) = %d, want 4", len(shape))
	}
	if shape["a"] != 1.5 {
		t.Errorf("shape[a] = %v, want first non-nil value 1.5", shape["a"])
	}
	if shape["d"] != "z" {
		t.Errorf("shape[d] = %v, want field of the last record", shape["d"])
	}
}
