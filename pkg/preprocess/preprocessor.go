// Package preprocess cleans raw store listings into typed records.
package preprocess

import (
	"strconv"
	"strings"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Coordinate bounds for the Korean peninsula (WGS84).
const (
	MinLon = 124.0
	MaxLon = 132.0
	MinLat = 33.0
	MaxLat = 43.0
)

// NumericFields are coerced to float64. Unparsable values become nil.
var NumericFields = []string{"lon", "lat", "lnoMnno", "lnoSlno", "bldMnno", "bldSlno", "flrNo"}

// RequiredFields must be present and non-empty for a record to survive.
var RequiredFields = []string{
	"bizesId", "bizesNm",
	"indsLclsCd", "indsLclsNm",
	"indsMclsCd", "indsMclsNm",
	"indsSclsCd", "indsSclsNm",
}

// nonNegativeFields hold floor and lot/building numbers.
var nonNegativeFields = []string{"flrNo", "lnoMnno", "lnoSlno", "bldMnno", "bldSlno"}

// Preprocessor applies the default cleaning rules. The zero value is not
// usable; call New.
type Preprocessor struct {
	logger zerolog.Logger
}

// New creates a preprocessor.
func New() *Preprocessor {
	return &Preprocessor{
		logger: log.With().Str("component", "preprocessor").Logger(),
	}
}

// Preprocess coerces numeric fields and drops records that miss a required
// field, fall outside the coordinate bounds, or carry a negative floor or
// lot number. Rules only apply to fields that occur somewhere in raw.
func (p *Preprocessor) Preprocess(raw []model.RawRecord) []model.Record {
	present := columns(raw)
	checkCoords := present["lon"] && present["lat"]

	var (
		missing  = map[string]int{}
		badCoord int
		negative = map[string]int{}
	)

	out := make([]model.Record, 0, len(raw))
	for _, r := range raw {
		rec := convert(r, present)

		if field, ok := missingRequired(rec, present); ok {
			missing[field]++
			continue
		}
		if checkCoords && !inBounds(rec) {
			badCoord++
			continue
		}
		if field, ok := negativeNumber(rec); ok {
			negative[field]++
			continue
		}
		out = append(out, rec)
	}

	for field, n := range missing {
		p.logger.Warn().Str("field", field).Int("count", n).Msg("Dropped records missing a required field")
	}
	if badCoord > 0 {
		p.logger.Warn().Int("count", badCoord).Msg("Dropped records with out-of-range coordinates")
	}
	for field, n := range negative {
		p.logger.Warn().Str("field", field).Int("count", n).Msg("Dropped records with negative values")
	}

	p.logger.Info().
		Int("input", len(raw)).
		Int("output", len(out)).
		Int("removed", len(raw)-len(out)).
		Msg("Preprocessing complete")

	return out
}

// Summary counts distinct regions and industry categories in records.
func (p *Preprocessor) Summary(records []model.Record) model.Summary {
	distinct := func(field string) int {
		seen := map[string]struct{}{}
		for _, r := range records {
			if v := r.String(field); v != "" {
				seen[v] = struct{}{}
			}
		}
		return len(seen)
	}

	s := model.Summary{
		Total:          len(records),
		TopLevels:      distinct(model.FieldTopLevelName),
		SubLevels:      distinct(model.FieldSubLevelName),
		IndustryLarge:  distinct("indsLclsNm"),
		IndustryMiddle: distinct("indsMclsNm"),
		IndustrySmall:  distinct("indsSclsNm"),
	}
	for _, r := range records {
		_, hasLon := r.Float("lon")
		_, hasLat := r.Float("lat")
		if !hasLon || !hasLat {
			s.MissingCoordinates++
		}
	}
	return s
}

func columns(raw []model.RawRecord) map[string]bool {
	present := map[string]bool{}
	for _, r := range raw {
		for k := range r {
			present[k] = true
		}
	}
	return present
}

func convert(r model.RawRecord, present map[string]bool) model.Record {
	rec := make(model.Record, len(r)+len(NumericFields))
	for k, v := range r {
		rec[k] = v
	}
	for _, field := range NumericFields {
		if !present[field] {
			continue
		}
		rec[field] = parseNumber(r[field])
	}
	return rec
}

func parseNumber(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

func missingRequired(rec model.Record, present map[string]bool) (string, bool) {
	for _, field := range RequiredFields {
		if !present[field] {
			continue
		}
		if strings.TrimSpace(rec.String(field)) == "" {
			return field, true
		}
	}
	return "", false
}

// inBounds is false for missing coordinates as well.
func inBounds(rec model.Record) bool {
	lon, ok := rec.Float("lon")
	if !ok || lon < MinLon || lon > MaxLon {
		return false
	}
	lat, ok := rec.Float("lat")
	return ok && lat >= MinLat && lat <= MaxLat
}

func negativeNumber(rec model.Record) (string, bool) {
	for _, field := range nonNegativeFields {
		if v, ok := rec.Float(field); ok && v < 0 {
			return field, true
		}
	}
	return "", false
}
