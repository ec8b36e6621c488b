package batch

import (
	"sort"
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/rs/zerolog"
)

// Status is the terminal state of one region.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// StageTiming holds per-stage wall-clock durations of one region.
type StageTiming struct {
	Collect    time.Duration `json:"collect"`
	Preprocess time.Duration `json:"preprocess"`
	DBSave     time.Duration `json:"db_save"`
	Total      time.Duration `json:"total"`
}

// RegionOutcome is the result of one region. Records is the inserted count
// on success and the existing count when skipped.
type RegionOutcome struct {
	Query       model.RegionQuery `json:"query"`
	Status      Status            `json:"status"`
	Kind        client.Kind       `json:"kind,omitempty"`
	Err         error             `json:"-"`
	Error       string            `json:"error,omitempty"`
	Records     int               `json:"records"`
	FailedPages []int             `json:"failed_pages,omitempty"`
	FromCache   bool              `json:"from_cache"`
	Snapshot    string            `json:"snapshot,omitempty"`
	Timing      StageTiming       `json:"timing"`
}

// BatchReport summarizes one run. RateLimited counts the 429 responses seen
// during the run and RecentlyLimited reports one close to its end; both stay
// zero without a RateLimitReporter.
type BatchReport struct {
	RunID           string          `json:"run_id"`
	TopLevelName    string          `json:"top_level_name"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	SuccessCount    int             `json:"success_count"`
	SkipCount       int             `json:"skip_count"`
	FailCount       int             `json:"fail_count"`
	TotalRecords    int             `json:"total_records"`
	RateLimited     int             `json:"rate_limited"`
	RecentlyLimited bool            `json:"recently_limited"`
	Regions         []RegionOutcome `json:"regions"`
	Timings         TimingSummary   `json:"timings"`
}

func (r *BatchReport) add(o RegionOutcome) {
	r.Regions = append(r.Regions, o)
	switch o.Status {
	case StatusSucceeded:
		r.SuccessCount++
		r.TotalRecords += o.Records
	case StatusSkipped:
		r.SkipCount++
		r.TotalRecords += o.Records
	case StatusFailed:
		r.FailCount++
	}
}

// Failed returns the outcomes that ended in StatusFailed.
func (r *BatchReport) Failed() []RegionOutcome {
	var out []RegionOutcome
	for _, o := range r.Regions {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// StageStats aggregates one stage across regions.
type StageStats struct {
	Sum     time.Duration `json:"sum"`
	Avg     time.Duration `json:"avg"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Percent float64       `json:"percent"`
}

// RegionDuration is one entry of the slowest-regions list.
type RegionDuration struct {
	SubLevelName string        `json:"sub_level_name"`
	Total        time.Duration `json:"total"`
}

// TimingSummary aggregates StageTiming over the regions whose pipeline ran.
type TimingSummary struct {
	Regions    int              `json:"regions"`
	Collect    StageStats       `json:"collect"`
	Preprocess StageStats       `json:"preprocess"`
	DBSave     StageStats       `json:"db_save"`
	AvgTotal   time.Duration    `json:"avg_total"`
	Slowest    []RegionDuration `json:"slowest"`
}

// Summarize computes stage statistics over non-skipped outcomes. Failed
// regions count, including NoData and AlreadyExists failures that return
// before the later stages run and so pull the stage averages down. Skipped
// regions never ran a stage and are left out. Percent is each stage's share
// of collect+preprocess+db_save; it stays zero when that sum is zero.
func Summarize(outcomes []RegionOutcome, slowestN int) TimingSummary {
	var (
		collect, pre, save, total []time.Duration
		durations                 []RegionDuration
	)
	for _, o := range outcomes {
		if o.Status == StatusSkipped {
			continue
		}
		collect = append(collect, o.Timing.Collect)
		pre = append(pre, o.Timing.Preprocess)
		save = append(save, o.Timing.DBSave)
		total = append(total, o.Timing.Total)
		durations = append(durations, RegionDuration{SubLevelName: o.Query.SubLevelName, Total: o.Timing.Total})
	}

	s := TimingSummary{Regions: len(collect)}
	if s.Regions == 0 {
		return s
	}

	s.Collect = stageStats(collect)
	s.Preprocess = stageStats(pre)
	s.DBSave = stageStats(save)
	s.AvgTotal = stageStats(total).Avg

	if all := s.Collect.Sum + s.Preprocess.Sum + s.DBSave.Sum; all > 0 {
		s.Collect.Percent = float64(s.Collect.Sum) / float64(all) * 100
		s.Preprocess.Percent = float64(s.Preprocess.Sum) / float64(all) * 100
		s.DBSave.Percent = float64(s.DBSave.Sum) / float64(all) * 100
	}

	sort.SliceStable(durations, func(i, j int) bool {
		return durations[i].Total > durations[j].Total
	})
	if slowestN > 0 && len(durations) > slowestN {
		durations = durations[:slowestN]
	}
	s.Slowest = durations
	return s
}

func stageStats(ds []time.Duration) StageStats {
	st := StageStats{Min: ds[0], Max: ds[0]}
	for _, d := range ds {
		st.Sum += d
		if d < st.Min {
			st.Min = d
		}
		if d > st.Max {
			st.Max = d
		}
	}
	st.Avg = st.Sum / time.Duration(len(ds))
	return st
}

// Log writes the summary as structured events.
func (s TimingSummary) Log(logger zerolog.Logger) {
	if s.Regions == 0 {
		logger.Warn().Msg("No timing data collected")
		return
	}
	for _, stage := range []struct {
		name string
		st   StageStats
	}{
		{"collect", s.Collect},
		{"preprocess", s.Preprocess},
		{"db_save", s.DBSave},
	} {
		logger.Info().
			Str("stage", stage.name).
			Dur("avg", stage.st.Avg).
			Dur("min", stage.st.Min).
			Dur("max", stage.st.Max).
			Dur("sum", stage.st.Sum).
			Float64("percent", stage.st.Percent).
			Msg("Stage timing")
	}
	for rank, r := range s.Slowest {
		logger.Info().
			Int("rank", rank+1).
			Str("sub_level", r.SubLevelName).
			Dur("duration", r.Total).
			Msg("Slow region")
	}
}
