// Package batch drives the collection of every sub-region of one top-level
// region: collect, preprocess, snapshot and store, one region at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/cache"
	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/Sternrassler/sdsc-collector/pkg/pagination"
	"github.com/Sternrassler/sdsc-collector/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	regionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sdsc_regions_total",
		Help: "Sub-regions processed by outcome and failure kind",
	}, []string{"status", "kind"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sdsc_stage_duration_seconds",
		Help:    "Wall-clock duration of one pipeline stage for one sub-region",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180},
	}, []string{"stage"})
)

// Resolver maps region names to codes.
type Resolver interface {
	Resolve(ctx context.Context, topLevelName, subLevelName string) (model.RegionCode, error)
}

// Fetcher retrieves the full listing of one sub-region.
type Fetcher interface {
	FetchAll(ctx context.Context, subLevelCode string) (*pagination.RegionResult, error)
}

// Preprocessor cleans raw records.
type Preprocessor interface {
	Preprocess(raw []model.RawRecord) []model.Record
	Summary(records []model.Record) model.Summary
}

// Store persists cleaned records.
type Store interface {
	Count(ctx context.Context, top, sub string) (int, error)
	Delete(ctx context.Context, top, sub string) (int, error)
	Insert(ctx context.Context, records []model.Record) (int, error)
	Initialized(ctx context.Context) (bool, error)
	EnsureSchema(ctx context.Context, shape model.Record) error
	BuildIndexes(ctx context.Context) error
}

// StatsStore is implemented by stores that can report totals at the end of a run.
type StatsStore interface {
	Stats(ctx context.Context) (model.StoreStats, error)
}

// RawCache keeps raw listings between runs. Load returns cache.ErrCacheMiss
// for absent regions.
type RawCache interface {
	Exists(ctx context.Context, top, sub string) (bool, error)
	Load(ctx context.Context, top, sub string) ([]model.RawRecord, error)
	Save(ctx context.Context, records []model.RawRecord, top, sub string) error
}

// SnapshotWriter persists the cleaned records of one region as a file or object.
type SnapshotWriter interface {
	Write(ctx context.Context, records []model.Record, top, sub string) (string, error)
}

// RateLimitReporter exposes the 429 signals observed by the API client.
type RateLimitReporter interface {
	RateLimitState() ratelimit.State
}

// Options control one run.
type Options struct {
	// ForceUpdate ignores the raw cache and replaces stored rows.
	ForceUpdate bool
	// SkipExisting skips regions that already have stored rows.
	SkipExisting bool
}

// Config holds driver configuration.
type Config struct {
	// RegionTimeout bounds each FetchAll call. Zero disables it.
	RegionTimeout time.Duration
	// SlowestN is how many of the slowest regions the report lists.
	SlowestN int
}

// DefaultConfig returns the default driver configuration.
func DefaultConfig() Config {
	return Config{SlowestN: 5}
}

// Dependencies are the collaborators of a Driver. Cache, Snapshots and
// RateLimits are optional.
type Dependencies struct {
	Resolver     Resolver
	Fetcher      Fetcher
	Preprocessor Preprocessor
	Store        Store
	Cache        RawCache
	Snapshots    SnapshotWriter
	RateLimits   RateLimitReporter
}

// Driver runs batches. It processes regions strictly one after another.
type Driver struct {
	deps   Dependencies
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewDriver validates deps and creates a driver.
func NewDriver(deps Dependencies, config Config) (*Driver, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("resolver is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Preprocessor == nil:
		return nil, errors.New("preprocessor is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	}
	if config.SlowestN <= 0 {
		config.SlowestN = DefaultConfig().SlowestN
	}
	return &Driver{
		deps:   deps,
		config: config,
		logger: log.With().Str("component", "batch").Logger(),
		now:    time.Now,
	}, nil
}

// Run processes every sub-region of topLevelName in order. A failing region
// never stops the batch; its outcome is recorded and the next one starts.
func (d *Driver) Run(ctx context.Context, topLevelName string, subLevelNames []string, opts Options) *BatchReport {
	report := &BatchReport{
		RunID:        uuid.NewString(),
		TopLevelName: topLevelName,
		StartedAt:    d.now(),
		Regions:      make([]RegionOutcome, 0, len(subLevelNames)),
	}
	logger := d.logger.With().Str("run_id", report.RunID).Str("top_level", topLevelName).Logger()

	var limitsBefore ratelimit.State
	if d.deps.RateLimits != nil {
		limitsBefore = d.deps.RateLimits.RateLimitState()
	}

	logger.Info().
		Int("regions", len(subLevelNames)).
		Bool("force_update", opts.ForceUpdate).
		Bool("skip_existing", opts.SkipExisting).
		Msg("Batch started")

	for i, sub := range subLevelNames {
		logger.Info().
			Str("sub_level", sub).
			Int("index", i+1).
			Int("total", len(subLevelNames)).
			Msg("Processing region")

		outcome := d.processRegion(ctx, logger, model.RegionQuery{TopLevelName: topLevelName, SubLevelName: sub}, opts)
		report.add(outcome)
		regionsTotal.WithLabelValues(string(outcome.Status), string(outcome.Kind)).Inc()

		if outcome.Status != StatusSkipped {
			stageDuration.WithLabelValues("collect").Observe(outcome.Timing.Collect.Seconds())
			stageDuration.WithLabelValues("preprocess").Observe(outcome.Timing.Preprocess.Seconds())
			stageDuration.WithLabelValues("db_save").Observe(outcome.Timing.DBSave.Seconds())
		}
	}

	report.FinishedAt = d.now()
	report.Timings = Summarize(report.Regions, d.config.SlowestN)

	if d.deps.RateLimits != nil {
		st := d.deps.RateLimits.RateLimitState()
		report.RateLimited = st.RateLimited - limitsBefore.RateLimited
		report.RecentlyLimited = st.RecentlyLimited(report.FinishedAt)
	}

	logger.Info().
		Int("success", report.SuccessCount).
		Int("skipped", report.SkipCount).
		Int("failed", report.FailCount).
		Int("total_records", report.TotalRecords).
		Int("rate_limited", report.RateLimited).
		Bool("recently_limited", report.RecentlyLimited).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Batch complete")
	report.Timings.Log(logger)

	d.logStoreStats(ctx, logger)
	return report
}

func (d *Driver) processRegion(ctx context.Context, logger zerolog.Logger, q model.RegionQuery, opts Options) RegionOutcome {
	logger = logger.With().Str("sub_level", q.SubLevelName).Logger()
	out := RegionOutcome{Query: q}
	regionStart := d.now()

	fail := func(err error) RegionOutcome {
		out.Status = StatusFailed
		out.Kind = client.KindOf(err)
		out.Err = err
		out.Error = err.Error()
		out.Timing.Total = d.now().Sub(regionStart)
		logger.Error().
			Err(err).
			Str("kind", string(out.Kind)).
			Msg("Region failed")
		return out
	}

	if opts.SkipExisting && !opts.ForceUpdate {
		existing, err := d.existingCount(ctx, q)
		if err != nil {
			return fail(err)
		}
		if existing > 0 {
			out.Status = StatusSkipped
			out.Records = existing
			logger.Info().Int("existing", existing).Msg("Region already stored, skipping")
			return out
		}
	}

	// Collect
	start := d.now()
	raw, err := d.collect(ctx, logger, q, opts, &out)
	out.Timing.Collect = d.now().Sub(start)
	if err != nil {
		return fail(err)
	}

	// Preprocess, including the snapshot of the cleaned records
	start = d.now()
	records := d.deps.Preprocessor.Preprocess(raw)
	if len(records) == 0 {
		out.Timing.Preprocess = d.now().Sub(start)
		return fail(&client.Error{Kind: client.KindNoData, Message: fmt.Sprintf("no usable records for %s", q)})
	}
	summary := d.deps.Preprocessor.Summary(records)
	logger.Info().
		Int("raw", len(raw)).
		Int("cleaned", summary.Total).
		Int("industry_small", summary.IndustrySmall).
		Int("missing_coordinates", summary.MissingCoordinates).
		Msg("Preprocessing complete")

	if d.deps.Snapshots != nil {
		location, err := d.deps.Snapshots.Write(ctx, records, q.TopLevelName, q.SubLevelName)
		if err != nil {
			logger.Warn().Err(err).Msg("Snapshot write failed")
		} else {
			out.Snapshot = location
		}
	}
	out.Timing.Preprocess = d.now().Sub(start)

	// Store
	start = d.now()
	inserted, err := d.save(ctx, logger, q, records, opts)
	out.Timing.DBSave = d.now().Sub(start)
	if err != nil {
		return fail(err)
	}

	out.Status = StatusSucceeded
	out.Records = inserted
	out.Timing.Total = d.now().Sub(regionStart)

	logger.Info().
		Int("inserted", inserted).
		Ints("failed_pages", out.FailedPages).
		Dur("duration", out.Timing.Total).
		Msg("Region complete")
	return out
}

func (d *Driver) existingCount(ctx context.Context, q model.RegionQuery) (int, error) {
	initialized, err := d.deps.Store.Initialized(ctx)
	if err != nil {
		return 0, fmt.Errorf("check store schema: %w", err)
	}
	if !initialized {
		return 0, nil
	}
	n, err := d.deps.Store.Count(ctx, q.TopLevelName, q.SubLevelName)
	if err != nil {
		return 0, fmt.Errorf("count stored rows: %w", err)
	}
	return n, nil
}

// collect returns the raw records of a region from the cache or the API.
func (d *Driver) collect(ctx context.Context, logger zerolog.Logger, q model.RegionQuery, opts Options, out *RegionOutcome) ([]model.RawRecord, error) {
	if d.deps.Cache != nil && !opts.ForceUpdate {
		raw, err := d.deps.Cache.Load(ctx, q.TopLevelName, q.SubLevelName)
		switch {
		case err == nil:
			out.FromCache = true
			logger.Info().Int("records", len(raw)).Msg("Using cached raw listing")
			return raw, nil
		case errors.Is(err, cache.ErrCacheMiss):
		default:
			logger.Warn().Err(err).Msg("Raw cache read failed, fetching from API")
		}
	}

	code, err := d.deps.Resolver.Resolve(ctx, q.TopLevelName, q.SubLevelName)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", q, err)
	}

	fetchCtx := ctx
	if d.config.RegionTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.config.RegionTimeout)
		defer cancel()
	}

	result, err := d.deps.Fetcher.FetchAll(fetchCtx, code.SubLevelCode)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}
	out.FailedPages = result.FailedPages

	if !result.Complete() {
		kinds := make([]string, 0, len(result.FailedPages))
		for _, page := range result.FailedPages {
			kinds = append(kinds, string(client.KindOf(result.PageErrors[page])))
		}
		logger.Warn().
			Int("expected", result.TotalExpected).
			Int("fetched", result.TotalFetched).
			Ints("failed_pages", result.FailedPages).
			Strs("failed_page_kinds", kinds).
			Msg("Partial listing, not caching")
		return result.Records, nil
	}

	if d.deps.Cache != nil && len(result.Records) > 0 {
		if err := d.deps.Cache.Save(ctx, result.Records, q.TopLevelName, q.SubLevelName); err != nil {
			logger.Warn().Err(err).Msg("Raw cache write failed")
		}
	}
	return result.Records, nil
}

// save applies the store rules and returns the inserted row count.
func (d *Driver) save(ctx context.Context, logger zerolog.Logger, q model.RegionQuery, records []model.Record, opts Options) (int, error) {
	store := d.deps.Store

	initialized, err := store.Initialized(ctx)
	if err != nil {
		return 0, fmt.Errorf("check store schema: %w", err)
	}
	if !initialized {
		// Nulls are dropped per record, so only the union of all fields
		// names every column.
		if err := store.EnsureSchema(ctx, model.Shape(records)); err != nil {
			return 0, fmt.Errorf("create schema: %w", err)
		}
		if err := store.BuildIndexes(ctx); err != nil {
			return 0, fmt.Errorf("build indexes: %w", err)
		}
		logger.Info().Msg("Store schema created")
	} else {
		existing, err := store.Count(ctx, q.TopLevelName, q.SubLevelName)
		if err != nil {
			return 0, fmt.Errorf("count stored rows: %w", err)
		}
		if existing > 0 {
			if !opts.ForceUpdate {
				return 0, &client.Error{
					Kind:    client.KindAlreadyExists,
					Message: fmt.Sprintf("%d rows already stored for %s", existing, q),
				}
			}
			deleted, err := store.Delete(ctx, q.TopLevelName, q.SubLevelName)
			if err != nil {
				return 0, fmt.Errorf("delete stored rows: %w", err)
			}
			logger.Info().Int("deleted", deleted).Msg("Replaced stored rows")
		}
	}

	inserted, err := store.Insert(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("insert rows: %w", err)
	}
	return inserted, nil
}

func (d *Driver) logStoreStats(ctx context.Context, logger zerolog.Logger) {
	ss, ok := d.deps.Store.(StatsStore)
	if !ok {
		return
	}
	stats, err := ss.Stats(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Store statistics unavailable")
		return
	}
	logger.Info().
		Int("total_rows", stats.TotalRows).
		Int("top_levels", stats.TopLevels).
		Int("sub_levels", stats.SubLevels).
		Int("industry_large", stats.IndustryLarge).
		Int("industry_middle", stats.IndustryMiddle).
		Int("industry_small", stats.IndustrySmall).
		Msg("Store statistics")
}
