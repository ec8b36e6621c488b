package pagination

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// StoreListEndpoint lists the stores of one sub-region.
const StoreListEndpoint = "/storeListInDong"

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sdsc_pages_fetched_total",
		Help: "Total store listing pages fetched successfully",
	})

	pagesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sdsc_pages_failed_total",
		Help: "Total store listing pages that failed and were left out of a result",
	})
)

// Config holds orchestrator configuration.
type Config struct {
	// PageSize is the numOfRows sent with every page request.
	PageSize int
	// MaxConcurrency bounds page requests in flight.
	MaxConcurrency int
}

// DefaultConfig returns the upstream's maximum page size and a conservative
// concurrency.
func DefaultConfig() Config {
	return Config{
		PageSize:       1000,
		MaxConcurrency: 5,
	}
}

// Executor is the subset of *client.Client the orchestrator needs.
type Executor interface {
	Execute(ctx context.Context, endpoint string, params url.Values) (*client.Response, error)
}

// FetchOutcome is the terminal result of one page request.
type FetchOutcome struct {
	Page      int
	Items     []model.RawRecord
	Succeeded bool
	Err       error
}

// RegionResult is the merged output of one sub-region fetch.
// TotalFetched <= TotalExpected always holds, and any failed page implies
// TotalFetched < TotalExpected. PageErrors holds the terminal error of every
// page in FailedPages.
type RegionResult struct {
	Records       []model.RawRecord
	TotalExpected int
	TotalFetched  int
	FailedPages   []int
	PageErrors    map[int]error
}

// Complete reports whether every planned page arrived.
func (r *RegionResult) Complete() bool {
	return len(r.FailedPages) == 0
}

// Orchestrator fetches every page of a sub-region listing.
type Orchestrator struct {
	exec   Executor
	config Config
}

// NewOrchestrator creates an orchestrator; non-positive config values fall
// back to the defaults.
func NewOrchestrator(exec Executor, config Config) *Orchestrator {
	def := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	return &Orchestrator{exec: exec, config: config}
}

// FetchAll reads the total count from page 1, then fetches the remaining
// pages with bounded concurrency. Only a failed first page is returned as an
// error; later page failures end up in RegionResult.FailedPages.
func (o *Orchestrator) FetchAll(ctx context.Context, subLevelCode string) (*RegionResult, error) {
	start := time.Now()

	first := o.fetchPage(ctx, model.PageRequest{SubLevelCode: subLevelCode, PageNumber: 1, PageSize: o.config.PageSize})
	if !first.outcome.Succeeded {
		return nil, fmt.Errorf("fetch first page of %s: %w", subLevelCode, first.outcome.Err)
	}

	totalCount := first.totalCount
	if totalCount == 0 {
		log.Info().
			Str("sub_level_code", subLevelCode).
			Msg("No records for sub-region")
		return &RegionResult{Records: []model.RawRecord{}, PageErrors: map[int]error{}}, nil
	}

	totalPages := (totalCount + o.config.PageSize - 1) / o.config.PageSize

	log.Info().
		Str("sub_level_code", subLevelCode).
		Int("total_count", totalCount).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	outcomes := make([]FetchOutcome, totalPages)
	outcomes[0] = first.outcome

	if totalPages > 1 {
		var (
			g       errgroup.Group
			mu      sync.Mutex
			fetched = 1
		)
		g.SetLimit(o.config.MaxConcurrency)

		for page := 2; page <= totalPages; page++ {
			req := model.PageRequest{SubLevelCode: subLevelCode, PageNumber: page, PageSize: o.config.PageSize}
			g.Go(func() error {
				res := o.fetchPage(ctx, req)
				outcomes[req.PageNumber-1] = res.outcome

				if !res.outcome.Succeeded {
					log.Warn().
						Err(res.outcome.Err).
						Str("sub_level_code", subLevelCode).
						Int("page", req.PageNumber).
						Msg("Page fetch failed")
					return nil
				}

				mu.Lock()
				fetched++
				if fetched%10 == 0 {
					log.Info().
						Str("sub_level_code", subLevelCode).
						Int("fetched", fetched).
						Int("total", totalPages).
						Float64("progress_pct", float64(fetched)/float64(totalPages)*100).
						Msg("Fetch progress")
				}
				mu.Unlock()
				return nil
			})
		}
		// Workers always return nil; page failures live in outcomes.
		_ = g.Wait()
	}

	result := merge(outcomes, totalCount)

	log.Info().
		Str("sub_level_code", subLevelCode).
		Int("expected", result.TotalExpected).
		Int("fetched", result.TotalFetched).
		Ints("failed_pages", result.FailedPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return result, nil
}

type pageResult struct {
	outcome    FetchOutcome
	totalCount int
}

func (o *Orchestrator) fetchPage(ctx context.Context, req model.PageRequest) pageResult {
	params := url.Values{}
	params.Set("divId", model.FieldSubLevelCode)
	params.Set("key", req.SubLevelCode)
	params.Set("numOfRows", strconv.Itoa(req.PageSize))
	params.Set("pageNo", strconv.Itoa(req.PageNumber))

	out := FetchOutcome{Page: req.PageNumber}

	resp, err := o.exec.Execute(ctx, StoreListEndpoint, params)
	if err != nil {
		pagesFailedTotal.Inc()
		out.Err = err
		return pageResult{outcome: out}
	}

	var items []model.RawRecord
	if err := resp.DecodeItems(&items); err != nil {
		pagesFailedTotal.Inc()
		out.Err = &client.Error{Kind: client.KindClient, Endpoint: StoreListEndpoint, Message: fmt.Sprintf("decode page %d", req.PageNumber), Err: err}
		return pageResult{outcome: out}
	}

	pagesFetchedTotal.Inc()
	out.Items = items
	out.Succeeded = true
	return pageResult{outcome: out, totalCount: resp.TotalCount}
}

// merge concatenates successful pages in page order and collects failed
// page numbers in ascending order.
func merge(outcomes []FetchOutcome, totalCount int) *RegionResult {
	result := &RegionResult{
		TotalExpected: totalCount,
		FailedPages:   []int{},
		PageErrors:    map[int]error{},
	}

	size := 0
	for _, o := range outcomes {
		size += len(o.Items)
	}
	result.Records = make([]model.RawRecord, 0, size)

	for _, o := range outcomes {
		if !o.Succeeded {
			result.FailedPages = append(result.FailedPages, o.Page)
			result.PageErrors[o.Page] = o.Err
			continue
		}
		result.Records = append(result.Records, o.Items...)
	}
	sort.Ints(result.FailedPages)

	result.TotalFetched = len(result.Records)
	if result.TotalFetched > result.TotalExpected {
		// The listing grew between the first and a later page.
		result.TotalExpected = result.TotalFetched
	}
	return result
}
