// Command sdsc-collect collects the store listings of every sub-region of a
// top-level region and persists them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/sdsc-collector/internal/config"
	"github.com/Sternrassler/sdsc-collector/pkg/batch"
	"github.com/Sternrassler/sdsc-collector/pkg/cache"
	"github.com/Sternrassler/sdsc-collector/pkg/catalog"
	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/logging"
	"github.com/Sternrassler/sdsc-collector/pkg/metrics"
	"github.com/Sternrassler/sdsc-collector/pkg/pagination"
	"github.com/Sternrassler/sdsc-collector/pkg/preprocess"
	"github.com/Sternrassler/sdsc-collector/pkg/region"
	"github.com/Sternrassler/sdsc-collector/pkg/snapshot"
	"github.com/Sternrassler/sdsc-collector/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultTopLevel = "서울특별시"

type options struct {
	top            string
	subs           []string
	force          bool
	skipExisting   bool
	listTop        bool
	listSub        bool
	listZones      bool
	listIndustries bool
	industryLarge  string
	industryMiddle string
	configPath     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Error().Err(err).Msg("Collection aborted")
		stop()
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var (
		opts options
		subs string
	)
	fs := flag.NewFlagSet("sdsc-collect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.top, "top", defaultTopLevel, "top-level region name")
	fs.StringVar(&subs, "sub", "", "comma-separated sub-level names (default: all)")
	fs.BoolVar(&opts.force, "force", false, "ignore the raw cache and replace stored rows")
	fs.BoolVar(&opts.skipExisting, "skip-existing", false, "skip sub-levels that already have stored rows")
	fs.BoolVar(&opts.listTop, "list-top", false, "list top-level regions and exit")
	fs.BoolVar(&opts.listSub, "list-sub", false, "list the sub-levels of -top and exit")
	fs.BoolVar(&opts.listZones, "list-zones", false, "list the commercial districts of the selected sub-levels and exit")
	fs.BoolVar(&opts.listIndustries, "list-industries", false, "list industry codes and exit (large, or the children of -industry-large/-industry-middle)")
	fs.StringVar(&opts.industryLarge, "industry-large", "", "large industry code to narrow -list-industries")
	fs.StringVar(&opts.industryMiddle, "industry-middle", "", "middle industry code to narrow -list-industries")
	fs.StringVar(&opts.configPath, "config", ".env", "path to a .env file")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.subs = splitList(subs)
	return opts, nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	_, logCloser, err := logging.Setup(cfg.Logging())
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger := logging.NewLogger("cli")
	if keys := cfg.FixedOverrides(); len(keys) > 0 {
		logger.Warn().Strs("keys", keys).Msg("Overriding upstream-fixed request settings")
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	apiClient, err := client.New(cfg.Client())
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	defer apiClient.Close()

	resolver := region.NewResolver(apiClient)
	cat := catalog.New(apiClient, resolver)

	if opts.listIndustries {
		entries, err := listIndustries(ctx, cat, opts)
		if err != nil {
			return fmt.Errorf("list industries: %w", err)
		}
		for _, e := range entries {
			fmt.Fprintf(stdout, "%s\t%s\n", e.Code, e.Name)
		}
		return nil
	}

	if opts.listTop {
		entries, err := resolver.TopLevels(ctx)
		if err != nil {
			return fmt.Errorf("list top-level regions: %w", err)
		}
		printEntries(stdout, entries)
		return nil
	}

	subs := opts.subs
	if opts.listSub || len(subs) == 0 {
		entries, err := resolver.SubLevels(ctx, opts.top)
		if err != nil {
			return fmt.Errorf("list sub-levels of %s: %w", opts.top, err)
		}
		if opts.listSub {
			printEntries(stdout, entries)
			return nil
		}
		for _, e := range entries {
			subs = append(subs, e.Name)
		}
	}

	if opts.listZones {
		for _, sub := range subs {
			zones, err := cat.Zones(ctx, opts.top, sub)
			if err != nil {
				return fmt.Errorf("list zones of %s %s: %w", opts.top, sub, err)
			}
			for _, z := range zones {
				fmt.Fprintf(stdout, "%s\t%s\t%s\n", sub, z.Number, z.Name)
			}
		}
		return nil
	}

	store, err := storage.Open(ctx, cfg.Storage())
	if err != nil {
		return err
	}
	defer store.Close()

	deps := batch.Dependencies{
		Resolver:     resolver,
		Fetcher:      pagination.NewOrchestrator(apiClient, cfg.Pagination()),
		Preprocessor: preprocess.New(),
		Store:        store,
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		deps.Cache = cache.NewManager(rdb, cfg.CacheTTL())
	}

	if mc, ok := cfg.MinIO(); ok {
		w, err := snapshot.NewMinIO(ctx, mc)
		if err != nil {
			return err
		}
		deps.Snapshots = w
	} else if cfg.SnapshotDir != "" {
		w, err := snapshot.NewLocal(cfg.SnapshotDir)
		if err != nil {
			return err
		}
		deps.Snapshots = w
	}

	driver, err := batch.NewDriver(deps, cfg.Batch())
	if err != nil {
		return err
	}

	deps.RateLimits = apiClient

	logger.Info().
		Str("top_level", opts.top).
		Int("regions", len(subs)).
		Str("db_type", cfg.DBType).
		Bool("raw_cache", deps.Cache != nil).
		Bool("snapshots", deps.Snapshots != nil).
		Msg("Starting collection")

	report := driver.Run(ctx, opts.top, subs, batch.Options{
		ForceUpdate:  opts.force,
		SkipExisting: opts.skipExisting,
	})
	printReport(stdout, report)
	return nil
}

// listIndustries picks the level from the parent codes given: none lists the
// large level, a large code its middle level, a middle code its small level.
func listIndustries(ctx context.Context, cat *catalog.Catalog, opts options) ([]catalog.Industry, error) {
	switch {
	case opts.industryMiddle != "":
		return cat.SmallIndustries(ctx, opts.industryLarge, opts.industryMiddle)
	case opts.industryLarge != "":
		return cat.MiddleIndustries(ctx, opts.industryLarge)
	default:
		return cat.LargeIndustries(ctx)
	}
}

func printEntries(w io.Writer, entries []region.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Code, e.Name)
	}
}

func printReport(w io.Writer, r *batch.BatchReport) {
	fmt.Fprintf(w, "run %s: %s\n", r.RunID, r.TopLevelName)
	fmt.Fprintf(w, "regions: %d  succeeded: %d  skipped: %d  failed: %d\n",
		len(r.Regions), r.SuccessCount, r.SkipCount, r.FailCount)
	fmt.Fprintf(w, "records: %d  duration: %s\n", r.TotalRecords, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.RateLimited > 0 {
		fmt.Fprintf(w, "rate limited responses: %d\n", r.RateLimited)
	}
	for _, o := range r.Failed() {
		fmt.Fprintf(w, "failed: %s (%s): %s\n", o.Query.SubLevelName, o.Kind, o.Error)
	}
}
