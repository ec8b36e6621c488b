// Package pagination fetches every page of a sub-region store listing.
//
// The listing endpoint reports the total record count on every page, so the
// orchestrator reads page 1 first, plans ceil(totalCount/pageSize) pages and
// fetches pages 2..N through a bounded errgroup (default 5 in flight).
//
// Example usage:
//
//	orch := pagination.NewOrchestrator(apiClient, pagination.DefaultConfig())
//	result, err := orch.FetchAll(ctx, "11680")
//
// The orchestrator:
//   - Fails only when the first page fails
//   - Records failed later pages instead of aborting
//   - Never cancels in-flight pages when a sibling fails
//   - Merges successful pages in page order without deduplication
package pagination
