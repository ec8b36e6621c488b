package pagination

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/sdsc-collector/internal/testutil"
	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/model"
)

func setupOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *testutil.MockAPI) {
	t.Helper()

	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	ccfg := client.DefaultConfig("test-key")
	ccfg.BaseURL = mock.URL()
	c, err := client.New(ccfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return NewOrchestrator(c, cfg), mock
}

func TestNewOrchestrator_Defaults(t *testing.T) {
	o := NewOrchestrator(nil, Config{})

	if o.config.PageSize != 1000 {
		t.Errorf("PageSize = %d, want 1000", o.config.PageSize)
	}
	if o.config.MaxConcurrency != 5 {
		t.Errorf("MaxConcurrency = %d, want 5", o.config.MaxConcurrency)
	}
}

func TestFetchAll_Empty(t *testing.T) {
	o, mock := setupOrchestrator(t, Config{PageSize: 10, MaxConcurrency: 5})

	result, err := o.FetchAll(context.Background(), "11110")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if result.TotalExpected != 0 || result.TotalFetched != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
	if len(result.FailedPages) != 0 {
		t.Errorf("FailedPages = %v, want none", result.FailedPages)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestFetchAll_PlansExactPageCount(t *testing.T) {
	tests := []struct {
		name      string
		records   int
		pageSize  int
		wantPages int
	}{
		{name: "single partial page", records: 7, pageSize: 10, wantPages: 1},
		{name: "exact multiple", records: 30, pageSize: 10, wantPages: 3},
		{name: "one over", records: 31, pageSize: 10, wantPages: 4},
		{name: "many pages", records: 250, pageSize: 10, wantPages: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, mock := setupOrchestrator(t, Config{PageSize: tt.pageSize, MaxConcurrency: 5})
			mock.SetStores("서울특별시", "종로구", "11110", tt.records)

			result, err := o.FetchAll(context.Background(), "11110")
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if got := mock.GetRequestCount(); got != tt.wantPages {
				t.Errorf("requests = %d, want %d", got, tt.wantPages)
			}
			for page := 1; page <= tt.wantPages; page++ {
				if got := mock.GetPageRequests(page); got != 1 {
					t.Errorf("page %d requested %d times, want 1", page, got)
				}
			}
			if result.TotalFetched != tt.records || result.TotalExpected != tt.records {
				t.Errorf("fetched/expected = %d/%d, want %d/%d", result.TotalFetched, result.TotalExpected, tt.records, tt.records)
			}
			if !result.Complete() {
				t.Errorf("FailedPages = %v, want none", result.FailedPages)
			}
		})
	}
}

func TestFetchAll_PartialFailure(t *testing.T) {
	o, mock := setupOrchestrator(t, Config{PageSize: 10, MaxConcurrency: 5})
	mock.SetStores("서울특별시", "종로구", "11110", 55)
	mock.FailPage(5, http.StatusInternalServerError)
	mock.FailPage(3, http.StatusBadGateway)

	result, err := o.FetchAll(context.Background(), "11110")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(result.FailedPages) != 2 || result.FailedPages[0] != 3 || result.FailedPages[1] != 5 {
		t.Errorf("FailedPages = %v, want [3 5]", result.FailedPages)
	}
	if result.TotalExpected != 55 {
		t.Errorf("TotalExpected = %d, want 55", result.TotalExpected)
	}
	if result.TotalFetched != 35 {
		t.Errorf("TotalFetched = %d, want 35", result.TotalFetched)
	}
	if len(result.Records) != result.TotalFetched {
		t.Errorf("len(Records) = %d, want %d", len(result.Records), result.TotalFetched)
	}
	if result.TotalFetched >= result.TotalExpected {
		t.Error("failed pages must leave TotalFetched < TotalExpected")
	}
}

// Pages that stay rate limited through every retry are recorded as failed
// while the rest of the listing is still fetched.
func TestFetchAll_RateLimitedPagesExhaustRetries(t *testing.T) {
	o, mock := setupOrchestrator(t, Config{PageSize: 10, MaxConcurrency: 5})
	mock.SetStores("서울특별시", "종로구", "11110", 60)
	mock.RateLimitPages(3, 5)

	result, err := o.FetchAll(context.Background(), "11110")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(result.FailedPages) != 2 || result.FailedPages[0] != 3 || result.FailedPages[1] != 5 {
		t.Errorf("FailedPages = %v, want [3 5]", result.FailedPages)
	}
	if result.TotalExpected != 60 || result.TotalFetched != 40 {
		t.Errorf("fetched/expected = %d/%d, want 40/60", result.TotalFetched, result.TotalExpected)
	}
	for _, page := range []int{3, 5} {
		if got := mock.GetPageRequests(page); got != 4 {
			t.Errorf("page %d requested %d times, want 4", page, got)
		}
		pageErr := result.PageErrors[page]
		if got := client.KindOf(pageErr); got != client.KindRateLimitExceeded {
			t.Errorf("page %d kind = %q, want %q", page, got, client.KindRateLimitExceeded)
		}
		if !errors.Is(pageErr, client.ErrRetryExhausted) {
			t.Errorf("page %d error = %v, want ErrRetryExhausted", page, pageErr)
		}
	}
	for _, page := range []int{1, 2, 4, 6} {
		if got := mock.GetPageRequests(page); got != 1 {
			t.Errorf("page %d requested %d times, want 1", page, got)
		}
	}
}

func TestFetchAll_FirstPageFailure(t *testing.T) {
	o, mock := setupOrchestrator(t, Config{PageSize: 10, MaxConcurrency: 5})
	mock.SetStores("서울특별시", "종로구", "11110", 55)
	mock.FailPage(1, http.StatusServiceUnavailable)

	result, err := o.FetchAll(context.Background(), "11110")
	if err == nil {
		t.Fatal("expected error when the first page fails")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
	if got := client.KindOf(err); got != client.KindServer {
		t.Errorf("KindOf(err) = %q, want %q", got, client.KindServer)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestFetchAll_ConcurrencyBound(t *testing.T) {
	o, mock := setupOrchestrator(t, Config{PageSize: 10, MaxConcurrency: 3})
	mock.SetStores("서울특별시", "종로구", "11110", 200)
	mock.SetStoreDelay(20 * time.Millisecond)

	if _, err := o.FetchAll(context.Background(), "11110"); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if got := mock.GetMaxInFlight(); got > 3 {
		t.Errorf("max in flight = %d, want <= 3", got)
	}
}

func TestFetchAll_MergesInPageOrder(t *testing.T) {
	o, mock := setupOrchestrator(t, Config{PageSize: 10, MaxConcurrency: 5})
	mock.SetStores("서울특별시", "종로구", "11110", 45)

	result, err := o.FetchAll(context.Background(), "11110")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	for i, rec := range result.Records {
		want := testutil.StoreRecord(i, "서울특별시", "종로구", "11110")["bizesId"]
		if rec[model.FieldStoreID] != want {
			t.Fatalf("Records[%d].bizesId = %q, want %q", i, rec[model.FieldStoreID], want)
		}
	}
}

func TestMerge(t *testing.T) {
	rec := func(id string) model.RawRecord { return model.RawRecord{model.FieldStoreID: id} }

	outcomes := []FetchOutcome{
		{Page: 1, Succeeded: true, Items: []model.RawRecord{rec("a"), rec("b")}},
		{Page: 2, Err: errors.New("boom")},
		{Page: 3, Succeeded: true, Items: []model.RawRecord{rec("b")}},
	}

	result := merge(outcomes, 6)

	if result.TotalFetched != 3 {
		t.Errorf("TotalFetched = %d, want 3 (duplicates are kept)", result.TotalFetched)
	}
	if len(result.FailedPages) != 1 || result.FailedPages[0] != 2 {
		t.Errorf("FailedPages = %v, want [2]", result.FailedPages)
	}
	if err := result.PageErrors[2]; err == nil || err.Error() != "boom" {
		t.Errorf("PageErrors[2] = %v, want boom", err)
	}
	if result.TotalExpected != 6 {
		t.Errorf("TotalExpected = %d, want 6", result.TotalExpected)
	}
}
