// Package testutil provides an in-process mock of the store information API.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// Region is one catalog row.
type Region struct {
	Name string
	Code string
}

// Industry is one bottom-level industry row with its parent levels.
type Industry struct {
	LargeCode, LargeName   string
	MiddleCode, MiddleName string
	SmallCode, SmallName   string
}

// MockAPI is a configurable mock of the catalog and store listing endpoints.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc

	topLevels []Region
	subLevels map[string][]Region
	stores    map[string][]map[string]any
	zones     map[string][]map[string]any
	industry  []Industry

	failPages    map[int]int
	rateLimitN   int
	storeDelay   time.Duration
	inFlight     int
	maxInFlight  int
	requestCount int
	pageRequests map[int]int
}

// NewMockAPI starts a mock server with empty catalogs.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:     make(map[string]http.HandlerFunc),
		subLevels:    make(map[string][]Region),
		stores:       make(map[string][]map[string]any),
		zones:        make(map[string][]map[string]any),
		failPages:    make(map[int]int),
		pageRequests: make(map[int]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		handler, exists := mock.handlers[r.URL.Path]
		limited := mock.rateLimitN > 0
		if limited {
			mock.rateLimitN--
		}
		mock.mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if limited {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if r.URL.Query().Get("serviceKey") == "" {
			writeEnvelope(w, "30", "SERVICE KEY IS NOT REGISTERED ERROR.", nil, nil)
			return
		}
		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case "/baroApi":
			mock.catalogHandler(w, r)
		case "/storeListInDong":
			mock.storeListHandler(w, r)
		case "/storeZoneInAdmi":
			mock.zoneHandler(w, r)
		case "/largeUpjongList", "/middleUpjongList", "/smallUpjongList":
			mock.industryHandler(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears the tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.maxInFlight = 0
	m.pageRequests = make(map[int]int)
}

// SetHandler overrides the handler for a path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// AddTopLevel registers a top-level region.
func (m *MockAPI) AddTopLevel(name, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topLevels = append(m.topLevels, Region{Name: name, Code: code})
}

// AddSubLevel registers a sub-level region under topCode.
func (m *MockAPI) AddSubLevel(topCode, name, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subLevels[topCode] = append(m.subLevels[topCode], Region{Name: name, Code: code})
}

// SetStores installs n generated store records for subCode.
func (m *MockAPI) SetStores(topName, subName, subCode string, n int) {
	records := make([]map[string]any, n)
	for i := range records {
		records[i] = StoreRecord(i, topName, subName, subCode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[subCode] = records
}

// AddZone registers a commercial district whose center lies in subCode.
func (m *MockAPI) AddZone(subCode, number, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[subCode] = append(m.zones[subCode], map[string]any{
		"trarNo":     number,
		"mainTrarNm": name,
		"signguCd":   subCode,
		"trarArea":   "150000",
		"coords":     "POLYGON ((126.97 37.57, 126.98 37.57, 126.98 37.58, 126.97 37.57))",
	})
}

// AddIndustry registers a bottom-level industry row.
func (m *MockAPI) AddIndustry(ind Industry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.industry = append(m.industry, ind)
}

// FailPage makes every request for page answer with status.
func (m *MockAPI) FailPage(page, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPages[page] = status
}

// RateLimitPages makes every request for the given pages answer with HTTP
// 429, so those pages exhaust their retries.
func (m *MockAPI) RateLimitPages(pages ...int) {
	for _, page := range pages {
		m.FailPage(page, http.StatusTooManyRequests)
	}
}

// RateLimitNext answers the next n requests with HTTP 429.
func (m *MockAPI) RateLimitNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitN = n
}

// SetStoreDelay delays every store listing response.
func (m *MockAPI) SetStoreDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeDelay = d
}

// GetRequestCount returns the number of requests served.
func (m *MockAPI) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// GetPageRequests returns how often page was requested.
func (m *MockAPI) GetPageRequests(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageRequests[page]
}

// GetMaxInFlight returns the peak number of concurrent store listing requests.
func (m *MockAPI) GetMaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockAPI) catalogHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m.mu.Lock()
	var rows []Region
	var nameField, codeField string
	switch q.Get("catId") {
	case "mega":
		rows = append(rows, m.topLevels...)
		nameField, codeField = "ctprvnNm", "ctprvnCd"
	case "cty":
		rows = append(rows, m.subLevels[q.Get("ctprvnCd")]...)
		nameField, codeField = "signguNm", "signguCd"
	}
	m.mu.Unlock()

	if nameField == "" {
		writeEnvelope(w, "10", "INVALID REQUEST PARAMETER ERROR.", nil, nil)
		return
	}

	items := make([]map[string]any, len(rows))
	for i, row := range rows {
		items[i] = map[string]any{nameField: row.Name, codeField: row.Code}
	}
	writeEnvelope(w, "00", "NORMAL SERVICE.", items, nil)
}

func (m *MockAPI) storeListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("pageNo"))
	size, _ := strconv.Atoi(q.Get("numOfRows"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}

	m.mu.Lock()
	m.pageRequests[page]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.storeDelay
	failStatus := m.failPages[page]
	all := m.stores[q.Get("key")]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failStatus != 0 {
		w.WriteHeader(failStatus)
		return
	}
	if len(all) == 0 {
		writeEnvelope(w, "03", "NODATA_ERROR", nil, nil)
		return
	}

	start := (page - 1) * size
	end := start + size
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	total := len(all)
	writeEnvelope(w, "00", "NORMAL SERVICE.", all[start:end], &total)
}

func (m *MockAPI) zoneHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("divId") != "signguCd" {
		writeEnvelope(w, "10", "INVALID REQUEST PARAMETER ERROR.", nil, nil)
		return
	}

	m.mu.Lock()
	rows := append([]map[string]any(nil), m.zones[q.Get("key")]...)
	m.mu.Unlock()

	if len(rows) == 0 {
		writeEnvelope(w, "03", "NODATA_ERROR", nil, nil)
		return
	}
	total := len(rows)
	writeEnvelope(w, "00", "NORMAL SERVICE.", rows, &total)
}

// industryHandler serves the distinct rows of the requested level, filtered
// by the parent codes in the query.
func (m *MockAPI) industryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	large, middle := q.Get("indsLclsCd"), q.Get("indsMclsCd")

	m.mu.Lock()
	all := append([]Industry(nil), m.industry...)
	m.mu.Unlock()

	seen := map[string]bool{}
	var rows []map[string]any
	for _, ind := range all {
		if large != "" && ind.LargeCode != large {
			continue
		}
		if middle != "" && ind.MiddleCode != middle {
			continue
		}
		var row map[string]any
		switch r.URL.Path {
		case "/largeUpjongList":
			row = map[string]any{"indsLclsCd": ind.LargeCode, "indsLclsNm": ind.LargeName}
		case "/middleUpjongList":
			row = map[string]any{"indsMclsCd": ind.MiddleCode, "indsMclsNm": ind.MiddleName, "indsLclsCd": ind.LargeCode}
		default:
			row = map[string]any{"indsSclsCd": ind.SmallCode, "indsSclsNm": ind.SmallName, "indsMclsCd": ind.MiddleCode}
		}
		key := fmt.Sprint(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		writeEnvelope(w, "03", "NODATA_ERROR", nil, nil)
		return
	}
	writeEnvelope(w, "00", "NORMAL SERVICE.", rows, nil)
}

func writeEnvelope(w http.ResponseWriter, code, msg string, items []map[string]any, total *int) {
	body := map[string]any{}
	if items != nil {
		body["items"] = items
	}
	if total != nil {
		body["totalCount"] = *total
	}
	env := map[string]any{
		"header": map[string]any{"resultCode": code, "resultMsg": msg},
		"body":   body,
	}
	json.NewEncoder(w).Encode(env)
}

// StoreRecord generates a valid store listing item.
func StoreRecord(i int, topName, subName, subCode string) map[string]any {
	topCode := subCode
	if len(topCode) > 2 {
		topCode = topCode[:2]
	}
	return map[string]any{
		"bizesId":    fmt.Sprintf("MA%s%06d", subCode, i),
		"bizesNm":    fmt.Sprintf("상점%d", i),
		"indsLclsCd": "I2",
		"indsLclsNm": "음식",
		"indsMclsCd": "I201",
		"indsMclsNm": "한식",
		"indsSclsCd": "I20101",
		"indsSclsNm": "백반/한정식",
		"ctprvnCd":   topCode,
		"ctprvnNm":   topName,
		"signguCd":   subCode,
		"signguNm":   subName,
		"adongNm":    "청운효자동",
		"flrNo":      "1",
		"lnoMnno":    json.Number(strconv.Itoa(100 + i%50)),
		"lon":        126.97 + float64(i%100)/10000,
		"lat":        37.57 + float64(i%100)/10000,
	}
}
