// Package client provides the HTTP request executor for the small-business
// store API: timed single calls, failure classification, and rate-limit
// retries with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public endpoint of the store information API.
const DefaultBaseURL = "http://apis.data.go.kr/B553077/api/open/sdsc2"

// Result codes carried in the response envelope header.
const (
	resultCodeOK          = "00"
	resultCodeNoData      = "03"
	resultCodeQuota       = "22"
	resultCodeKeyInvalid  = "30"
	resultCodeKeyExpired  = "31"
	resultCodeKeyUnknown  = "32"
	maxErrorBodyExcerpt   = 200
	defaultRequestTimeout = 30 * time.Second
)

// Prometheus metrics for API requests.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sdsc_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sdsc_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sdsc_errors_total",
		Help: "Total API errors by kind",
	}, []string{"kind"})
)

// Client executes API calls. One Client is built per run and shared by the
// resolver and the fetch orchestrator.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
	sleep      sleepFunc
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, without a trailing slash.
	BaseURL string

	// APIKey is sent as the serviceKey query parameter (REQUIRED).
	APIKey string

	// Timeout per HTTP call.
	Timeout time.Duration

	// Retry schedule for HTTP 429 responses.
	Retry RetryConfig

	// Client-side pacing. RateLimit <= 0 disables it.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the default configuration for the given key.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL: DefaultBaseURL,
		APIKey:  apiKey,
		Timeout: defaultRequestTimeout,
		Retry:   DefaultRetryConfig(),
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "api-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: ratelimit.NewLimiter(cfg.RateLimit, cfg.RateBurst, logger),
		config:  cfg,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// Response is a decoded API envelope.
type Response struct {
	StatusCode int
	ResultCode string
	ResultMsg  string
	TotalCount int
	Items      []json.RawMessage
}

// DecodeItems decodes every item into dst, which must be a pointer to a slice.
func (r *Response) DecodeItems(dst any) error {
	raw, err := json.Marshal(r.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	if r.Items == nil {
		raw = []byte("[]")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode items: %w", err)
	}
	return nil
}

type envelope struct {
	Header struct {
		ResultCode string `json:"resultCode"`
		ResultMsg  string `json:"resultMsg"`
	} `json:"header"`
	Body struct {
		Items      json.RawMessage `json:"items"`
		TotalCount json.RawMessage `json:"totalCount"`
	} `json:"body"`
}

// Execute issues a GET to endpoint with params plus the fixed serviceKey and
// type parameters. Only HTTP 429 is retried.
func (c *Client) Execute(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var resp *Response
	attempts, err := retryWithBackoff(ctx, c.config.Retry, c.sleep, c.logger.With().Str("endpoint", endpoint).Logger(), func() error {
		var callErr error
		resp, callErr = c.do(ctx, endpoint, params)
		return callErr
	})
	if err != nil {
		kind := KindOf(err)
		apiErrorsTotal.WithLabelValues(string(kind)).Inc()
		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("kind", string(kind)).
			Int("attempts", attempts).
			Msg("API request failed")
		return nil, err
	}
	return resp, nil
}

// do performs exactly one HTTP call and classifies the outcome.
func (c *Client) do(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.transportError(endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(endpoint, params), nil)
	if err != nil {
		return nil, &Error{Kind: KindClient, Endpoint: endpoint, Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("page", params.Get("pageNo")).
		Msg("Executing API request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, c.transportError(endpoint, err)
	}
	defer httpResp.Body.Close()

	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(endpoint, err)
	}

	if err := c.classifyStatus(endpoint, httpResp.StatusCode, body); err != nil {
		return nil, err
	}
	c.limiter.ObserveSuccess()

	return decodeEnvelope(endpoint, httpResp.StatusCode, body)
}

func (c *Client) buildURL(endpoint string, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("serviceKey", c.config.APIKey)
	q.Set("type", "json")
	return c.config.BaseURL + endpoint + "?" + q.Encode()
}

// classifyStatus maps a non-2xx status to an *Error.
func (c *Client) classifyStatus(endpoint string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		c.limiter.ObserveRateLimited(endpoint)
		return &Error{Kind: KindRateLimitExceeded, Status: status, Endpoint: endpoint, Message: "rate limited"}
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindAuth, Status: status, Endpoint: endpoint, Message: excerpt(body)}
	case status >= 500:
		return &Error{Kind: KindServer, Status: status, Endpoint: endpoint, Message: excerpt(body)}
	default:
		return &Error{Kind: KindClient, Status: status, Endpoint: endpoint, Message: excerpt(body)}
	}
}

func (c *Client) transportError(endpoint string, err error) error {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Endpoint: endpoint, Err: err}
}

// decodeEnvelope parses a 2xx body and applies the header result code.
func decodeEnvelope(endpoint string, status int, body []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Kind: KindClient, Status: status, Endpoint: endpoint, Message: "undecodable response body", Err: err}
	}

	resp := &Response{
		StatusCode: status,
		ResultCode: env.Header.ResultCode,
		ResultMsg:  env.Header.ResultMsg,
	}

	switch env.Header.ResultCode {
	case resultCodeOK, "":
	case resultCodeNoData:
		return resp, nil
	case resultCodeQuota:
		return nil, &Error{Kind: KindRateLimitExceeded, Status: status, Endpoint: endpoint, Message: env.Header.ResultMsg}
	case resultCodeKeyInvalid, resultCodeKeyExpired, resultCodeKeyUnknown:
		return nil, &Error{Kind: KindAuth, Status: status, Endpoint: endpoint, Message: env.Header.ResultMsg}
	default:
		return nil, &Error{
			Kind:     KindClient,
			Status:   status,
			Endpoint: endpoint,
			Message:  fmt.Sprintf("result code %s: %s", env.Header.ResultCode, env.Header.ResultMsg),
		}
	}

	total, err := parseCount(env.Body.TotalCount)
	if err != nil {
		return nil, &Error{Kind: KindClient, Status: status, Endpoint: endpoint, Message: "invalid totalCount", Err: err}
	}
	resp.TotalCount = total

	items, err := parseItems(env.Body.Items)
	if err != nil {
		return nil, &Error{Kind: KindClient, Status: status, Endpoint: endpoint, Message: "invalid items", Err: err}
	}
	resp.Items = items
	if resp.TotalCount == 0 && len(items) > 0 {
		// Catalog endpoints omit totalCount.
		resp.TotalCount = len(items)
	}
	return resp, nil
}

// parseCount accepts a JSON number, a numeric string, or nothing.
func parseCount(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		n = json.Number(s)
	} else {
		n = json.Number(raw)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", string(raw), err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative count %d", v)
	}
	return int(v), nil
}

// parseItems accepts an array, an empty string, null, or a single object.
func parseItems(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" || string(raw) == `""` {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		return []json.RawMessage{raw}, nil
	default:
		return nil, fmt.Errorf("unexpected items payload %.20q", string(raw))
	}
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyExcerpt {
		s = s[:maxErrorBodyExcerpt] + "..."
	}
	return s
}

// RateLimitState returns the observed 429 signals for this client.
func (c *Client) RateLimitState() ratelimit.State {
	return c.limiter.State()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
