package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TheEverestLab/coesg-data/internal/bidding"
	"github.com/TheEverestLab/coesg-data/internal/httputil"
	"github.com/TheEverestLab/coesg-data/internal/logger"
	"github.com/TheEverestLab/coesg-data/internal/models"
)

const (
	DefaultDataGovURL  = "https://data.gov.sg/api/action/datastore_search"
	DefaultResourceID  = "d_69b3380ad7e51aff3a7dcc84eba52b8a"
	DefaultPageSize    = 1000
	defaultSort        = "month desc, bidding_no desc"
	maxPages           = 50
	rateLimitCode      = 24
	rateLimitName      = "TOO_MANY_REQUESTS"
	userAgent          = "COE-SG-Data/1.0"
	defaultHTTPTimeout = 30 * time.Second
)

var (
	// ErrRateLimited is returned when data.gov.sg keeps throttling after every retry.
	ErrRateLimited = errors.New("data.gov.sg rate limit exceeded")
	// ErrUpstream is returned when the API answers but reports failure.
	ErrUpstream = errors.New("data.gov.sg returned an error")
)

var categoryNames = map[string]models.Category{
	"Category A": models.CategoryA,
	"Category B": models.CategoryB,
	"Category C": models.CategoryC,
	"Category D": models.CategoryD,
	"Category E": models.CategoryE,
}

type DataGovClient struct {
	baseURL    string
	resourceID string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *logger.Logger
}

type DataGovOptions struct {
	BaseURL    string
	ResourceID string
	APIKey     string
	PageSize   int
	Timeout    time.Duration
	Retry      *httputil.RetryConfig
}

// datastoreResponse covers both the normal envelope and the throttling body
// data.gov.sg sometimes returns with a 200 status.
type datastoreResponse struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Error   any    `json:"error"`
	Result  struct {
		Records []datastoreRow `json:"records"`
		Total   int            `json:"total"`
	} `json:"result"`
}

type datastoreRow struct {
	Month        string  `json:"month"`
	BiddingNo    flexInt `json:"bidding_no"`
	VehicleClass string  `json:"vehicle_class"`
	Quota        flexInt `json:"quota"`
	BidsSuccess  flexInt `json:"bids_success"`
	BidsReceived flexInt `json:"bids_received"`
	Premium      flexInt `json:"premium"`
}

func NewDataGovClient(log *logger.Logger, opts DataGovOptions) *DataGovClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultDataGovURL
	}
	if opts.ResourceID == "" {
		opts.ResourceID = DefaultResourceID
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	log = log.With("component", "datagov")

	retry := httputil.RetryConfig{
		MaxAttempts: 4,
		Delays:      []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second},
	}
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = httputil.DefaultRetry.MaxAttempts
	}
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Warn("Request failed, retrying", "attempt", attempt, "max_attempts", retry.MaxAttempts, "wait", wait, "error", err)
		}
	}

	return &DataGovClient{
		baseURL:    opts.BaseURL,
		resourceID: opts.ResourceID,
		apiKey:     opts.APIKey,
		pageSize:   opts.PageSize,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retry:      retry,
		log:        log,
	}
}

// FetchRecords pages through the whole dataset and maps every row to a
// BidRecord. Any network, decode or mapping failure aborts the fetch.
func (c *DataGovClient) FetchRecords(ctx context.Context) ([]models.BidRecord, error) {
	var records []models.BidRecord
	offset := 0

	for page := 0; page < maxPages; page++ {
		resp, err := c.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}

		for i, row := range resp.Result.Records {
			rec, err := row.toBidRecord()
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", offset+i, err)
			}
			records = append(records, rec)
		}

		n := len(resp.Result.Records)
		offset += n
		c.log.Debug("Fetched page", "page", page+1, "rows", n, "offset", offset, "total", resp.Result.Total)

		if c.lastPage(n, offset, resp.Result.Total) {
			c.log.Info("Fetched records", "count", len(records), "pages", page+1)
			return records, nil
		}
	}

	return nil, fmt.Errorf("data.gov.sg pagination did not finish after %d pages", maxPages)
}

// lastPage reports whether paging is done. Some responses omit result.total;
// then only a short page ends the dataset.
func (c *DataGovClient) lastPage(n, offset, total int) bool {
	if n == 0 {
		return true
	}
	if total > 0 {
		return offset >= total
	}
	return n < c.pageSize
}

func (c *DataGovClient) fetchPage(ctx context.Context, offset int) (*datastoreResponse, error) {
	endpoint := c.pageURL(offset)

	for attempt := 1; ; attempt++ {
		httpResp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", userAgent)
			req.Header.Set("Accept", "application/json")
			if c.apiKey != "" {
				req.Header.Set("x-api-key", c.apiKey)
			}
			return req, nil
		})
		if err != nil {
			return nil, fmt.Errorf("data.gov.sg fetch: %w", err)
		}

		var data datastoreResponse
		decodeErr := json.NewDecoder(httpResp.Body).Decode(&data)
		httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrUpstream, httpResp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode: %w", decodeErr)
		}

		if data.Code == rateLimitCode || data.Name == rateLimitName {
			if attempt >= c.retry.MaxAttempts {
				return nil, ErrRateLimited
			}
			wait := c.retry.Wait(attempt)
			c.log.Warn("Rate limited (JSON), retrying", "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if !data.Success {
			return nil, fmt.Errorf("%w: success=false (%v)", ErrUpstream, data.Error)
		}
		return &data, nil
	}
}

func (c *DataGovClient) pageURL(offset int) string {
	q := url.Values{}
	q.Set("resource_id", c.resourceID)
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("sort", defaultSort)
	return c.baseURL + "?" + q.Encode()
}

func (r datastoreRow) toBidRecord() (models.BidRecord, error) {
	if !r.BiddingNo.set {
		return models.BidRecord{}, fmt.Errorf("month %s: missing bidding_no", r.Month)
	}
	round, err := bidding.ParseRound(r.Month, r.BiddingNo.v)
	if err != nil {
		return models.BidRecord{}, err
	}
	if !r.Premium.set {
		return models.BidRecord{}, fmt.Errorf("round %s: missing premium for %q", round.ID(), r.VehicleClass)
	}

	cat, ok := categoryNames[strings.TrimSpace(r.VehicleClass)]
	if !ok {
		// Passed through as-is so the aggregator reports it as a validation fault.
		cat = models.Category(strings.TrimSpace(r.VehicleClass))
	}

	return models.BidRecord{
		RoundID:      round.ID(),
		BiddingDate:  round.ClosingDate(),
		RoundLabel:   round.Label(),
		Category:     cat,
		Price:        r.Premium.v,
		Quota:        r.Quota.ptr(),
		BidsReceived: r.BidsReceived.ptr(),
		BidsSuccess:  r.BidsSuccess.ptr(),
	}, nil
}

// flexInt accepts JSON numbers and strings with thousands separators
// ("1,234"). Empty strings and null leave it unset.
type flexInt struct {
	v   int
	set bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = s
	}
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse integer %q: %w", raw, err)
	}
	f.v, f.set = n, true
	return nil
}

func (f flexInt) ptr() *int {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}
