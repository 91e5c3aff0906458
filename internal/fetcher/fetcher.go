// Package fetcher downloads every Runalyze dataset the dashboard renders and
// stores them as snapshot files.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"runalyze-proxy-go/internal/client"
	"runalyze-proxy-go/internal/config"
	"runalyze-proxy-go/internal/model"
	"runalyze-proxy-go/internal/snapshot"
)

// Runalyze Personal API paths.
const (
	pingPath       = "/api/v1/ping"
	activitiesPath = "/api/v1/activities"
	hrvPath        = "/api/v1/metrics/hrv"
	sleepPath      = "/api/v1/metrics/sleep"
	restingHRPath  = "/api/v1/metrics/heartrate/rest"
)

// healthMetrics are fetched after activities unless Options.ActivitiesOnly is set.
var healthMetrics = []struct {
	dataset model.Dataset
	path    string
}{
	{model.DatasetHRV, hrvPath},
	{model.DatasetSleep, sleepPath},
	{model.DatasetRestingHR, restingHRPath},
}

// Options selects what a Run fetches.
type Options struct {
	SkipDetails    bool
	ActivitiesOnly bool
}

// Result summarises a completed Run.
type Result struct {
	Counts   map[string]int
	Metadata model.Metadata
}

// Fetcher pulls paginated datasets from Runalyze, pacing and retrying calls.
type Fetcher struct {
	client      *client.RunalyzeClient
	store       *snapshot.Store
	baseURL     *url.URL
	token       string
	limiter     *rate.Limiter
	maxRetries  int
	retryWait   time.Duration
	timeoutWait time.Duration
	logger      *slog.Logger
}

// New creates a Fetcher that authenticates with token and writes into store.
func New(c *client.RunalyzeClient, store *snapshot.Store, cfg *config.Config, token string, logger *slog.Logger) (*Fetcher, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	limit := rate.Inf
	if interval := cfg.Sync.RequestInterval(); interval > 0 {
		limit = rate.Every(interval)
	}

	return &Fetcher{
		client:      c,
		store:       store,
		baseURL:     u,
		token:       token,
		limiter:     rate.NewLimiter(limit, 1),
		maxRetries:  max(cfg.Sync.MaxRetries, 1),
		retryWait:   cfg.Sync.RetryWait(),
		timeoutWait: cfg.Sync.TimeoutWait(),
		logger:      logger.With("component", "fetcher"),
	}, nil
}

// Run tests the connection, fetches every dataset selected by opts, writes the
// snapshot files and finally metadata.json.
func (f *Fetcher) Run(ctx context.Context, opts Options) (*Result, error) {
	if _, err := f.get(ctx, pingPath, nil); err != nil {
		return nil, fmt.Errorf("connection test: %w", err)
	}
	f.logger.Info("connection ok")

	counts := make(map[string]int)

	activities, err := f.fetchPaginated(ctx, activitiesPath, model.DatasetActivities.Name)
	if err != nil {
		return nil, err
	}
	counts[model.DatasetActivities.Name] = len(activities)

	if len(activities) > 0 && !opts.SkipDetails {
		activities, err = f.fetchActivityDetails(ctx, activities)
		if err != nil {
			return nil, err
		}
	}
	if err := f.save(model.DatasetActivities, activities); err != nil {
		return nil, err
	}

	if !opts.ActivitiesOnly {
		for _, hm := range healthMetrics {
			records, err := f.fetchPaginated(ctx, hm.path, hm.dataset.Name)
			if err != nil {
				return nil, err
			}
			counts[hm.dataset.Name] = len(records)
			if err := f.save(hm.dataset, records); err != nil {
				return nil, err
			}
		}
	}

	md, err := f.store.SaveMetadata(counts)
	if err != nil {
		return nil, fmt.Errorf("save metadata: %w", err)
	}

	return &Result{Counts: counts, Metadata: md}, nil
}

func (f *Fetcher) save(ds model.Dataset, records []any) error {
	n, err := f.store.Save(ds.Filename, records)
	if err != nil {
		return fmt.Errorf("save %s: %w", ds.Name, err)
	}
	f.logger.Info("saved dataset",
		"dataset", ds.Name,
		"file", ds.Filename,
		"records", len(records),
		"size_kb", fmt.Sprintf("%.1f", float64(n)/1024),
	)
	return nil
}

// fetchPaginated requests page 1, 2, ... until a page yields no items.
func (f *Fetcher) fetchPaginated(ctx context.Context, path, label string) ([]any, error) {
	all := []any{}
	for page := 1; ; page++ {
		body, err := f.get(ctx, path, url.Values{"page": {strconv.Itoa(page)}})
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", label, page, err)
		}

		items := pageItems(body)
		if len(items) == 0 {
			f.logger.Info("dataset complete", "dataset", label, "pages", page-1, "records", len(all))
			return all, nil
		}

		f.logger.Debug("page fetched", "dataset", label, "page", page, "records", len(items))
		all = append(all, items...)
	}
}

// fetchActivityDetails replaces each activity summary with the summary
// overlaid by its detail record. Activities without an ID, or whose detail is
// empty or not an object, keep their summary.
func (f *Fetcher) fetchActivityDetails(ctx context.Context, activities []any) ([]any, error) {
	detailed := make([]any, 0, len(activities))

	for i, a := range activities {
		summary, ok := a.(map[string]any)
		if !ok {
			detailed = append(detailed, a)
			continue
		}
		id := activityID(summary)
		if id == "" {
			detailed = append(detailed, a)
			continue
		}

		body, err := f.get(ctx, activitiesPath+"/"+url.PathEscape(id), nil)
		if err != nil {
			return nil, fmt.Errorf("fetch activity %s: %w", id, err)
		}

		detail, ok := body.(map[string]any)
		if !ok || len(detail) == 0 {
			f.logger.Warn("activity detail unavailable, using summary",
				"activity_id", id, "index", i+1, "total", len(activities))
			detailed = append(detailed, a)
			continue
		}

		merged := maps.Clone(summary)
		maps.Copy(merged, detail)
		detailed = append(detailed, merged)
	}

	return detailed, nil
}

// get performs a paced, retried GET and returns the decoded JSON body.
//
// A 404 yields a nil body. A 429 waits retryWait and retries; a timeout waits
// timeoutWait and retries. Any other non-2xx status is returned as a
// *client.StatusError. When every attempt is used up the result is a nil body
// rather than an error, so one stubborn endpoint does not abort a whole sync.
func (f *Fetcher) get(ctx context.Context, path string, query url.Values) (any, error) {
	rawURL := f.buildURL(path, query)

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := f.client.Get(ctx, rawURL, f.token)
		if err != nil {
			if ctx.Err() != nil || !isTimeout(err) {
				return nil, err
			}
			f.logger.Warn("upstream timeout, retrying", "path", path, "attempt", attempt)
			if err := f.backoff(ctx, attempt, f.timeoutWait); err != nil {
				return nil, err
			}
			continue
		}

		body, retry, err := decode(resp)
		if err != nil {
			return nil, err
		}
		if !retry {
			return body, nil
		}

		f.logger.Warn("rate limited, waiting", "path", path, "attempt", attempt, "wait", f.retryWait)
		if err := f.backoff(ctx, attempt, f.retryWait); err != nil {
			return nil, err
		}
	}

	f.logger.Warn("giving up after retries", "path", path, "attempts", f.maxRetries)
	return nil, nil
}

// backoff sleeps for d unless attempt was the last one.
func (f *Fetcher) backoff(ctx context.Context, attempt int, d time.Duration) error {
	if attempt >= f.maxRetries || d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Fetcher) buildURL(path string, query url.Values) string {
	u := *f.baseURL
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

// decode consumes resp. retry reports a 429 that the caller should wait out.
func decode(resp *model.UpstreamResponse) (body any, retry bool, err error) {
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case !resp.OK():
		return nil, false, &client.StatusError{StatusCode: resp.StatusCode}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return body, false, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// pageItems extracts the records of one page. Runalyze answers either with a
// bare list or with an object carrying the list under "data" or, for
// Hydra-style collections, "hydra:member".
func pageItems(body any) []any {
	switch v := body.(type) {
	case []any:
		return v
	case map[string]any:
		if items, ok := v["data"]; ok {
			list, _ := items.([]any)
			return list
		}
		list, _ := v["hydra:member"].([]any)
		return list
	}
	return nil
}

// activityID returns the numeric ID of an activity record, taken from the
// first of "id", "@id" or "activityId" present. IRIs such as
// "/api/v1/activities/123" yield their last path segment.
func activityID(activity map[string]any) string {
	for _, key := range []string{"id", "@id", "activityId"} {
		val, ok := activity[key]
		if !ok || val == nil {
			continue
		}
		if s, ok := val.(string); ok && strings.Contains(s, "/") {
			segs := strings.Split(strings.TrimRight(s, "/"), "/")
			return segs[len(segs)-1]
		}
		return fmt.Sprint(val)
	}
	return ""
}
