// Package model defines types shared between the proxy and the sync fetcher.
package model

import (
	"io"
	"net/http"
	"time"
)

// UpstreamResponse is a Runalyze API response whose body is still unread.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// OK reports whether the status code is in the 2xx range.
func (r *UpstreamResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Dataset names a snapshot file and the count key it reports under in metadata.
type Dataset struct {
	Name     string // key in Metadata.Counts
	Filename string
}

// Datasets written by the sync command, in fetch order.
var (
	DatasetActivities = Dataset{Name: "activities", Filename: "activities.json"}
	DatasetHRV        = Dataset{Name: "hrv", Filename: "hrv.json"}
	DatasetSleep      = Dataset{Name: "sleep", Filename: "sleep.json"}
	DatasetRestingHR  = Dataset{Name: "resting_hr", Filename: "resting_hr.json"}
)

// Metadata is written alongside the snapshot files so the dashboard can show
// when the data was last refreshed.
type Metadata struct {
	LastUpdated string         `json:"last_updated"`
	Counts      map[string]int `json:"counts"`
}

// metadataTimeLayout is an ISO-8601 UTC timestamp with microseconds.
const metadataTimeLayout = "2006-01-02T15:04:05.000000Z"

// NewMetadata stamps counts with t in UTC.
func NewMetadata(t time.Time, counts map[string]int) Metadata {
	return Metadata{
		LastUpdated: t.UTC().Format(metadataTimeLayout),
		Counts:      counts,
	}
}
