package crawl

import (
	"time"

	"github.com/zardamhussain/outblog-crawl/internal/core/job"
)

// CrawlerOptions is the legacy option shape persisted on crawl records.
// Workers and the kickoff expansion read it.
type CrawlerOptions struct {
	IncludePaths          []string `json:"includes,omitempty"`
	ExcludePaths          []string `json:"excludes,omitempty"`
	Limit                 int      `json:"limit"`
	MaxDepth              int      `json:"maxDepth,omitempty"`
	Delay                 *int     `json:"delay,omitempty"` // seconds between fetches
	IgnoreSitemap         bool     `json:"ignoreSitemap,omitempty"`
	AllowBackwardCrawling bool     `json:"allowBackwardCrawling,omitempty"`
}

// StoredCrawl is the persisted per-crawl record.
type StoredCrawl struct {
	OriginURL         string              `json:"originUrl"`
	CrawlerOptions    CrawlerOptions      `json:"crawlerOptions"`
	ScrapeOptions     job.ScrapeOptions   `json:"scrapeOptions"`
	InternalOptions   job.InternalOptions `json:"internalOptions"`
	TeamID            string              `json:"team_id"`
	CreatedAt         time.Time           `json:"createdAt"`
	MaxConcurrency    *int                `json:"maxConcurrency,omitempty"`
	Robots            string              `json:"robots,omitempty"`
	Cancelled         bool                `json:"cancelled,omitempty"`
	ZeroDataRetention bool                `json:"zeroDataRetention"`
}

// Request is the v1 crawl request body.
type Request struct {
	URL               string             `json:"url" validate:"required,url"`
	ScrapeOptions     *job.ScrapeOptions `json:"scrapeOptions,omitempty"`
	IncludePaths      []string           `json:"includePaths,omitempty"`
	ExcludePaths      []string           `json:"excludePaths,omitempty"`
	Limit             int                `json:"limit,omitempty" validate:"omitempty,gte=1"`
	MaxDepth          int                `json:"maxDepth,omitempty" validate:"omitempty,gte=0"`
	Delay             *int               `json:"delay,omitempty" validate:"omitempty,gte=0"`
	MaxConcurrency    *int               `json:"maxConcurrency,omitempty" validate:"omitempty,gte=1"`
	Webhook           *job.WebhookConfig `json:"webhook,omitempty"`
	IgnoreSitemap     bool               `json:"ignoreSitemap,omitempty"`
	ZeroDataRetention bool               `json:"zeroDataRetention,omitempty"`
	Origin            string             `json:"origin,omitempty"`
	Integration       string             `json:"integration,omitempty"`
}

// Accepted is the v1 crawl response.
type Accepted struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
}

// RequestError carries the HTTP status a request-level failure maps to.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(msg string) *RequestError {
	return &RequestError{Status: 400, Message: msg}
}

const defaultCrawlLimit = 10000
