package job

import (
	"encoding/json"
	"time"
)

// Mode classifies what a queued job does.
type Mode string

const (
	ModeSingleURLs Mode = "single_urls"
	ModeKickoff    Mode = "kickoff"
	ModeCrawl      Mode = "crawl"
)

// State is the externally observable lifecycle position of a job.
type State string

const (
	StateWaiting     State = "waiting"
	StateActive      State = "active"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateDelayed     State = "delayed"
	StatePrioritized State = "prioritized"
	StateUnknown     State = "unknown"
)

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ScrapeOptions travel with a job and describe how the page should be
// fetched and rendered. The fetch engine interprets them; the core only
// merges and forwards.
type ScrapeOptions struct {
	OnlyMainContent   bool              `json:"onlyMainContent"`
	IncludeHTML       bool              `json:"includeHtml"`
	IncludeRawHTML    bool              `json:"includeRawHtml"`
	WaitFor           int               `json:"waitFor,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	ExtractorMode     string            `json:"extractorMode,omitempty"`
	ExtractionPrompt  string            `json:"extractionPrompt,omitempty"`
	ExtractionSchema  map[string]any    `json:"extractionSchema,omitempty"`
	ParsePDF          bool              `json:"parsePDF"`
	SkipTLSVerify     bool              `json:"skipTlsVerification,omitempty"`
	TimeoutMillis     int               `json:"timeout,omitempty"`
	CrawlDelaySeconds *int              `json:"crawlDelay,omitempty"`
}

// InternalOptions are set by the core, never by the caller.
type InternalOptions struct {
	DisableSmartWaitCache bool   `json:"disableSmartWaitCache,omitempty"`
	SaveToGCS             bool   `json:"saveToGCS,omitempty"`
	GCSBucket             string `json:"gcsBucket,omitempty"`
}

// WebhookConfig is the caller-supplied completion callback.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Descriptor is everything the queue needs to run a job.
type Descriptor struct {
	URL               string          `json:"url"`
	Mode              Mode            `json:"mode"`
	TeamID            string          `json:"team_id"`
	ScrapeOptions     ScrapeOptions   `json:"scrape_options"`
	InternalOptions   InternalOptions `json:"internal_options"`
	Origin            string          `json:"origin,omitempty"`
	Integration       string          `json:"integration,omitempty"`
	IsScrape          bool            `json:"is_scrape"`
	StartTime         time.Time       `json:"start_time"`
	ZeroDataRetention bool            `json:"zero_data_retention"`
	CrawlID           string          `json:"crawl_id,omitempty"`
	Webhook           *WebhookConfig  `json:"webhook,omitempty"`
}

// Document is the worker-produced result of a scrape job. The core treats
// it as opaque except for field elision and token counting.
type Document struct {
	URL      string          `json:"url,omitempty"`
	Markdown *string         `json:"markdown,omitempty"`
	HTML     *string         `json:"html,omitempty"`
	RawHTML  *string         `json:"rawHtml,omitempty"`
	Extract  json.RawMessage `json:"extract,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`

	// Fields below are engine-internal and stripped before any response.
	Index    *int    `json:"index,omitempty"`
	Provider *string `json:"provider,omitempty"`
}

// Job is a queue entry as seen through the gateway.
type Job struct {
	ID           string      `json:"id"`
	State        State       `json:"state"`
	Descriptor   *Descriptor `json:"descriptor,omitempty"`
	FailedReason string      `json:"failed_reason,omitempty"`
	ReturnValue  *Document   `json:"return_value,omitempty"`
}
