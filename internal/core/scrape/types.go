package scrape

import (
	"encoding/json"
	"strings"

	"github.com/zardamhussain/outblog-crawl/internal/core/job"
)

// PageOptions is the v0 page option shape.
type PageOptions struct {
	OnlyMainContent bool              `json:"onlyMainContent"`
	IncludeHTML     bool              `json:"includeHtml"`
	IncludeRawHTML  bool              `json:"includeRawHtml"`
	WaitFor         int               `json:"waitFor,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	ParsePDF        *bool             `json:"parsePDF,omitempty"`
}

// ExtractorOptions selects the extraction pipeline.
type ExtractorOptions struct {
	Mode             string      `json:"mode,omitempty"`
	ExtractionPrompt string      `json:"extractionPrompt,omitempty"`
	ExtractionSchema interface{} `json:"extractionSchema,omitempty"`
}

// IsLLM reports whether the mode routes through LLM extraction.
func (o *ExtractorOptions) IsLLM() bool {
	return o != nil && strings.Contains(o.Mode, "llm-extraction")
}

// Request is the v0 scrape request body. URL is untyped so a non-string
// value can be rejected explicitly instead of silently coerced.
// CrawlerOptions is accepted for wire compatibility; single-URL scrapes
// ignore it.
type Request struct {
	URL              interface{}       `json:"url"`
	CrawlerOptions   map[string]any    `json:"crawlerOptions,omitempty"`
	PageOptions      *PageOptions      `json:"pageOptions,omitempty"`
	ExtractorOptions *ExtractorOptions `json:"extractorOptions,omitempty"`
	Origin           string            `json:"origin,omitempty"`
	Timeout          *int              `json:"timeout,omitempty"` // milliseconds
	Integration      string            `json:"integration,omitempty"`
}

// LegacyDocument is the v0 response document shape.
type LegacyDocument struct {
	Content       string          `json:"content"`
	Markdown      *string         `json:"markdown,omitempty"`
	HTML          *string         `json:"html,omitempty"`
	RawHTML       *string         `json:"rawHtml,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	LLMExtraction json.RawMessage `json:"llm_extraction,omitempty"`
}

// Result is the dispatch outcome; ReturnCode is the HTTP status to send.
type Result struct {
	Success    bool            `json:"success"`
	Data       *LegacyDocument `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	ReturnCode int             `json:"returnCode"`
}

const (
	defaultTimeoutMillis = 30000
	llmTimeoutMillis     = 90000
	defaultOrigin        = "api"
)

// resolveOptions merges the request over built-in defaults into the
// descriptor option shape.
func resolveOptions(req Request) (job.ScrapeOptions, int, string) {
	opts := job.ScrapeOptions{ParsePDF: true}
	if p := req.PageOptions; p != nil {
		opts.OnlyMainContent = p.OnlyMainContent
		opts.IncludeHTML = p.IncludeHTML
		opts.IncludeRawHTML = p.IncludeRawHTML
		opts.WaitFor = p.WaitFor
		opts.Headers = p.Headers
		if p.ParsePDF != nil {
			opts.ParsePDF = *p.ParsePDF
		}
	}
	timeout := defaultTimeoutMillis
	if e := req.ExtractorOptions; e.IsLLM() {
		opts.ExtractorMode = e.Mode
		opts.ExtractionPrompt = e.ExtractionPrompt
		if schema, ok := e.ExtractionSchema.(map[string]any); ok {
			opts.ExtractionSchema = schema
		}
		opts.OnlyMainContent = true
		timeout = llmTimeoutMillis
	} else if e != nil {
		opts.ExtractorMode = e.Mode
	}
	if req.Timeout != nil && *req.Timeout > 0 {
		timeout = *req.Timeout
	}
	origin := req.Origin
	if origin == "" {
		origin = defaultOrigin
	}
	opts.TimeoutMillis = timeout
	return opts, timeout, origin
}

// toLegacy converts a worker document to the v0 response shape.
func toLegacy(doc *job.Document) *LegacyDocument {
	if doc == nil {
		return nil
	}
	legacy := &LegacyDocument{
		Markdown:      doc.Markdown,
		HTML:          doc.HTML,
		RawHTML:       doc.RawHTML,
		Metadata:      doc.Metadata,
		LLMExtraction: doc.Extract,
	}
	if doc.Markdown != nil {
		legacy.Content = *doc.Markdown
	}
	return legacy
}
