package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/core/priority"
	"github.com/zardamhussain/outblog-crawl/internal/core/queue"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
	"github.com/zardamhussain/outblog-crawl/internal/platform/gcs"
	"github.com/zardamhussain/outblog-crawl/internal/platform/metrics"
	"github.com/zardamhussain/outblog-crawl/internal/utils/blocklist"
)

const (
	baseCredits = 1
	llmCredits  = 4
)

// Substrings identifying extraction failures that are reported to the
// caller instead of treated as internal faults.
var llmRecoverableErrors = []string{
	"Error generating completions: ",
	"Invalid schema for function",
	"LLM extraction did not match the extraction schema",
}

// CreditGate is the slice of the credit gate the dispatch needs.
type CreditGate interface {
	Check(ctx context.Context, teamID string, chunk *credit.Chunk, credits int) (credit.CheckResult, error)
	Bill(teamID string, subID *string, credits int, isExtract bool)
}

// QueueGateway is the slice of the job queue the dispatch needs.
type QueueGateway interface {
	Enqueue(ctx context.Context, desc *job.Descriptor, jobID string, priority int, concurrencyCap int) error
	WaitForJob(ctx context.Context, jobID string, timeout time.Duration) (*job.Document, error)
	Remove(ctx context.Context, jobID string) error
}

// PriorityResolver computes the effective queue priority for a team.
type PriorityResolver interface {
	GetJobPriority(ctx context.Context, teamID string, basePriority int, concurrencyCap int) int
}

type Service struct {
	gate     CreditGate
	queue    QueueGateway
	priority PriorityResolver
	mirror   *gcs.Mirror
	log      *logger.Logger
}

func NewService(gate CreditGate, q QueueGateway, pr PriorityResolver, mirror *gcs.Mirror) *Service {
	return &Service{gate: gate, queue: q, priority: pr, mirror: mirror, log: logger.New("ScrapeService")}
}

// Scrape runs the single-URL request path: validate, gate, enqueue, await,
// transform. The returned Result always carries the HTTP status to send;
// a non-nil error means an unexpected internal fault.
func (s *Service) Scrape(ctx context.Context, req Request, teamID string, chunk *credit.Chunk) (Result, error) {
	rawURL, ok := req.URL.(string)
	if !ok || rawURL == "" {
		return Result{Success: false, Error: "Url is required", ReturnCode: 400}, nil
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Result{Success: false, Error: "Invalid Url", ReturnCode: 400}, nil
	}
	if blocklist.IsBlocked(rawURL) {
		metrics.ScrapeDenied.WithLabelValues("blocklisted_url").Inc()
		return Result{Success: false, Error: blocklist.BlocklistedURLMessage, ReturnCode: 403}, nil
	}

	if req.ExtractorOptions.IsLLM() {
		if _, ok := req.ExtractorOptions.ExtractionSchema.(map[string]any); !ok {
			return Result{Success: false, Error: "extractorOptions.extractionSchema must be an object", ReturnCode: 400}, nil
		}
	}

	opts, timeoutMillis, origin := resolveOptions(req)

	teamCap := 0
	if chunk != nil {
		teamCap = chunk.Concurrency
	}
	jobPriority := s.priority.GetJobPriority(ctx, teamID, priority.BasePriority, teamCap)

	check, err := s.gate.Check(ctx, teamID, chunk, baseCredits)
	if err != nil {
		s.log.LogErrorf("credit check failed for team %s: %v", teamID, err)
		return Result{
			Success:    false,
			Error:      "Error checking team credits. Please contact support.",
			ReturnCode: 500,
		}, nil
	}
	if !check.Admitted {
		return Result{Success: false, Error: check.Message, ReturnCode: 402}, nil
	}
	if check.Chunk != nil {
		chunk = check.Chunk
	}

	jobID := uuid.New().String()
	desc := &job.Descriptor{
		URL:           rawURL,
		Mode:          job.ModeSingleURLs,
		TeamID:        teamID,
		ScrapeOptions: opts,
		Origin:        origin,
		Integration:   req.Integration,
		IsScrape:      true,
		StartTime:     time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, desc, jobID, jobPriority, teamCap); err != nil {
		return Result{}, fmt.Errorf("enqueue scrape job %s: %w", jobID, err)
	}
	metrics.JobsEnqueued.WithLabelValues(string(job.ModeSingleURLs)).Inc()

	doc, err := s.queue.WaitForJob(ctx, jobID, time.Duration(timeoutMillis)*time.Millisecond)
	if err != nil {
		if errors.Is(err, queue.ErrJobTimeout) {
			// The queue entry is left in place; the worker's terminal
			// handler owns cleanup for jobs that outlive their caller.
			s.log.LogWarnf("scrape job %s timed out after %dms", jobID, timeoutMillis)
			return Result{Success: false, Error: "Request timed out", ReturnCode: 408}, nil
		}
		for _, needle := range llmRecoverableErrors {
			if strings.Contains(err.Error(), needle) {
				return Result{Success: false, Error: err.Error(), ReturnCode: 500}, nil
			}
		}
		return Result{}, fmt.Errorf("scrape job %s: %w", jobID, err)
	}

	if err := s.queue.Remove(ctx, jobID); err != nil {
		s.log.LogWarnf("failed to remove completed job %s: %v", jobID, err)
	}

	stripDocument(doc, req)
	if s.mirror.Enabled() {
		go s.mirror.StoreDocument(jobID, doc)
	}

	credits := baseCredits
	if req.ExtractorOptions.IsLLM() {
		credits += llmCredits
	}
	var subID *string
	if chunk != nil {
		subID = chunk.SubID
	}
	s.gate.Bill(teamID, subID, credits, false)

	return Result{Success: true, Data: toLegacy(doc), ReturnCode: 200}, nil
}

// stripDocument removes engine-internal fields and anything the caller
// did not ask for.
func stripDocument(doc *job.Document, req Request) {
	if doc == nil {
		return
	}
	doc.Index = nil
	doc.Provider = nil

	includeHTML, includeRawHTML := false, false
	if p := req.PageOptions; p != nil {
		includeHTML = p.IncludeHTML
		includeRawHTML = p.IncludeRawHTML
	}
	if !includeRawHTML {
		doc.RawHTML = nil
	}
	if !includeHTML {
		doc.HTML = nil
	}
	// With LLM extraction the extract is the product; markdown is only
	// kept when the caller asked for page content too.
	if req.ExtractorOptions.IsLLM() && len(doc.Extract) > 0 && !includeHTML && !includeRawHTML {
		doc.Markdown = nil
	}
}
