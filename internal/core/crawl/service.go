package crawl

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
	"github.com/zardamhussain/outblog-crawl/internal/platform/metrics"
	"github.com/zardamhussain/outblog-crawl/internal/platform/robots"
)

const kickoffPriority = 10

type ServiceOptions struct {
	UseDBAuthentication bool
	GCSBucket           string
	Env                 string
}

// CrawlSaver persists crawl records; the kickoff path only writes.
type CrawlSaver interface {
	SaveCrawl(ctx context.Context, id string, sc *StoredCrawl) error
}

// Enqueuer is the slice of the job queue the kickoff needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, desc *job.Descriptor, jobID string, priority int, concurrencyCap int) error
}

// RobotsFetcher loads and parses a site's robots.txt.
type RobotsFetcher interface {
	Fetch(ctx context.Context, originURL string, skipTLSVerification bool) (*robots.Result, error)
}

// Service sets up crawls: it validates, clamps, persists the crawl record,
// and enqueues the kickoff job that expands the seed URL.
type Service struct {
	store    CrawlSaver
	queue    Enqueuer
	robots   RobotsFetcher
	validate *validator.Validate
	opts     ServiceOptions
	log      *logger.Logger
}

func NewService(store CrawlSaver, q Enqueuer, rb RobotsFetcher, opts ServiceOptions) *Service {
	return &Service{
		store:    store,
		queue:    q,
		robots:   rb,
		validate: validator.New(),
		opts:     opts,
		log:      logger.New("CrawlService"),
	}
}

// Kickoff admits a crawl request and enqueues its kickoff job. Request
// failures come back as *RequestError with the HTTP status to surface.
func (s *Service) Kickoff(ctx context.Context, req Request, teamID string, chunk *credit.Chunk, proto, host string) (Accepted, error) {
	if err := s.validate.Struct(req); err != nil {
		return Accepted{}, badRequest(fmt.Sprintf("invalid crawl request: %v", err))
	}

	// ZDR is a team-level privilege; a forced flag overrides the request.
	allowZDR := chunk == nil || chunk.Flags.Has(credit.FlagAllowZDR)
	if req.ZeroDataRetention && !allowZDR {
		return Accepted{}, badRequest("zero data retention is not enabled for this team")
	}
	zdr := req.ZeroDataRetention
	if chunk != nil && chunk.Flags.Has(credit.FlagForceZDR) {
		zdr = true
	}

	for _, pattern := range append(append([]string{}, req.IncludePaths...), req.ExcludePaths...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return Accepted{}, badRequest(err.Error())
		}
	}

	remaining := credit.UnlimitedCredits
	if s.opts.UseDBAuthentication && chunk != nil {
		remaining = chunk.RemainingCredits
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultCrawlLimit
	}
	if remaining < limit {
		limit = remaining
	}

	scrapeOpts := job.ScrapeOptions{ParsePDF: true}
	if req.ScrapeOptions != nil {
		scrapeOpts = *req.ScrapeOptions
	}
	crawlerOpts := CrawlerOptions{
		IncludePaths:  req.IncludePaths,
		ExcludePaths:  req.ExcludePaths,
		Limit:         limit,
		MaxDepth:      req.MaxDepth,
		Delay:         req.Delay,
		IgnoreSitemap: req.IgnoreSitemap,
	}

	sc := &StoredCrawl{
		OriginURL:      req.URL,
		CrawlerOptions: crawlerOpts,
		ScrapeOptions:  scrapeOpts,
		InternalOptions: job.InternalOptions{
			DisableSmartWaitCache: true,
			SaveToGCS:             s.opts.GCSBucket != "",
			GCSBucket:             s.opts.GCSBucket,
		},
		TeamID:            teamID,
		CreatedAt:         time.Now().UTC(),
		ZeroDataRetention: zdr,
	}

	sc.MaxConcurrency = resolveMaxConcurrency(req.MaxConcurrency, chunk)

	// Robots is advisory at kickoff: adopt the site's crawl delay when the
	// caller didn't set one. A failed fetch never blocks the crawl.
	if rb, err := s.robots.Fetch(ctx, req.URL, scrapeOpts.SkipTLSVerify); err != nil {
		s.log.LogDebugf("robots.txt fetch failed for %s: %v", req.URL, err)
	} else {
		sc.Robots = rb.Raw
		if delay := rb.CrawlDelay(); delay > 0 && sc.CrawlerOptions.Delay == nil {
			seconds := int(delay / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			sc.CrawlerOptions.Delay = &seconds
		}
	}

	id := uuid.New().String()
	if err := s.store.SaveCrawl(ctx, id, sc); err != nil {
		return Accepted{}, fmt.Errorf("save crawl %s: %w", id, err)
	}

	desc := &job.Descriptor{
		URL:               req.URL,
		Mode:              job.ModeKickoff,
		TeamID:            teamID,
		ScrapeOptions:     scrapeOpts,
		InternalOptions:   sc.InternalOptions,
		Origin:            req.Origin,
		Integration:       req.Integration,
		StartTime:         time.Now().UTC(),
		ZeroDataRetention: zdr,
		CrawlID:           id,
		Webhook:           req.Webhook,
	}
	if err := s.queue.Enqueue(ctx, desc, uuid.New().String(), kickoffPriority, concurrencyCap(chunk)); err != nil {
		return Accepted{}, fmt.Errorf("enqueue kickoff for crawl %s: %w", id, err)
	}
	metrics.JobsEnqueued.WithLabelValues(string(job.ModeKickoff)).Inc()

	s.log.LogInfof("crawl %s accepted for team %s (limit %d)", id, teamID, limit)
	return Accepted{Success: true, ID: id, URL: statusURL(proto, host, id, s.opts.Env)}, nil
}

// resolveMaxConcurrency merges the request's concurrency with the team
// cap: the minimum when both are set, whichever exists otherwise.
func resolveMaxConcurrency(requested *int, chunk *credit.Chunk) *int {
	var teamCap *int
	if chunk != nil && chunk.Concurrency > 0 {
		c := chunk.Concurrency
		teamCap = &c
	}
	switch {
	case requested != nil && teamCap != nil:
		if *requested < *teamCap {
			return requested
		}
		return teamCap
	case requested != nil:
		return requested
	default:
		return teamCap
	}
}

func concurrencyCap(chunk *credit.Chunk) int {
	if chunk == nil {
		return 0
	}
	return chunk.Concurrency
}

// statusURL builds the public status endpoint for a crawl. Outside local
// environments the scheme is always https.
func statusURL(proto, host, id, env string) string {
	if env != "local" {
		proto = "https"
	}
	return fmt.Sprintf("%s://%s/v1/crawl/%s", proto, host, id)
}
