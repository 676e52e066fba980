package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/zardamhussain/outblog-crawl/internal/core/credit"
	"github.com/zardamhussain/outblog-crawl/internal/core/crawl"
	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/core/queue"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
	"github.com/zardamhussain/outblog-crawl/internal/platform/gcs"
	"github.com/zardamhussain/outblog-crawl/internal/platform/metrics"
	"github.com/zardamhussain/outblog-crawl/internal/utils/blocklist"
)

// Engine is the external fetch/render collaborator. Its internals are out
// of scope here; the worker only drives it.
type Engine interface {
	Scrape(ctx context.Context, desc *job.Descriptor) (*job.Document, error)
	DiscoverLinks(ctx context.Context, desc *job.Descriptor, limit int) ([]string, error)
}

const childJobPriority = 20

// Service runs queued jobs: single scrapes and kickoff expansions. It is
// the terminal side of the pipeline, recording done-list entries, billing
// crawl pages, and firing user webhooks.
type Service struct {
	engine  Engine
	queue   *queue.Service
	store   *crawl.Store
	gate    *credit.Gate
	mirror  *gcs.Mirror
	webhook *WebhookSender
	log     *logger.Logger
}

func NewService(engine Engine, q *queue.Service, store *crawl.Store, gate *credit.Gate, mirror *gcs.Mirror, webhook *WebhookSender) *Service {
	return &Service{
		engine:  engine,
		queue:   q,
		store:   store,
		gate:    gate,
		mirror:  mirror,
		webhook: webhook,
		log:     logger.New("Worker"),
	}
}

// HandleScrapeTask processes a single_urls job.
func (s *Service) HandleScrapeTask(ctx context.Context, t *asynq.Task) error {
	var p queue.TaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	desc := p.Descriptor

	doc, err := s.engine.Scrape(ctx, desc)
	if err != nil {
		if finalAttempt(ctx) {
			s.finalize(ctx, p.JobID, desc, nil)
		}
		return err
	}

	if b, err := json.Marshal(doc); err == nil {
		if _, err := t.ResultWriter().Write(b); err != nil {
			s.log.LogWarnf("failed to write result for job %s: %v", p.JobID, err)
		}
	}
	if desc.InternalOptions.SaveToGCS && !desc.ZeroDataRetention {
		go s.mirror.StoreDocument(p.JobID, doc)
	}
	s.finalize(ctx, p.JobID, desc, doc)
	return nil
}

// finalize is the job's terminal hook: release the team's concurrency
// slot, record crawl progress, bill crawl pages, and notify.
func (s *Service) finalize(ctx context.Context, jobID string, desc *job.Descriptor, doc *job.Document) {
	s.queue.ReleaseSlot(ctx, desc.TeamID, jobID)
	if desc.CrawlID == "" {
		return
	}

	if err := s.store.PushDone(ctx, desc.CrawlID, jobID); err != nil {
		s.log.LogErrorf("failed to record done job %s for crawl %s: %v", jobID, desc.CrawlID, err)
	}

	// v0 scrapes are billed on the request path; crawl pages here.
	if !desc.IsScrape && doc != nil {
		s.gate.Bill(desc.TeamID, nil, 1, false)
	}

	if desc.Webhook != nil && doc != nil {
		s.webhook.SendDocument(desc.Webhook, desc.CrawlID, jobID, doc)
	}

	finished, err := s.store.IsFinishedLocked(ctx, desc.CrawlID)
	if err != nil {
		s.log.LogWarnf("finish check failed for crawl %s: %v", desc.CrawlID, err)
		return
	}
	if finished {
		s.log.LogInfof("crawl %s finished", desc.CrawlID)
		if desc.Webhook != nil {
			s.webhook.SendCompleted(desc.Webhook, desc.CrawlID)
		}
	}
}

// HandleKickoffTask expands a crawl's seed URL into child scrape jobs.
func (s *Service) HandleKickoffTask(ctx context.Context, t *asynq.Task) (err error) {
	var p queue.TaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	desc := p.Descriptor
	// The kickoff job holds a team slot like any other job; return it once
	// asynq will not run this task again.
	defer func() {
		if desc != nil && (err == nil || finalAttempt(ctx)) {
			s.queue.ReleaseSlot(ctx, desc.TeamID, p.JobID)
		}
	}()

	sc, err := s.store.GetCrawl(ctx, desc.CrawlID)
	if err != nil {
		return err
	}
	if sc == nil {
		s.log.LogWarnf("kickoff for unknown crawl %s dropped", desc.CrawlID)
		return nil
	}
	if sc.Cancelled {
		return nil
	}

	limit := sc.CrawlerOptions.Limit
	links, err := s.engine.DiscoverLinks(ctx, desc, limit)
	if err != nil {
		return err
	}
	links = sc.CrawlerOptions.FilterLinks(links)

	enqueued := 0
	for _, link := range links {
		if limit > 0 && enqueued >= limit {
			break
		}
		if blocklist.IsBlocked(link) {
			continue
		}
		childID := uuid.New().String()
		child := &job.Descriptor{
			URL:               link,
			Mode:              job.ModeSingleURLs,
			TeamID:            desc.TeamID,
			ScrapeOptions:     sc.ScrapeOptions,
			InternalOptions:   sc.InternalOptions,
			Origin:            desc.Origin,
			Integration:       desc.Integration,
			StartTime:         time.Now().UTC(),
			ZeroDataRetention: sc.ZeroDataRetention,
			CrawlID:           desc.CrawlID,
			Webhook:           desc.Webhook,
		}
		if err := s.store.AddCrawlJob(ctx, desc.CrawlID, childID); err != nil {
			s.log.LogErrorf("failed to register child job %s for crawl %s: %v", childID, desc.CrawlID, err)
			continue
		}
		maxConc := 0
		if sc.MaxConcurrency != nil {
			maxConc = *sc.MaxConcurrency
		}
		if err := s.queue.Enqueue(ctx, child, childID, childJobPriority, maxConc); err != nil {
			s.log.LogErrorf("failed to enqueue child job %s for crawl %s: %v", childID, desc.CrawlID, err)
			continue
		}
		metrics.JobsEnqueued.WithLabelValues(string(job.ModeSingleURLs)).Inc()
		enqueued++
	}

	s.log.LogInfof("kickoff for crawl %s enqueued %d of %d discovered links", desc.CrawlID, enqueued, len(links))
	return nil
}

// finalAttempt reports whether asynq will not retry this task again.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
