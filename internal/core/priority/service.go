package priority

import (
	"context"

	"github.com/zardamhussain/outblog-crawl/internal/core/concurrency"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
)

// BasePriority is the default priority for user-facing scrape jobs.
// Lower values are served first.
const BasePriority = 10

// Service computes the effective queue priority for a team's next job.
// Teams that already have many jobs held back by their concurrency cap get
// progressively worse priority so a single tenant cannot starve the queue.
type Service struct {
	limited *concurrency.Service
	log     *logger.Logger
}

func New(limited *concurrency.Service) *Service {
	return &Service{limited: limited, log: logger.New("JobPriority")}
}

// GetJobPriority returns basePriority degraded by the team's current
// backlog. The penalty is bucketed and capped at +20 so a throttled team
// still makes progress. Lookup failures fall back to the base priority.
func (s *Service) GetJobPriority(ctx context.Context, teamID string, basePriority int, concurrencyCap int) int {
	if teamID == "" {
		return basePriority
	}
	backlog, err := s.limited.Count(ctx, teamID)
	if err != nil {
		s.log.LogDebugf("priority lookup failed for team %s: %v", teamID, err)
		return basePriority
	}
	if concurrencyCap <= 0 {
		concurrencyCap = 10
	}
	penalty := int(backlog) / concurrencyCap * 5
	if penalty > 20 {
		penalty = 20
	}
	return basePriority + penalty
}
