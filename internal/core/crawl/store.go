package crawl

import (
	"context"
	"encoding/json"
	"time"

	rds "github.com/zardamhussain/outblog-crawl/internal/platform/redis"
)

// Store persists per-crawl metadata, the child-job id set, and the ordered
// done-job list. Records expire after a TTL refreshed on activity.
type Store struct {
	redis *rds.Service
	ttl   time.Duration
}

func NewStore(redis *rds.Service, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{redis: redis, ttl: ttl}
}

func crawlKey(id string) string { return "crawl:" + id }
func jobsKey(id string) string  { return "crawl:" + id + ":jobs" }
func doneKey(id string) string  { return "crawl:" + id + ":jobs_done_ordered" }
func lockKey(id string) string  { return "crawl:" + id + ":finish" }

const teamsUsingV0Key = "teams_using_v0"

func (s *Store) SaveCrawl(ctx context.Context, id string, sc *StoredCrawl) error {
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return s.redis.Client().Set(ctx, crawlKey(id), b, s.ttl).Err()
}

// GetCrawl returns the stored crawl, or nil when it does not exist or has
// expired.
func (s *Store) GetCrawl(ctx context.Context, id string) (*StoredCrawl, error) {
	b, err := s.redis.Client().Get(ctx, crawlKey(id)).Bytes()
	if err == rds.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sc StoredCrawl
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Store) AddCrawlJob(ctx context.Context, crawlID, jobID string) error {
	c := s.redis.Client()
	if err := c.SAdd(ctx, jobsKey(crawlID), jobID).Err(); err != nil {
		return err
	}
	return c.Expire(ctx, jobsKey(crawlID), s.ttl).Err()
}

func (s *Store) AddCrawlJobs(ctx context.Context, crawlID string, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(jobIDs))
	for i, id := range jobIDs {
		members[i] = id
	}
	c := s.redis.Client()
	if err := c.SAdd(ctx, jobsKey(crawlID), members...).Err(); err != nil {
		return err
	}
	return c.Expire(ctx, jobsKey(crawlID), s.ttl).Err()
}

func (s *Store) GetCrawlJobs(ctx context.Context, crawlID string) ([]string, error) {
	return s.redis.Client().SMembers(ctx, jobsKey(crawlID)).Result()
}

// PushDone appends a job id to the ordered done list. Completion order is
// preserved; the list only ever grows.
func (s *Store) PushDone(ctx context.Context, crawlID, jobID string) error {
	c := s.redis.Client()
	if err := c.RPush(ctx, doneKey(crawlID), jobID).Err(); err != nil {
		return err
	}
	if err := c.Expire(ctx, doneKey(crawlID), s.ttl).Err(); err != nil {
		return err
	}
	// A finished page is crawl activity: the record's TTL restarts too.
	return c.Expire(ctx, crawlKey(crawlID), s.ttl).Err()
}

func (s *Store) GetDoneOrdered(ctx context.Context, crawlID string) ([]string, error) {
	return s.redis.Client().LRange(ctx, doneKey(crawlID), 0, -1).Result()
}

func (s *Store) GetDoneLength(ctx context.Context, crawlID string) (int, error) {
	n, err := s.redis.Client().LLen(ctx, doneKey(crawlID)).Result()
	return int(n), err
}

// IsFinished reports whether the crawl is terminal: cancelled, or every
// enqueued child job has reached a terminal state.
func (s *Store) IsFinished(ctx context.Context, crawlID string) (bool, error) {
	sc, err := s.GetCrawl(ctx, crawlID)
	if err != nil {
		return false, err
	}
	if sc == nil {
		return false, nil
	}
	if sc.Cancelled {
		return true, nil
	}
	c := s.redis.Client()
	total, err := c.SCard(ctx, jobsKey(crawlID)).Result()
	if err != nil {
		return false, err
	}
	done, err := c.LLen(ctx, doneKey(crawlID)).Result()
	if err != nil {
		return false, err
	}
	return total > 0 && done >= total, nil
}

// IsFinishedLocked is IsFinished behind an advisory lock so exactly one
// caller runs finalization. It returns true only for the caller that both
// acquired the lock and observed the crawl finished; the lock is released
// when the crawl turns out not to be finished yet.
func (s *Store) IsFinishedLocked(ctx context.Context, crawlID string) (bool, error) {
	c := s.redis.Client()
	acquired, err := c.SetNX(ctx, lockKey(crawlID), "1", time.Minute).Result()
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	finished, err := s.IsFinished(ctx, crawlID)
	if err != nil || !finished {
		_ = c.Del(ctx, lockKey(crawlID)).Err()
		return false, err
	}
	return true, nil
}

// GetExpiry returns when the crawl record expires.
func (s *Store) GetExpiry(ctx context.Context, crawlID string) (time.Time, error) {
	ttl, err := s.redis.Client().PTTL(ctx, crawlKey(crawlID)).Result()
	if err != nil || ttl < 0 {
		return time.Now().Add(s.ttl), err
	}
	return time.Now().Add(ttl), nil
}

// Cancel marks the crawl cancelled, preserving its remaining TTL.
func (s *Store) Cancel(ctx context.Context, crawlID string) error {
	sc, err := s.GetCrawl(ctx, crawlID)
	if err != nil {
		return err
	}
	if sc == nil {
		return nil
	}
	sc.Cancelled = true
	c := s.redis.Client()
	ttl, err := c.PTTL(ctx, crawlKey(crawlID)).Result()
	if err != nil || ttl < 0 {
		ttl = s.ttl
	}
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return c.Set(ctx, crawlKey(crawlID), b, ttl).Err()
}

// MarkTeamUsingV0 records that a team has hit a v0 endpoint.
func (s *Store) MarkTeamUsingV0(ctx context.Context, teamID string) error {
	return s.redis.Client().SAdd(ctx, teamsUsingV0Key, teamID).Err()
}
