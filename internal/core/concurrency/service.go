package concurrency

import (
	"context"
	"strconv"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	rds "github.com/zardamhussain/outblog-crawl/internal/platform/redis"
)

// Service tracks, per team, the jobs currently held back by the team's
// concurrency cap. Entries are scored by insertion time so stale ids can
// be swept without a background reaper.
type Service struct{ redis *rds.Service }

func New(redis *rds.Service) *Service { return &Service{redis: redis} }

const staleAfter = 2 * time.Hour

func key(teamID string) string { return "concurrency-limited:" + teamID }

func (s *Service) Add(ctx context.Context, teamID, jobID string) error {
	c := s.redis.Client()
	z := &redisv8.Z{Score: float64(time.Now().Unix()), Member: jobID}
	if err := c.ZAddNX(ctx, key(teamID), z).Err(); err != nil {
		return err
	}
	return c.Expire(ctx, key(teamID), staleAfter).Err()
}

func (s *Service) Remove(ctx context.Context, teamID, jobID string) error {
	return s.redis.Client().ZRem(ctx, key(teamID), jobID).Err()
}

// Members returns the currently throttled job ids for a team, dropping
// entries older than the staleness horizon first.
func (s *Service) Members(ctx context.Context, teamID string) ([]string, error) {
	c := s.redis.Client()
	cutoff := time.Now().Add(-staleAfter).Unix()
	_ = c.ZRemRangeByScore(ctx, key(teamID), "-inf", strconv.FormatInt(cutoff, 10)).Err()
	return c.ZRange(ctx, key(teamID), 0, -1).Result()
}

func (s *Service) Contains(ctx context.Context, teamID, jobID string) (bool, error) {
	err := s.redis.Client().ZScore(ctx, key(teamID), jobID).Err()
	if err == rds.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Count returns how many jobs are currently throttled for the team.
func (s *Service) Count(ctx context.Context, teamID string) (int64, error) {
	return s.redis.Client().ZCard(ctx, key(teamID)).Result()
}
