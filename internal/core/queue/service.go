package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/zardamhussain/outblog-crawl/internal/core/concurrency"
	"github.com/zardamhussain/outblog-crawl/internal/core/job"
	"github.com/zardamhussain/outblog-crawl/internal/logger"
	rds "github.com/zardamhussain/outblog-crawl/internal/platform/redis"
)

// Task types routed through the worker mux.
const (
	TaskTypeScrape  = "scrape:task"
	TaskTypeKickoff = "kickoff:task"
	TaskTypeCrawl   = "crawl:task"
)

// Weighted queues; Enqueue maps an integer priority onto one of them.
// Lower priority numbers are served from heavier queues.
const (
	QueueHigh    = "high"
	QueueDefault = "default"
	QueueLow     = "low"
)

// QueueWeights is the asynq server queue configuration matching the
// priority bands used by Enqueue.
var QueueWeights = map[string]int{QueueHigh: 6, QueueDefault: 3, QueueLow: 1}

var (
	// ErrQueueUnavailable marks transport failures talking to the queue.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrJobTimeout is returned by WaitForJob when the deadline passes.
	ErrJobTimeout = errors.New("job wait timed out")
)

const (
	resultRetention = 24 * time.Hour
	waitPollEvery   = 500 * time.Millisecond
)

// TaskPayload is the wire format of every queued task.
type TaskPayload struct {
	JobID      string          `json:"job_id"`
	Descriptor *job.Descriptor `json:"descriptor"`
}

// jobMeta is the gateway's own record of where a job lives; asynq task
// lookups are per-queue, so the queue name must survive the enqueue call.
type jobMeta struct {
	Queue  string `json:"queue"`
	TeamID string `json:"team_id"`
}

type Service struct {
	client     *asynq.Client
	inspector  *asynq.Inspector
	redis      *rds.Service
	limited    *concurrency.Service
	maxRetries int
	log        *logger.Logger
}

func New(redis *rds.Service, limited *concurrency.Service, maxRetries int) *Service {
	opt := redis.AsynqRedisOpt()
	return &Service{
		client:     asynq.NewClient(opt),
		inspector:  asynq.NewInspector(opt),
		redis:      redis,
		limited:    limited,
		maxRetries: maxRetries,
		log:        logger.New("QueueGateway"),
	}
}

func (s *Service) Close() error { return s.client.Close() }

// HealthCheck verifies the queue backend is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	if _, err := s.inspector.Queues(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

func taskTypeFor(m job.Mode) string {
	switch m {
	case job.ModeKickoff:
		return TaskTypeKickoff
	case job.ModeCrawl:
		return TaskTypeCrawl
	default:
		return TaskTypeScrape
	}
}

func queueFor(priority int) string {
	switch {
	case priority < 10:
		return QueueHigh
	case priority <= 15:
		return QueueDefault
	default:
		return QueueLow
	}
}

func metaKey(jobID string) string        { return "job:" + jobID + ":meta" }
func teamActiveKey(teamID string) string { return "team-active:" + teamID }

// Enqueue submits a job under a caller-chosen stable id. Re-submitting the
// same id is a no-op success, which makes retries of the HTTP request safe.
// A positive concurrencyCap marks the job as concurrency-limited when the
// team already has that many jobs open.
func (s *Service) Enqueue(ctx context.Context, desc *job.Descriptor, jobID string, priority int, concurrencyCap int) error {
	payload, err := json.Marshal(TaskPayload{JobID: jobID, Descriptor: desc})
	if err != nil {
		return err
	}
	queue := queueFor(priority)
	task := asynq.NewTask(taskTypeFor(desc.Mode), payload)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(queue),
		asynq.MaxRetry(s.maxRetries),
		asynq.Retention(resultRetention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			s.log.LogDebugf("duplicate enqueue for job %s ignored", jobID)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	if err := s.redis.CacheSet(ctx, metaKey(jobID), jobMeta{Queue: queue, TeamID: desc.TeamID}, int(resultRetention.Seconds())); err != nil {
		s.log.LogWarnf("failed to record meta for job %s: %v", jobID, err)
	}

	open, err := s.redis.Client().Incr(ctx, teamActiveKey(desc.TeamID)).Result()
	if err == nil {
		_ = s.redis.Client().Expire(ctx, teamActiveKey(desc.TeamID), resultRetention).Err()
		if concurrencyCap > 0 && open > int64(concurrencyCap) {
			if err := s.limited.Add(ctx, desc.TeamID, jobID); err != nil {
				s.log.LogWarnf("failed to mark job %s concurrency-limited: %v", jobID, err)
			}
		}
	}
	return nil
}

// ReleaseSlot is called from the worker's terminal handler to return the
// team's concurrency slot and clear the throttled marker.
func (s *Service) ReleaseSlot(ctx context.Context, teamID, jobID string) {
	if teamID == "" {
		return
	}
	_ = s.redis.Client().Decr(ctx, teamActiveKey(teamID)).Err()
	_ = s.limited.Remove(ctx, teamID, jobID)
}

func (s *Service) meta(ctx context.Context, jobID string) (jobMeta, bool) {
	var m jobMeta
	if err := s.redis.CacheGet(ctx, metaKey(jobID), &m); err != nil {
		return jobMeta{}, false
	}
	return m, true
}

func mapState(st asynq.TaskState) job.State {
	switch st {
	case asynq.TaskStateActive:
		return job.StateActive
	case asynq.TaskStatePending, asynq.TaskStateRetry, asynq.TaskStateAggregating:
		return job.StateWaiting
	case asynq.TaskStateScheduled:
		return job.StateDelayed
	case asynq.TaskStateCompleted:
		return job.StateCompleted
	case asynq.TaskStateArchived:
		return job.StateFailed
	default:
		return job.StateUnknown
	}
}

func (s *Service) taskInfo(ctx context.Context, jobID string) (*asynq.TaskInfo, jobMeta, error) {
	m, ok := s.meta(ctx, jobID)
	if !ok {
		return nil, jobMeta{}, asynq.ErrTaskNotFound
	}
	info, err := s.inspector.GetTaskInfo(m.Queue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, m, asynq.ErrTaskNotFound
		}
		return nil, m, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return info, m, nil
}

// State reports the observable job state. Jobs held back by the team's
// concurrency cap report as prioritized regardless of queue position.
func (s *Service) State(ctx context.Context, jobID string) (job.State, error) {
	info, m, err := s.taskInfo(ctx, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return job.StateUnknown, nil
		}
		return job.StateUnknown, err
	}
	st := mapState(info.State)
	if !st.Terminal() && m.TeamID != "" {
		if throttled, err := s.limited.Contains(ctx, m.TeamID, jobID); err == nil && throttled {
			return job.StatePrioritized, nil
		}
	}
	return st, nil
}

// Get loads a job, or nil when the queue no longer knows it.
func (s *Service) Get(ctx context.Context, jobID string) (*job.Job, error) {
	info, _, err := s.taskInfo(ctx, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return nil, nil
		}
		return nil, err
	}
	j := &job.Job{ID: jobID, State: mapState(info.State), FailedReason: info.LastErr}
	var p TaskPayload
	if err := json.Unmarshal(info.Payload, &p); err == nil {
		j.Descriptor = p.Descriptor
	}
	if j.State == job.StateCompleted && len(info.Result) > 0 {
		var doc job.Document
		if err := json.Unmarshal(info.Result, &doc); err == nil {
			j.ReturnValue = &doc
		}
	}
	return j, nil
}

// GetMany loads the given jobs, skipping ids the queue no longer knows.
func (s *Service) GetMany(ctx context.Context, jobIDs []string) ([]*job.Job, error) {
	out := make([]*job.Job, 0, len(jobIDs))
	for _, id := range jobIDs {
		j, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j != nil {
			out = append(out, j)
		}
	}
	return out, nil
}

// ReturnValue loads the worker-produced document of a completed job.
func (s *Service) ReturnValue(ctx context.Context, jobID string) (*job.Document, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j == nil || j.State != job.StateCompleted {
		return nil, nil
	}
	return j.ReturnValue, nil
}

// Remove deletes a terminal job's queue artifacts.
func (s *Service) Remove(ctx context.Context, jobID string) error {
	m, ok := s.meta(ctx, jobID)
	if !ok {
		return nil
	}
	if err := s.inspector.DeleteTask(m.Queue, jobID); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	_ = s.redis.Client().Del(ctx, metaKey(jobID)).Err()
	return nil
}

// WaitForJob blocks until the job completes, fails, or the timeout passes.
// A timeout does not cancel the underlying job.
func (s *Service) WaitForJob(ctx context.Context, jobID string, timeout time.Duration) (*job.Document, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(waitPollEvery)
	defer tick.Stop()

	for {
		info, _, err := s.taskInfo(ctx, jobID)
		if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return nil, err
		}
		if info != nil {
			switch mapState(info.State) {
			case job.StateCompleted:
				var doc job.Document
				if len(info.Result) > 0 {
					if err := json.Unmarshal(info.Result, &doc); err != nil {
						return nil, fmt.Errorf("decode job %s result: %w", jobID, err)
					}
				}
				return &doc, nil
			case job.StateFailed:
				reason := info.LastErr
				if reason == "" {
					reason = "job failed"
				}
				return nil, errors.New(reason)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrJobTimeout
		case <-tick.C:
		}
	}
}
