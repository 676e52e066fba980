package queue

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/zardamhussain/outblog-crawl/internal/core/job"
)

func TestQueueForPriorityBands(t *testing.T) {
	assert.Equal(t, QueueHigh, queueFor(0))
	assert.Equal(t, QueueHigh, queueFor(9))
	assert.Equal(t, QueueDefault, queueFor(10))
	assert.Equal(t, QueueDefault, queueFor(15))
	assert.Equal(t, QueueLow, queueFor(16))
	assert.Equal(t, QueueLow, queueFor(100))
}

func TestMapState(t *testing.T) {
	cases := map[asynq.TaskState]job.State{
		asynq.TaskStateActive:      job.StateActive,
		asynq.TaskStatePending:     job.StateWaiting,
		asynq.TaskStateRetry:       job.StateWaiting,
		asynq.TaskStateAggregating: job.StateWaiting,
		asynq.TaskStateScheduled:   job.StateDelayed,
		asynq.TaskStateCompleted:   job.StateCompleted,
		asynq.TaskStateArchived:    job.StateFailed,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapState(in), in.String())
	}
}

func TestTaskTypeFor(t *testing.T) {
	assert.Equal(t, TaskTypeScrape, taskTypeFor(job.ModeSingleURLs))
	assert.Equal(t, TaskTypeKickoff, taskTypeFor(job.ModeKickoff))
	assert.Equal(t, TaskTypeCrawl, taskTypeFor(job.ModeCrawl))
}
