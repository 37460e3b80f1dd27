package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestActiveProcessingAge(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	// Started 10 minutes ago with a 30 minute allowance.
	task := &asynq.TaskInfo{
		Timeout:  30 * time.Minute,
		Deadline: now.Add(20 * time.Minute),
	}
	age, ok := activeProcessingAge(now, task)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, age)

	// Past its deadline: the age keeps growing beyond the allowance.
	task = &asynq.TaskInfo{
		Timeout:  30 * time.Minute,
		Deadline: now.Add(-5 * time.Minute),
	}
	age, ok = activeProcessingAge(now, task)
	assert.True(t, ok)
	assert.Equal(t, 35*time.Minute, age)

	// Tasks without a deadline or timeout carry no usable start time.
	_, ok = activeProcessingAge(now, &asynq.TaskInfo{Timeout: time.Minute})
	assert.False(t, ok)
	_, ok = activeProcessingAge(now, &asynq.TaskInfo{Deadline: now})
	assert.False(t, ok)
}
