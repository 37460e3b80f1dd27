package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/queue"
	"github.com/videoforge/api/internal/render"
)

func TestBackoffDelay(t *testing.T) {
	base := 5 * time.Second

	assert.Equal(t, 5*time.Second, backoffDelay(base, 0))
	assert.Equal(t, 10*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 20*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 40*time.Second, backoffDelay(base, 3))

	// Zero config falls back to the default base.
	assert.Equal(t, 5*time.Second, backoffDelay(0, 0))

	// Runaway retry counts saturate instead of overflowing.
	assert.Equal(t, time.Hour, backoffDelay(base, 40))
}

func TestSupervisorHealthBeforeStart(t *testing.T) {
	s := NewSupervisor(asynq.RedisClientOpt{Addr: "localhost:0"},
		asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return nil }),
		config.WorkerConfig{Concurrency: 2},
		config.QueueConfig{})

	h := s.Health()
	assert.False(t, h.Running)
	assert.Zero(t, h.ActiveConsumers)
	assert.Zero(t, h.RestartCount)
	assert.Nil(t, h.LastRestart)
}

func TestHealthLoopRecordsSnapshots(t *testing.T) {
	s := NewSupervisor(asynq.RedisClientOpt{Addr: "localhost:0"},
		asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return nil }),
		config.WorkerConfig{Concurrency: 1, HealthCheckInterval: 5 * time.Millisecond},
		config.QueueConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunHealthLoop(ctx)

	require.Eventually(t, func() bool {
		return s.Health().LastSnapshot != nil
	}, time.Second, 5*time.Millisecond)
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&render.EmptyProjectError{}, "EMPTY_PROJECT"},
		{&render.AssetNotFoundError{AssetID: "a1"}, "ASSET_NOT_FOUND"},
		{&render.SourceRangeError{ClipID: "c1", Needed: 5, SourceDuration: 3}, "SOURCE_OUT_OF_RANGE"},
		{&render.TimeoutError{Stage: "clip"}, "RENDER_TIMEOUT"},
		{&render.ExternalProcessError{Stage: "combine", Err: fmt.Errorf("boom")}, "ENCODER_FAILED"},
		{fmt.Errorf("something else"), "RENDER_FAILED"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errorCode(c.err), "error %v", c.err)
	}
}

func TestQueueWeightsCoverAllQueues(t *testing.T) {
	assert.Len(t, queue.QueueWeights, 3)
	assert.Greater(t, queue.QueueWeights[queue.QueueCritical], queue.QueueWeights[queue.QueueDefault])
	assert.Greater(t, queue.QueueWeights[queue.QueueDefault], queue.QueueWeights[queue.QueueLow])
}
