package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/model"
)

type mockStats struct {
	GetJobCountsFunc            func(ctx context.Context) (model.JobCounts, error)
	LongestActiveProcessingFunc func(ctx context.Context) (time.Duration, error)
}

func (m *mockStats) GetJobCounts(ctx context.Context) (model.JobCounts, error) {
	return m.GetJobCountsFunc(ctx)
}

func (m *mockStats) LongestActiveProcessing(ctx context.Context) (time.Duration, error) {
	if m.LongestActiveProcessingFunc == nil {
		return 0, nil
	}
	return m.LongestActiveProcessingFunc(ctx)
}

type mockConnHealth struct {
	HealthFunc func() model.ConnectionHealth
}

func (m *mockConnHealth) Health() model.ConnectionHealth {
	return m.HealthFunc()
}

func healthyConn() *mockConnHealth {
	return &mockConnHealth{HealthFunc: func() model.ConnectionHealth {
		return model.ConnectionHealth{IsConnected: true, IsHealthy: true}
	}}
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		MaxFailedJobs:     10,
		MaxQueuedJobs:     100,
		MaxProcessingTime: 30 * time.Minute,
	}
}

func TestHealthCheckHealthy(t *testing.T) {
	counts := &mockStats{GetJobCountsFunc: func(ctx context.Context) (model.JobCounts, error) {
		return model.JobCounts{Queued: 5, Active: 1, Failed: 2}, nil
	}}

	h := NewHealthMonitor(counts, healthyConn(), testQueueConfig())
	got := h.Check(context.Background())

	assert.True(t, got.IsHealthy)
	assert.Empty(t, got.Errors)
	assert.Equal(t, 5, got.WaitingJobs)
	assert.Equal(t, 1, got.ActiveJobs)
	assert.Equal(t, 2, got.FailedJobs)
	assert.False(t, got.LastHealthCheck.IsZero())
}

func TestHealthCheckThresholds(t *testing.T) {
	counts := &mockStats{GetJobCountsFunc: func(ctx context.Context) (model.JobCounts, error) {
		return model.JobCounts{Queued: 150, Failed: 11}, nil
	}}

	h := NewHealthMonitor(counts, healthyConn(), testQueueConfig())
	got := h.Check(context.Background())

	assert.False(t, got.IsHealthy)
	require.Len(t, got.Errors, 2)
}

func TestHealthCheckStalledProcessing(t *testing.T) {
	counts := &mockStats{
		GetJobCountsFunc: func(ctx context.Context) (model.JobCounts, error) {
			return model.JobCounts{Active: 1}, nil
		},
		LongestActiveProcessingFunc: func(ctx context.Context) (time.Duration, error) {
			return 45 * time.Minute, nil
		},
	}

	h := NewHealthMonitor(counts, healthyConn(), testQueueConfig())
	got := h.Check(context.Background())

	assert.False(t, got.IsHealthy)
	require.Len(t, got.Errors, 1)
	assert.Contains(t, got.Errors[0], "processing")
}

func TestHealthCheckBrokerDown(t *testing.T) {
	counts := &mockStats{GetJobCountsFunc: func(ctx context.Context) (model.JobCounts, error) {
		return model.JobCounts{}, fmt.Errorf("connection refused")
	}}
	conn := &mockConnHealth{HealthFunc: func() model.ConnectionHealth {
		return model.ConnectionHealth{IsConnected: false}
	}}

	h := NewHealthMonitor(counts, conn, testQueueConfig())
	got := h.Check(context.Background())

	assert.False(t, got.IsHealthy)
	assert.Contains(t, got.Errors, "broker disconnected")
}

func TestHealthAlertsAreEdgeTriggered(t *testing.T) {
	failed := 0
	counts := &mockStats{GetJobCountsFunc: func(ctx context.Context) (model.JobCounts, error) {
		return model.JobCounts{Failed: failed}, nil
	}}

	h := NewHealthMonitor(counts, healthyConn(), testQueueConfig())
	id, ch := h.Subscribe()
	defer h.Unsubscribe(id)

	ctx := context.Background()

	// Healthy baseline: no notification.
	h.Check(ctx)
	assert.Empty(t, ch)

	// Degrade: exactly one notification, repeats stay silent.
	failed = 50
	h.Check(ctx)
	h.Check(ctx)
	h.Check(ctx)
	require.Len(t, ch, 1)
	got := <-ch
	assert.False(t, got.IsHealthy)

	// Recover: one more notification.
	failed = 0
	h.Check(ctx)
	h.Check(ctx)
	require.Len(t, ch, 1)
	got = <-ch
	assert.True(t, got.IsHealthy)
}

func TestHealthCachedSnapshot(t *testing.T) {
	calls := 0
	counts := &mockStats{GetJobCountsFunc: func(ctx context.Context) (model.JobCounts, error) {
		calls++
		return model.JobCounts{}, nil
	}}

	h := NewHealthMonitor(counts, healthyConn(), testQueueConfig())
	ctx := context.Background()

	h.Check(ctx)
	h.Health(ctx)
	h.Health(ctx)
	assert.Equal(t, 1, calls, "reads must serve the cached snapshot")
}

func TestQueueForPriority(t *testing.T) {
	assert.Equal(t, QueueCritical, queueForPriority(model.PriorityCritical))
	assert.Equal(t, QueueLow, queueForPriority(model.PriorityLow))
	assert.Equal(t, QueueDefault, queueForPriority(model.PriorityDefault))
	assert.Equal(t, QueueDefault, queueForPriority(model.Priority("")))
}
