package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/model"
)

// StatsProvider supplies queue depth and processing ages for health
// computation.
type StatsProvider interface {
	GetJobCounts(ctx context.Context) (model.JobCounts, error)
	LongestActiveProcessing(ctx context.Context) (time.Duration, error)
}

// ConnHealthProvider supplies the broker connection state.
type ConnHealthProvider interface {
	Health() model.ConnectionHealth
}

// HealthMonitor recomputes queue health on an interval and caches the
// result so admin reads never fan out to the broker. Alerts are edge
// triggered: one notification when health degrades, one when it recovers,
// nothing in between.
type HealthMonitor struct {
	orch StatsProvider
	conn ConnHealthProvider
	cfg  config.QueueConfig

	mu       sync.Mutex
	cached   model.QueueHealth
	alerting bool
	subs     map[int]chan model.QueueHealth
	nextSub  int
}

func NewHealthMonitor(orch StatsProvider, conn ConnHealthProvider, cfg config.QueueConfig) *HealthMonitor {
	return &HealthMonitor{
		orch: orch,
		conn: conn,
		cfg:  cfg,
		subs: make(map[int]chan model.QueueHealth),
	}
}

// Run recomputes health until the context ends.
func (h *HealthMonitor) Run(ctx context.Context) {
	interval := h.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Check recomputes health now and fires transition notifications.
func (h *HealthMonitor) Check(ctx context.Context) model.QueueHealth {
	health := h.compute(ctx)

	h.mu.Lock()
	h.cached = health
	wasAlerting := h.alerting
	h.alerting = !health.IsHealthy
	transition := wasAlerting != h.alerting
	var targets []chan model.QueueHealth
	if transition {
		for _, ch := range h.subs {
			targets = append(targets, ch)
		}
	}
	h.mu.Unlock()

	if transition {
		if health.IsHealthy {
			log.Info().Msg("queue health recovered")
		} else {
			log.Warn().Strs("errors", health.Errors).Msg("queue health degraded")
		}
		for _, ch := range targets {
			select {
			case ch <- health:
			default:
			}
		}
	}
	return health
}

func (h *HealthMonitor) compute(ctx context.Context) model.QueueHealth {
	health := model.QueueHealth{
		Errors:          []string{},
		LastHealthCheck: time.Now().UTC(),
	}

	if conn := h.conn.Health(); !conn.IsConnected {
		health.Errors = append(health.Errors, "broker disconnected")
	} else if !conn.IsHealthy {
		health.Errors = append(health.Errors, "broker connection degraded")
	}

	counts, err := h.orch.GetJobCounts(ctx)
	if err != nil {
		health.Errors = append(health.Errors, fmt.Sprintf("queue inspection failed: %v", err))
	} else {
		health.WaitingJobs = counts.Queued
		health.ActiveJobs = counts.Active
		health.FailedJobs = counts.Failed

		if h.cfg.MaxFailedJobs > 0 && counts.Failed > h.cfg.MaxFailedJobs {
			health.Errors = append(health.Errors,
				fmt.Sprintf("failed jobs %d exceed limit %d", counts.Failed, h.cfg.MaxFailedJobs))
		}
		if h.cfg.MaxQueuedJobs > 0 && counts.Queued > h.cfg.MaxQueuedJobs {
			health.Errors = append(health.Errors,
				fmt.Sprintf("queued jobs %d exceed limit %d", counts.Queued, h.cfg.MaxQueuedJobs))
		}
	}

	if h.cfg.MaxProcessingTime > 0 {
		longest, err := h.orch.LongestActiveProcessing(ctx)
		if err != nil {
			health.Errors = append(health.Errors, fmt.Sprintf("processing inspection failed: %v", err))
		} else if longest > h.cfg.MaxProcessingTime {
			health.Errors = append(health.Errors,
				fmt.Sprintf("a job has been processing for %s, over the %s limit",
					longest.Round(time.Second), h.cfg.MaxProcessingTime))
		}
	}

	health.IsHealthy = len(health.Errors) == 0
	return health
}

// Health returns the latest cached result, computing one if the monitor
// has never run.
func (h *HealthMonitor) Health(ctx context.Context) model.QueueHealth {
	h.mu.Lock()
	cached := h.cached
	h.mu.Unlock()

	if cached.LastHealthCheck.IsZero() {
		return h.Check(ctx)
	}
	return cached
}

// Subscribe registers for health transition notifications. The channel is
// buffered; a slow consumer drops notifications rather than blocking the
// monitor.
func (h *HealthMonitor) Subscribe() (int, <-chan model.QueueHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSub++
	id := h.nextSub
	ch := make(chan model.QueueHealth, 4)
	h.subs[id] = ch
	return id, ch
}

func (h *HealthMonitor) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}
