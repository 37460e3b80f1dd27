package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/videoforge/api/internal/broker"
	"github.com/videoforge/api/internal/queue"
	"github.com/videoforge/api/internal/worker"
	"github.com/videoforge/api/pkg/response"
)

// AdminHandler exposes the operational surface: queue control, health
// snapshots, and broker connection management.
type AdminHandler struct {
	orchestrator *queue.Orchestrator
	health       *queue.HealthMonitor
	conn         *broker.ConnectionManager
	supervisor   *worker.Supervisor
	failedMaxAge time.Duration
}

func NewAdminHandler(orch *queue.Orchestrator, health *queue.HealthMonitor, conn *broker.ConnectionManager, sup *worker.Supervisor, failedMaxAge time.Duration) *AdminHandler {
	return &AdminHandler{
		orchestrator: orch,
		health:       health,
		conn:         conn,
		supervisor:   sup,
		failedMaxAge: failedMaxAge,
	}
}

// QueueHealth handles GET /api/admin/queue/health
func (h *AdminHandler) QueueHealth(c *fiber.Ctx) error {
	return response.OK(c, h.health.Health(c.Context()))
}

// JobCounts handles GET /api/admin/queue/counts
func (h *AdminHandler) JobCounts(c *fiber.Ctx) error {
	counts, err := h.orchestrator.GetJobCounts(c.Context())
	if err != nil {
		return response.QueueError(c, err.Error())
	}
	return response.OK(c, counts)
}

// Pause handles POST /api/admin/queue/pause
func (h *AdminHandler) Pause(c *fiber.Ctx) error {
	if err := h.orchestrator.Pause(c.Context()); err != nil {
		return response.QueueError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"paused": true})
}

// Resume handles POST /api/admin/queue/resume
func (h *AdminHandler) Resume(c *fiber.Ctx) error {
	if err := h.orchestrator.Resume(c.Context()); err != nil {
		return response.QueueError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"paused": false})
}

// RetryFailed handles POST /api/admin/queue/retry-failed
func (h *AdminHandler) RetryFailed(c *fiber.Ctx) error {
	maxJobs := c.QueryInt("maxJobs", 0)
	count, err := h.orchestrator.RetryFailedJobs(c.Context(), maxJobs)
	if err != nil {
		return response.QueueError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"requeued": count})
}

// CleanFailed handles POST /api/admin/queue/clean-failed
func (h *AdminHandler) CleanFailed(c *fiber.Ctx) error {
	maxAge := h.failedMaxAge
	if hours := c.QueryInt("maxAgeHours", 0); hours > 0 {
		maxAge = time.Duration(hours) * time.Hour
	}
	count, err := h.orchestrator.CleanFailedJobs(c.Context(), maxAge)
	if err != nil {
		return response.QueueError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"removed": count})
}

// ConnectionHealth handles GET /api/admin/connection
func (h *AdminHandler) ConnectionHealth(c *fiber.Ctx) error {
	return response.OK(c, h.conn.Health())
}

// ForceReconnect handles POST /api/admin/connection/reconnect
func (h *AdminHandler) ForceReconnect(c *fiber.Ctx) error {
	if err := h.conn.ForceReconnect(c.Context()); err != nil {
		return response.Unavailable(c, err.Error())
	}
	return response.OK(c, h.conn.Health())
}

// ResetAttempts handles POST /api/admin/connection/reset-attempts
func (h *AdminHandler) ResetAttempts(c *fiber.Ctx) error {
	h.conn.ResetConnectionAttempts()
	return response.OK(c, h.conn.Health())
}

// WorkerHealth handles GET /api/admin/worker
func (h *AdminHandler) WorkerHealth(c *fiber.Ctx) error {
	return response.OK(c, h.supervisor.Health())
}
