package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/model"
)

// TaskTypeRender is the asynq task type carrying a render payload.
const TaskTypeRender = "render:job"

// Priority queues and their scheduling weights. With weights 6/3/1 the
// worker drains critical first without starving the lower tiers.
const (
	QueueCritical = "render:critical"
	QueueDefault  = "render:default"
	QueueLow      = "render:low"
)

var QueueWeights = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

var allQueues = []string{QueueCritical, QueueDefault, QueueLow}

func queueForPriority(p model.Priority) string {
	switch p {
	case model.PriorityCritical:
		return QueueCritical
	case model.PriorityLow:
		return QueueLow
	default:
		return QueueDefault
	}
}

// Orchestrator is the job-facing queue API: submit, inspect, pause, retry
// and clean. Task scheduling is the broker's job via asynq; the orchestrator
// keeps the per-job record in the Store in step with it.
type Orchestrator struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	store     *Store
	cfg       config.QueueConfig
}

func NewOrchestrator(redisOpt asynq.RedisConnOpt, store *Store, cfg config.QueueConfig) *Orchestrator {
	return &Orchestrator{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		store:     store,
		cfg:       cfg,
	}
}

// AddJob validates and enqueues a render job. Submitting an ID that is
// already queued is not an error: the existing job is returned untouched,
// so client retries after a lost response stay safe.
func (o *Orchestrator) AddJob(ctx context.Context, req *model.SubmitJobRequest) (*model.RenderJob, error) {
	if err := req.ExportSettings.Validate(); err != nil {
		return nil, err
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	payload, err := json.Marshal(model.RenderJobPayload{
		ProjectData:    req.ProjectData,
		ExportSettings: req.ExportSettings,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	maxRetry := o.cfg.MaxAttempts - 1
	if maxRetry < 0 {
		maxRetry = 0
	}
	opts := []asynq.Option{
		asynq.TaskID(jobID),
		asynq.Queue(queueForPriority(req.Priority)),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(o.cfg.MaxProcessingTime),
		asynq.Retention(o.cfg.Retention),
	}

	status := model.JobStatusQueued
	if req.DelaySeconds > 0 {
		opts = append(opts, asynq.ProcessIn(time.Duration(req.DelaySeconds)*time.Second))
		status = model.JobStatusDelayed
	}

	task := asynq.NewTask(TaskTypeRender, payload)
	if _, err := o.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			existing, getErr := o.store.GetJob(ctx, jobID)
			if getErr == nil {
				log.Debug().Str("jobId", jobID).Msg("duplicate submission, returning existing job")
				return existing, nil
			}
		}
		return nil, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}

	job := &model.RenderJob{
		ID:        jobID,
		Status:    status,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	log.Info().Str("jobId", jobID).Str("queue", queueForPriority(req.Priority)).
		Int("delaySeconds", req.DelaySeconds).Msg("job enqueued")
	return job, nil
}

// GetJob returns the persisted record for a job.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*model.RenderJob, error) {
	return o.store.GetJob(ctx, id)
}

// GetJobCounts aggregates queue depth per state across every priority
// queue. Queues asynq has never seen are counted as empty.
func (o *Orchestrator) GetJobCounts(ctx context.Context) (model.JobCounts, error) {
	var counts model.JobCounts
	for _, q := range allQueues {
		info, err := o.inspector.GetQueueInfo(q)
		if err != nil {
			if isQueueNotFound(err) {
				continue
			}
			return model.JobCounts{}, fmt.Errorf("queue info %s: %w", q, err)
		}
		counts.Queued += info.Pending + info.Retry
		counts.Active += info.Active
		counts.Completed += info.Completed
		counts.Failed += info.Archived
		counts.Delayed += info.Scheduled
	}
	return counts, nil
}

// LongestActiveProcessing reports how long the longest-running active task
// has been processing. Active tasks carry a deadline of start time plus
// timeout, which recovers when they started.
func (o *Orchestrator) LongestActiveProcessing(ctx context.Context) (time.Duration, error) {
	now := time.Now()
	var longest time.Duration
	for _, q := range allQueues {
		for page := 1; ; page++ {
			tasks, err := o.inspector.ListActiveTasks(q, asynq.PageSize(100), asynq.Page(page))
			if err != nil {
				if isQueueNotFound(err) {
					break
				}
				return 0, fmt.Errorf("list active %s: %w", q, err)
			}
			for _, t := range tasks {
				if age, ok := activeProcessingAge(now, t); ok && age > longest {
					longest = age
				}
			}
			if len(tasks) < 100 {
				break
			}
		}
	}
	return longest, nil
}

func activeProcessingAge(now time.Time, t *asynq.TaskInfo) (time.Duration, bool) {
	if t.Deadline.IsZero() || t.Timeout <= 0 {
		return 0, false
	}
	return now.Sub(t.Deadline.Add(-t.Timeout)), true
}

// Pause stops delivery from every priority queue. Jobs already running
// finish; nothing new starts until Resume.
func (o *Orchestrator) Pause(ctx context.Context) error {
	for _, q := range allQueues {
		info, err := o.inspector.GetQueueInfo(q)
		if err != nil {
			if isQueueNotFound(err) {
				continue
			}
			return fmt.Errorf("pause %s: %w", q, err)
		}
		if info.Paused {
			continue
		}
		if err := o.inspector.PauseQueue(q); err != nil {
			return fmt.Errorf("pause %s: %w", q, err)
		}
	}
	log.Info().Msg("queue paused")
	return nil
}

// Resume re-enables delivery on every priority queue.
func (o *Orchestrator) Resume(ctx context.Context) error {
	for _, q := range allQueues {
		info, err := o.inspector.GetQueueInfo(q)
		if err != nil {
			if isQueueNotFound(err) {
				continue
			}
			return fmt.Errorf("resume %s: %w", q, err)
		}
		if !info.Paused {
			continue
		}
		if err := o.inspector.UnpauseQueue(q); err != nil {
			return fmt.Errorf("resume %s: %w", q, err)
		}
	}
	log.Info().Msg("queue resumed")
	return nil
}

// Paused reports whether any priority queue is currently paused.
func (o *Orchestrator) Paused(ctx context.Context) (bool, error) {
	for _, q := range allQueues {
		info, err := o.inspector.GetQueueInfo(q)
		if err != nil {
			if isQueueNotFound(err) {
				continue
			}
			return false, err
		}
		if info.Paused {
			return true, nil
		}
	}
	return false, nil
}

// RetryFailedJobs moves archived tasks back to their queues for another
// run, oldest failures first, and resets the job records. maxJobs bounds
// how many are requeued; zero or negative means no bound. Returns how many
// were requeued.
func (o *Orchestrator) RetryFailedJobs(ctx context.Context, maxJobs int) (int, error) {
	type archived struct {
		queue string
		task  *asynq.TaskInfo
	}
	var candidates []archived
	for _, q := range allQueues {
		tasks, err := o.listArchived(q)
		if err != nil {
			return 0, err
		}
		for _, t := range tasks {
			candidates = append(candidates, archived{queue: q, task: t})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].task.LastFailedAt.Before(candidates[j].task.LastFailedAt)
	})
	if maxJobs > 0 && len(candidates) > maxJobs {
		candidates = candidates[:maxJobs]
	}

	requeued := 0
	for _, c := range candidates {
		if err := o.inspector.RunTask(c.queue, c.task.ID); err != nil {
			log.Warn().Err(err).Str("jobId", c.task.ID).Msg("retry of archived task failed")
			continue
		}
		// Progress is left where the failed attempt got to; it reads as
		// non-decreasing over the job's whole lifetime.
		if job, err := o.store.GetJob(ctx, c.task.ID); err == nil {
			job.Status = model.JobStatusQueued
			job.CurrentStage = ""
			job.FailedReason = nil
			job.FinishedAt = nil
			_ = o.store.SaveJob(ctx, job)
		}
		requeued++
	}
	if requeued > 0 {
		log.Info().Int("count", requeued).Msg("failed jobs requeued")
	}
	return requeued, nil
}

// CleanFailedJobs drops archived tasks older than maxAge along with their
// records. Returns how many were removed.
func (o *Orchestrator) CleanFailedJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, q := range allQueues {
		tasks, err := o.listArchived(q)
		if err != nil {
			return removed, err
		}
		for _, t := range tasks {
			if !t.LastFailedAt.IsZero() && t.LastFailedAt.After(cutoff) {
				continue
			}
			if err := o.inspector.DeleteTask(q, t.ID); err != nil {
				log.Warn().Err(err).Str("jobId", t.ID).Msg("archived task delete failed")
				continue
			}
			_ = o.store.DeleteJob(ctx, t.ID)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("count", removed).Msg("stale failed jobs cleaned")
	}
	return removed, nil
}

func (o *Orchestrator) listArchived(q string) ([]*asynq.TaskInfo, error) {
	var all []*asynq.TaskInfo
	for page := 1; ; page++ {
		tasks, err := o.inspector.ListArchivedTasks(q, asynq.PageSize(100), asynq.Page(page))
		if err != nil {
			if isQueueNotFound(err) {
				return all, nil
			}
			return all, fmt.Errorf("list archived %s: %w", q, err)
		}
		all = append(all, tasks...)
		if len(tasks) < 100 {
			return all, nil
		}
	}
}

func isQueueNotFound(err error) bool {
	return errors.Is(err, asynq.ErrQueueNotFound)
}

// Close releases the asynq client and inspector connections.
func (o *Orchestrator) Close() error {
	cerr := o.client.Close()
	ierr := o.inspector.Close()
	if cerr != nil {
		return cerr
	}
	return ierr
}
