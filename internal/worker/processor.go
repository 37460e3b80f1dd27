package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"github.com/videoforge/api/internal/config"
	"github.com/videoforge/api/internal/model"
	"github.com/videoforge/api/internal/queue"
	"github.com/videoforge/api/internal/render"
)

// Notifier pushes job lifecycle events to live subscribers.
type Notifier interface {
	NotifyProgress(jobID string, progress int, stage string, status model.JobStatus)
	NotifyComplete(jobID string, outputPath string, outputURL *string)
	NotifyError(jobID string, code, message string)
}

// Uploader publishes a finished render to external storage and returns its
// public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Processor executes render tasks: it keeps the job record in step with the
// pipeline, enforces the per-job time budget, and translates pipeline
// errors into retry decisions for the queue.
type Processor struct {
	store    *queue.Store
	pipeline *render.Pipeline
	notifier Notifier
	uploader Uploader // nil means outputs stay local
	cfg      config.WorkerConfig
}

func NewProcessor(store *queue.Store, pipeline *render.Pipeline, notifier Notifier, uploader Uploader, cfg config.WorkerConfig) *Processor {
	return &Processor{
		store:    store,
		pipeline: pipeline,
		notifier: notifier,
		uploader: uploader,
		cfg:      cfg,
	}
}

// ProcessTask implements asynq.Handler for render tasks.
func (p *Processor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	jobID := task.ResultWriter().TaskID()

	var payload model.RenderJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that does not parse never will; archive immediately.
		p.failJob(ctx, jobID, fmt.Sprintf("invalid payload: %v", err))
		return fmt.Errorf("unmarshal payload for %s: %v: %w", jobID, err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	attempt := retried + 1

	// Progress carries over from a failed attempt so pollers never see it
	// move backwards while the retry catches up.
	job := p.loadOrInitJob(ctx, jobID)
	now := time.Now().UTC()
	job.Status = model.JobStatusActive
	job.CurrentStage = "validating"
	job.FailedReason = nil
	job.ProcessedAt = &now
	job.Attempts = attempt
	_ = p.store.SaveJob(ctx, job)

	log.Info().Str("jobId", jobID).Int("attempt", attempt).Msg("render started")

	if p.cfg.MaxJobTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.MaxJobTime)
		defer cancel()
	}

	sink := render.SinkFunc(func(ctx context.Context, progress int, stage string) {
		job.AdvanceProgress(progress)
		job.CurrentStage = stage
		_ = p.store.SaveJob(ctx, job)
		if p.notifier != nil {
			p.notifier.NotifyProgress(jobID, job.Progress, stage, model.JobStatusActive)
		}
	})

	outPath, err := p.pipeline.Render(ctx, jobID, payload, sink)
	if err != nil {
		return p.handleFailure(ctx, job, err, retried, maxRetry)
	}

	var outURL *string
	if p.uploader != nil {
		url, upErr := p.uploader.Upload(ctx, outPath, jobID)
		if upErr != nil {
			// The render itself succeeded; publish locally and log.
			log.Error().Err(upErr).Str("jobId", jobID).Msg("output upload failed")
		} else {
			outURL = &url
		}
	}

	finished := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.CurrentStage = "completed"
	job.OutputPath = &outPath
	job.OutputURL = outURL
	job.FinishedAt = &finished
	_ = p.store.SaveJob(ctx, job)

	if p.notifier != nil {
		p.notifier.NotifyComplete(jobID, outPath, outURL)
	}
	log.Info().Str("jobId", jobID).Str("output", outPath).Msg("render completed")
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, job *model.RenderJob, err error, retried, maxRetry int) error {
	jobID := job.ID
	retryable := render.Retryable(err)
	final := !retryable || retried >= maxRetry

	log.Error().Err(err).Str("jobId", jobID).Int("attempt", retried+1).
		Bool("retryable", retryable).Bool("final", final).Msg("render failed")

	if final {
		p.failJob(ctx, jobID, err.Error())
		if p.notifier != nil {
			p.notifier.NotifyError(jobID, errorCode(err), err.Error())
		}
	} else {
		// The broker will redeliver; reflect that in the record.
		job.Status = model.JobStatusQueued
		job.CurrentStage = ""
		_ = p.store.SaveJob(ctx, job)
	}

	if !retryable {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (p *Processor) loadOrInitJob(ctx context.Context, jobID string) *model.RenderJob {
	job, err := p.store.GetJob(ctx, jobID)
	if err == nil {
		return job
	}
	// Record lost (expired or written during an outage the fallback did not
	// cover); rebuild what we can from the task itself.
	return &model.RenderJob{ID: jobID, CreatedAt: time.Now().UTC()}
}

func (p *Processor) failJob(ctx context.Context, jobID, reason string) {
	job := p.loadOrInitJob(ctx, jobID)
	finished := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.FailedReason = &reason
	job.FinishedAt = &finished
	_ = p.store.SaveJob(ctx, job)
}

func errorCode(err error) string {
	var empty *render.EmptyProjectError
	var notFound *render.AssetNotFoundError
	var rng *render.SourceRangeError
	var timeout *render.TimeoutError
	var external *render.ExternalProcessError
	switch {
	case errors.As(err, &empty):
		return "EMPTY_PROJECT"
	case errors.As(err, &notFound):
		return "ASSET_NOT_FOUND"
	case errors.As(err, &rng):
		return "SOURCE_OUT_OF_RANGE"
	case errors.As(err, &timeout):
		return "RENDER_TIMEOUT"
	case errors.As(err, &external):
		return "ENCODER_FAILED"
	default:
		return "RENDER_FAILED"
	}
}
