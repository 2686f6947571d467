package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/metrics"
)

// Registry owns every job mutation. Transitions are validated against the
// state machine, persisted, counted, and audited in that order. Workers own
// their job exclusively after submission, so transitions for one job never
// race.
type Registry struct {
	store   JobStore
	audit   *audit.Log
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewRegistry(store JobStore, auditLog *audit.Log, m *metrics.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, audit: auditLog, metrics: m, logger: logger, now: time.Now}
}

// Create persists a new PENDING job for totalTasks tasks.
func (r *Registry) Create(ctx context.Context, totalTasks int) (*Job, error) {
	now := r.now().UTC()
	j := &Job{
		ID:         uuid.NewString(),
		Status:     StatusPending,
		TotalTasks: totalTasks,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.SaveJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	r.metrics.JobEntered(string(StatusPending))
	r.audit.Emit(ctx, audit.Event{
		EventType:   audit.EventBatchJobCreated,
		Success:     true,
		Description: "Batch job created",
		Metadata:    map[string]string{"jobId": j.ID, "totalTasks": strconv.Itoa(totalTasks)},
	})
	return j.Copy(), nil
}

// Start moves the job to RUNNING.
func (r *Registry) Start(ctx context.Context, id string) (*Job, error) {
	j, err := r.transition(ctx, id, StatusRunning, nil)
	if err != nil {
		return nil, err
	}
	r.audit.Emit(ctx, audit.Event{
		EventType:   audit.EventBatchJobStarted,
		Success:     true,
		Description: "Batch job started",
		Metadata:    map[string]string{"jobId": id},
	})
	return j, nil
}

// Complete finishes the job successfully, recording throughput facts.
func (r *Registry) Complete(ctx context.Context, id string, processed int, elapsed time.Duration) (*Job, error) {
	j, err := r.transition(ctx, id, StatusCompleted, func(j *Job) {
		j.ProcessedTasks = processed
		j.DurationMs = elapsed.Milliseconds()
		done := j.UpdatedAt
		j.CompletedAt = &done
	})
	if err != nil {
		return nil, err
	}
	r.audit.Emit(ctx, audit.Event{
		EventType:   audit.EventBatchJobCompleted,
		Success:     true,
		Description: "Batch job completed",
		Metadata: map[string]string{
			"jobId":          id,
			"processedTasks": strconv.Itoa(processed),
			"durationMs":     strconv.FormatInt(j.DurationMs, 10),
		},
	})
	return j, nil
}

// Fail finishes the job unsuccessfully. The message is stored on the job and
// is client-visible through mcp-job-status, so callers pass scrubbed text.
func (r *Registry) Fail(ctx context.Context, id string, processed int, elapsed time.Duration, message string) (*Job, error) {
	j, err := r.transition(ctx, id, StatusFailed, func(j *Job) {
		j.ProcessedTasks = processed
		j.DurationMs = elapsed.Milliseconds()
		j.ErrorMessage = message
		done := j.UpdatedAt
		j.CompletedAt = &done
	})
	if err != nil {
		return nil, err
	}
	r.audit.Emit(ctx, audit.Event{
		EventType:    audit.EventBatchJobFailed,
		Success:      false,
		Description:  "Batch job failed",
		ErrorMessage: message,
		Metadata:     map[string]string{"jobId": id},
	})
	return j, nil
}

// FailSubmission marks a job that never reached a worker, straight from
// PENDING to FAILED.
func (r *Registry) FailSubmission(ctx context.Context, id, message string) (*Job, error) {
	j, err := r.transition(ctx, id, StatusFailed, func(j *Job) {
		j.ErrorMessage = message
		done := j.UpdatedAt
		j.CompletedAt = &done
	})
	if err != nil {
		return nil, err
	}
	r.audit.Emit(ctx, audit.Event{
		EventType:    audit.EventBatchJobFailed,
		Success:      false,
		Description:  "Batch job rejected before execution",
		ErrorMessage: message,
		Metadata:     map[string]string{"jobId": id},
	})
	return j, nil
}

// Find returns the job by id, store.ErrNotFound when unknown.
func (r *Registry) Find(ctx context.Context, id string) (*Job, error) {
	return r.store.FindJob(ctx, id)
}

// RecoverOrphans fails every job left PENDING or RUNNING by a previous
// process. It must complete before any transport accepts work.
func (r *Registry) RecoverOrphans(ctx context.Context) (int, error) {
	orphans, err := r.store.FindJobsInStatuses(ctx, []Status{StatusPending, StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("find orphaned jobs: %w", err)
	}
	recovered := 0
	for i := range orphans {
		j := &orphans[i]
		now := r.now().UTC()
		j.Status = StatusFailed
		j.ErrorMessage = "Server restarted during processing"
		j.UpdatedAt = now
		j.CompletedAt = &now
		if err := r.store.SaveJob(ctx, j); err != nil {
			return recovered, fmt.Errorf("recover job %s: %w", j.ID, err)
		}
		r.metrics.JobEntered(string(StatusFailed))
		recovered++
	}
	if recovered > 0 {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "recovered orphaned jobs", slog.Int("count", recovered))
		r.audit.Emit(ctx, audit.Event{
			EventType:   audit.EventOrphanedJobsRecovered,
			Success:     true,
			Description: "Orphaned jobs marked FAILED on startup",
			Metadata:    map[string]string{"count": strconv.Itoa(recovered)},
		})
	}
	return recovered, nil
}

func (r *Registry) transition(ctx context.Context, id string, next Status, mutate func(*Job)) (*Job, error) {
	j, err := r.store.FindJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if !j.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("job %s: illegal transition %s to %s", id, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = r.now().UTC()
	if mutate != nil {
		mutate(j)
	}
	if err := r.store.SaveJob(ctx, j); err != nil {
		return nil, fmt.Errorf("save job %s: %w", id, err)
	}
	r.metrics.JobEntered(string(next))
	return j, nil
}
