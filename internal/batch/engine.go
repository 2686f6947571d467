package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/task"
)

// insertChunkSize bounds how many task values are staged at once during a
// batch insert.
const insertChunkSize = 50

// Events receives job lifecycle notifications for streaming to clients.
// Implementations must not block; delivery is best-effort and a failing
// listener never affects the job.
type Events interface {
	JobProgress(ctx context.Context, j *Job)
	JobCompleted(ctx context.Context, j *Job)
	JobFailed(ctx context.Context, j *Job)
	// TasksChanged fires after a job's tasks are durably committed.
	TasksChanged(ctx context.Context)
}

type noopEvents struct{}

func (noopEvents) JobProgress(context.Context, *Job)  {}
func (noopEvents) JobCompleted(context.Context, *Job) {}
func (noopEvents) JobFailed(context.Context, *Job)    {}
func (noopEvents) TasksChanged(context.Context)       {}

type EngineConfig struct {
	Tasks  store.TaskStore
	Jobs   *Registry
	Pool   *Pool
	Events Events // optional
	Logger *slog.Logger
}

// Engine runs batch inserts asynchronously: each submission becomes a job
// whose run closure moves it through the lifecycle on a pool worker.
type Engine struct {
	tasks  store.TaskStore
	jobs   *Registry
	pool   *Pool
	events Events
	logger *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	aids.Assert(cfg.Tasks != nil, "engine needs a task store")
	aids.Assert(cfg.Jobs != nil, "engine needs a job registry")
	aids.Assert(cfg.Pool != nil, "engine needs a worker pool")
	if cfg.Events == nil {
		cfg.Events = noopEvents{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{tasks: cfg.Tasks, jobs: cfg.Jobs, pool: cfg.Pool, events: cfg.Events, logger: cfg.Logger}
}

// Submit creates a PENDING job for the (already validated) tasks and hands
// its run closure to the pool. A pool rejection immediately fails the job;
// the returned error then wraps ErrQueueFull or ErrPoolClosed so callers can
// tell the caller-facing "server busy" case from real faults.
func (e *Engine) Submit(ctx context.Context, tasks []task.Task) (*Job, error) {
	j, err := e.jobs.Create(ctx, len(tasks))
	if err != nil {
		return nil, err
	}

	jobID := j.ID
	if err := e.pool.Submit(ctx, func(workerCtx context.Context) {
		e.run(workerCtx, jobID, tasks)
	}); err != nil {
		if _, ferr := e.jobs.FailSubmission(ctx, jobID, err.Error()); ferr != nil {
			e.logger.LogAttrs(ctx, slog.LevelError, "failed to mark rejected job",
				slog.String("jobId", jobID), slog.String("error", ferr.Error()))
		}
		return nil, fmt.Errorf("submit job %s: %w", jobID, err)
	}
	return j, nil
}

// Status returns the job by id.
func (e *Engine) Status(ctx context.Context, id string) (*Job, error) {
	return e.jobs.Find(ctx, id)
}

// RecoverOrphans fails every job a previous process left non-terminal. Must
// run before any transport starts accepting work.
func (e *Engine) RecoverOrphans(ctx context.Context) (int, error) {
	return e.jobs.RecoverOrphans(ctx)
}

// run executes one job on a pool worker: PENDING→RUNNING, chunked insert,
// then COMPLETED or FAILED. Progress events fire at start (0%) and after
// completion (100%); the persisted processedTasks stays authoritative.
func (e *Engine) run(ctx context.Context, jobID string, tasks []task.Task) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			e.logger.LogAttrs(ctx, slog.LevelError, "batch job panicked",
				slog.String("jobId", jobID), slog.Any("panic", v),
				slog.String("stack", string(debug.Stack())))
			if j, err := e.jobs.Fail(ctx, jobID, 0, time.Since(start), "Internal processing error"); err == nil {
				e.events.JobFailed(ctx, j)
			}
		}
	}()

	j, err := e.jobs.Start(ctx, jobID)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "batch job could not start",
			slog.String("jobId", jobID), slog.String("error", err.Error()))
		return
	}
	e.events.JobProgress(ctx, j)

	if err := e.tasks.InsertBatch(ctx, tasks, insertChunkSize); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "batch insert failed",
			slog.String("jobId", jobID), slog.String("error", err.Error()))
		if j, ferr := e.jobs.Fail(ctx, jobID, 0, time.Since(start), "Batch insert failed"); ferr == nil {
			e.events.JobFailed(ctx, j)
		}
		return
	}

	j, err = e.jobs.Complete(ctx, jobID, len(tasks), time.Since(start))
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "batch job could not complete",
			slog.String("jobId", jobID), slog.String("error", err.Error()))
		return
	}
	e.events.JobProgress(ctx, j)
	e.events.JobCompleted(ctx, j)
	e.events.TasksChanged(ctx)
}
