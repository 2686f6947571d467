// Package batch implements the asynchronous batch job engine: the job model
// and its store contract, the registry owning job state transitions, the
// bounded worker pool, the chunked inserter, and the engine gluing them.
package batch

import (
	"context"
	"time"
)

// Status is the lifecycle state of a batch job. Legal transitions are
// PENDING→RUNNING, RUNNING→COMPLETED, RUNNING→FAILED, and PENDING→FAILED
// (pool rejection); nothing else.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// CanTransitionTo reports whether the state machine permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Job is the unit of asynchronous work. All mutation goes through the
// Registry; everything else sees copies.
type Job struct {
	ID             string     `json:"id" db:"id"`
	Status         Status     `json:"status" db:"status"`
	TotalTasks     int        `json:"totalTasks" db:"total_tasks"`
	ProcessedTasks int        `json:"processedTasks" db:"processed_tasks"`
	DurationMs     int64      `json:"durationMs,omitempty" db:"duration_ms"`
	ErrorMessage   string     `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
	CompletedAt    *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

// Copy returns a deep copy of j.
func (j *Job) Copy() *Job {
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ProgressPercent derives the completion percentage; ok is false when the job
// has no tasks to measure against.
func (j *Job) ProgressPercent() (pct int, ok bool) {
	if j.TotalTasks <= 0 {
		return 0, false
	}
	return j.ProcessedTasks * 100 / j.TotalTasks, true
}

// TasksPerSecond derives throughput; ok is false until both processed count
// and duration are positive.
func (j *Job) TasksPerSecond() (rate float64, ok bool) {
	if j.ProcessedTasks <= 0 || j.DurationMs <= 0 {
		return 0, false
	}
	return float64(j.ProcessedTasks) * 1000 / float64(j.DurationMs), true
}

// JobStore is the persistence contract for jobs. Implementations return
// store.ErrNotFound for unknown ids.
type JobStore interface {
	SaveJob(ctx context.Context, j *Job) error
	FindJob(ctx context.Context, id string) (*Job, error)
	FindJobsInStatuses(ctx context.Context, statuses []Status) ([]Job, error)
}
