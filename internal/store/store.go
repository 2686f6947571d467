// Package store defines the persistence contract the core consumes. Two
// implementations exist: memstore (in-memory, the stdio/test default) and
// pgstore (PostgreSQL, selected when DB_HOST is set).
package store

import (
	"context"
	"errors"

	"github.com/taskmcp/tasksvr/internal/task"
)

// ErrNotFound is returned for lookups of ids that do not exist.
var ErrNotFound = errors.New("not found")

// ListQuery selects a page of tasks, optionally filtered by status. Results
// are always ordered by id ascending.
type ListQuery struct {
	Page     int
	PageSize int
	Status   *task.Status
}

// Offset returns the first row index of the page.
func (q ListQuery) Offset() int { return q.Page * q.PageSize }

// TaskStore persists tasks. Save assigns ID, CreatedAt, and UpdatedAt.
// InsertBatch is atomic per call: either every task is persisted or none.
type TaskStore interface {
	Save(ctx context.Context, t *task.Task) error
	FindByID(ctx context.Context, id int64) (*task.Task, error)
	FindAll(ctx context.Context, limit int) ([]task.Task, error)
	List(ctx context.Context, q ListQuery) (tasks []task.Task, total int64, err error)
	CountByStatus(ctx context.Context) (map[task.Status]int64, error)
	DueDateBounds(ctx context.Context) (earliest, latest *task.Date, err error)
	InsertBatch(ctx context.Context, tasks []task.Task, chunkSize int) error
}
