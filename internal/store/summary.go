package store

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmcp/tasksvr/internal/task"
)

// TaskSummary is the aggregate view served by the mcp-tasks-summary tool and
// the db://stats resource.
type TaskSummary struct {
	TotalCount      int64                 `json:"totalCount"`
	CountByStatus   map[task.Status]int64 `json:"countByStatus"`
	EarliestDueDate *task.Date            `json:"earliestDueDate,omitempty"`
	LatestDueDate   *task.Date            `json:"latestDueDate,omitempty"`
	GeneratedAt     time.Time             `json:"generatedAt"`
}

// Summarize aggregates counts by status and the due-date bounds. Statuses
// with no tasks are reported explicitly with count 0.
func Summarize(ctx context.Context, ts TaskStore) (*TaskSummary, error) {
	counts, err := ts.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	earliest, latest, err := ts.DueDateBounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("due date bounds: %w", err)
	}

	s := &TaskSummary{
		CountByStatus:   make(map[task.Status]int64, 3),
		EarliestDueDate: earliest,
		LatestDueDate:   latest,
		GeneratedAt:     time.Now().UTC(),
	}
	for _, st := range task.Statuses() {
		n := counts[st]
		s.CountByStatus[st] = n
		s.TotalCount += n
	}
	return s, nil
}
