// Package memstore is the in-memory store used by stdio mode, development,
// and tests. Data is copied on the way in and out so callers can never
// mutate stored state, and batch inserts commit under one lock so readers
// observe either none or all of a job's tasks.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/task"
)

type Store struct {
	mu     sync.RWMutex
	tasks  []task.Task // ids are assigned monotonically, so the slice stays sorted
	nextID int64
	jobs   map[string]*batch.Job
	now    func() time.Time
}

func New() *Store {
	return &Store{jobs: map[string]*batch.Job{}, now: time.Now}
}

func copyTask(t task.Task) task.Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

// stamp assigns the store-owned fields of a new row.
func (s *Store) stamp(t *task.Task) {
	s.nextID++
	now := s.now().UTC()
	t.ID, t.CreatedAt, t.UpdatedAt = s.nextID, now, now
}

func (s *Store) Save(ctx context.Context, t *task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp(t)
	s.tasks = append(s.tasks, copyTask(*t))
	return nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := slices.BinarySearchFunc(s.tasks, id, func(t task.Task, id int64) int {
		return int(t.ID - id)
	})
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := copyTask(s.tasks[i])
	return &cp, nil
}

func (s *Store) FindAll(ctx context.Context, limit int) ([]task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.tasks)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]task.Task, 0, n)
	for _, t := range s.tasks[:n] {
		out = append(out, copyTask(t))
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, q store.ListQuery) ([]task.Task, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if q.Status == nil || t.Status == *q.Status {
			matched = append(matched, t)
		}
	}
	total := int64(len(matched))

	lo := q.Offset()
	if lo >= len(matched) {
		return []task.Task{}, total, nil
	}
	hi := min(lo+q.PageSize, len(matched))
	out := make([]task.Task, 0, hi-lo)
	for _, t := range matched[lo:hi] {
		out = append(out, copyTask(t))
	}
	return out, total, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[task.Status]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[task.Status]int64{}
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *Store) DueDateBounds(ctx context.Context) (earliest, latest *task.Date, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.DueDate == nil {
			continue
		}
		d := *t.DueDate
		if earliest == nil || d.Before(*earliest) {
			e := d
			earliest = &e
		}
		if latest == nil || d.After(*latest) {
			l := d
			latest = &l
		}
	}
	return earliest, latest, nil
}

// InsertBatch stages every row and commits them under one lock, mirroring the
// per-job transaction of the SQL store. A cancelled context aborts with
// nothing persisted.
func (s *Store) InsertBatch(ctx context.Context, tasks []task.Task, chunkSize int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := make([]task.Task, 0, len(tasks))
	for i := range tasks {
		cp := copyTask(tasks[i])
		s.stamp(&cp)
		staged = append(staged, cp)
	}
	s.tasks = append(s.tasks, staged...)
	return nil
}

func (s *Store) SaveJob(ctx context.Context, j *batch.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.Copy()
	return nil
}

func (s *Store) FindJob(ctx context.Context, id string) (*batch.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return j.Copy(), nil
}

func (s *Store) FindJobsInStatuses(ctx context.Context, statuses []batch.Status) ([]batch.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []batch.Job{}
	for _, j := range s.jobs {
		if slices.Contains(statuses, j.Status) {
			out = append(out, *j.Copy())
		}
	}
	return out, nil
}
