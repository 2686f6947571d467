package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/task"
)

var ctx = context.Background()

func newTask(title string, status task.Status, due string) task.Task {
	t := task.Task{Title: title, Status: status}
	if due != "" {
		d, err := task.ParseDate(due)
		if err != nil {
			panic(err)
		}
		t.DueDate = &d
	}
	return t
}

func TestSaveAssignsStoreFields(t *testing.T) {
	s := New()
	tk := newTask("first", task.StatusTodo, "")
	require.NoError(t, s.Save(ctx, &tk))
	require.Equal(t, int64(1), tk.ID)
	require.False(t, tk.CreatedAt.IsZero())
	require.Equal(t, tk.CreatedAt, tk.UpdatedAt)

	tk2 := newTask("second", task.StatusDone, "")
	require.NoError(t, s.Save(ctx, &tk2))
	require.Equal(t, int64(2), tk2.ID, "ids are monotonic")
}

func TestFindByIDCopiesOut(t *testing.T) {
	s := New()
	tk := newTask("stored", task.StatusTodo, "2026-06-01")
	require.NoError(t, s.Save(ctx, &tk))

	got, err := s.FindByID(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, "stored", got.Title)

	// Mutating the returned copy must not alter stored state.
	got.Title = "mutated"
	*got.DueDate, _ = task.ParseDate("1999-01-01")
	again, err := s.FindByID(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, "stored", again.Title)
	require.Equal(t, "2026-06-01", again.DueDate.String())

	_, err = s.FindByID(ctx, 999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListPagingAndFilter(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		st := task.StatusTodo
		if i%2 == 1 {
			st = task.StatusDone
		}
		tk := newTask("t", st, "")
		require.NoError(t, s.Save(ctx, &tk))
	}

	tasks, total, err := s.List(ctx, store.ListQuery{Page: 0, PageSize: 3})
	require.NoError(t, err)
	require.Equal(t, int64(10), total)
	require.Len(t, tasks, 3)
	require.Equal(t, int64(1), tasks[0].ID)

	// Pages compose back to the full set, in id order.
	var all []int64
	for page := 0; ; page++ {
		tasks, _, err := s.List(ctx, store.ListQuery{Page: page, PageSize: 3})
		require.NoError(t, err)
		if len(tasks) == 0 {
			break
		}
		for _, tk := range tasks {
			all = append(all, tk.ID)
		}
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, all)

	// Beyond the end: empty page, correct total.
	tasks, total, err = s.List(ctx, store.ListQuery{Page: 99, PageSize: 3})
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.Equal(t, int64(10), total)

	done := task.StatusDone
	tasks, total, err = s.List(ctx, store.ListQuery{Page: 0, PageSize: 100, Status: &done})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, tasks, 5)
	for _, tk := range tasks {
		require.Equal(t, task.StatusDone, tk.Status)
	}
}

func TestCountByStatusAndSummary(t *testing.T) {
	s := New()
	for _, st := range []task.Status{task.StatusTodo, task.StatusTodo, task.StatusDone} {
		tk := newTask("t", st, "")
		require.NoError(t, s.Save(ctx, &tk))
	}

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, map[task.Status]int64{task.StatusTodo: 2, task.StatusDone: 1}, counts)

	sum, err := store.Summarize(ctx, s)
	require.NoError(t, err)
	require.Equal(t, int64(3), sum.TotalCount)
	require.Equal(t, int64(0), sum.CountByStatus[task.StatusInProgress], "missing statuses report 0")
	require.Nil(t, sum.EarliestDueDate)
}

func TestDueDateBounds(t *testing.T) {
	s := New()
	e, l, err := s.DueDateBounds(ctx)
	require.NoError(t, err)
	require.Nil(t, e)
	require.Nil(t, l)

	for _, due := range []string{"2026-03-15", "2026-01-01", "2026-12-31", ""} {
		tk := newTask("t", task.StatusTodo, due)
		require.NoError(t, s.Save(ctx, &tk))
	}
	e, l, err = s.DueDateBounds(ctx)
	require.NoError(t, err)
	require.Equal(t, "2026-01-01", e.String())
	require.Equal(t, "2026-12-31", l.String())
}

func TestInsertBatch(t *testing.T) {
	s := New()
	seed := newTask("seed", task.StatusTodo, "")
	require.NoError(t, s.Save(ctx, &seed))

	tasks := make([]task.Task, 120)
	for i := range tasks {
		tasks[i] = newTask("bulk", task.StatusTodo, "")
	}
	require.NoError(t, s.InsertBatch(ctx, tasks, 50))

	all, err := s.FindAll(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 121)
	require.Equal(t, int64(121), all[120].ID)

	// The input slice is not given ids; the store works on copies.
	require.Zero(t, tasks[0].ID)
}

func TestInsertBatchCancelledContextInsertsNothing(t *testing.T) {
	s := New()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	err := s.InsertBatch(cancelled, []task.Task{newTask("t", task.StatusTodo, "")}, 50)
	require.Error(t, err)

	all, err := s.FindAll(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestJobRoundTrip(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	j := &batch.Job{ID: "job-1", Status: batch.StatusPending, TotalTasks: 5, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveJob(ctx, j))

	got, err := s.FindJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, j, got)

	// Stored state is isolated from later mutation of either copy.
	got.Status = batch.StatusFailed
	again, err := s.FindJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, batch.StatusPending, again.Status)

	_, err = s.FindJob(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindJobsInStatuses(t *testing.T) {
	s := New()
	for i, st := range []batch.Status{batch.StatusPending, batch.StatusRunning, batch.StatusCompleted, batch.StatusFailed} {
		require.NoError(t, s.SaveJob(ctx, &batch.Job{ID: string(rune('a' + i)), Status: st}))
	}

	jobs, err := s.FindJobsInStatuses(ctx, []batch.Status{batch.StatusPending, batch.StatusRunning})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.False(t, j.Status.Terminal())
	}

	jobs, err = s.FindJobsInStatuses(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, jobs)
}
