package batch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/store/memstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func auditRecorder() (*audit.Log, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return audit.NewWithWriter(audit.Config{Enabled: true}, buf), buf
}

func auditEventTypes(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	types := []string{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var rec struct {
			Msg string `json:"msg"`
		}
		require.NoError(t, dec.Decode(&rec))
		types = append(types, rec.Msg)
	}
	return types
}

func TestRegistryLifecycle(t *testing.T) {
	log, buf := auditRecorder()
	reg := batch.NewRegistry(memstore.New(), log, nil, testLogger())
	ctx := context.Background()

	j, err := reg.Create(ctx, 40)
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)
	require.Equal(t, batch.StatusPending, j.Status)
	require.Equal(t, 40, j.TotalTasks)
	require.Nil(t, j.CompletedAt)

	j, err = reg.Start(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, batch.StatusRunning, j.Status)

	j, err = reg.Complete(ctx, j.ID, 40, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, batch.StatusCompleted, j.Status)
	require.Equal(t, 40, j.ProcessedTasks)
	require.Equal(t, int64(2000), j.DurationMs)
	require.NotNil(t, j.CompletedAt)

	require.Equal(t,
		[]string{"BATCH_JOB_CREATED", "BATCH_JOB_STARTED", "BATCH_JOB_COMPLETED"},
		auditEventTypes(t, buf))
}

func TestRegistryFail(t *testing.T) {
	log, buf := auditRecorder()
	reg := batch.NewRegistry(memstore.New(), log, nil, testLogger())
	ctx := context.Background()

	j, err := reg.Create(ctx, 10)
	require.NoError(t, err)
	_, err = reg.Start(ctx, j.ID)
	require.NoError(t, err)

	j, err = reg.Fail(ctx, j.ID, 0, 50*time.Millisecond, "Batch insert failed")
	require.NoError(t, err)
	require.Equal(t, batch.StatusFailed, j.Status)
	require.Equal(t, "Batch insert failed", j.ErrorMessage)
	require.NotNil(t, j.CompletedAt)

	require.Equal(t,
		[]string{"BATCH_JOB_CREATED", "BATCH_JOB_STARTED", "BATCH_JOB_FAILED"},
		auditEventTypes(t, buf))
}

func TestRegistryFailSubmission(t *testing.T) {
	reg := batch.NewRegistry(memstore.New(), nil, nil, testLogger())
	ctx := context.Background()

	j, err := reg.Create(ctx, 10)
	require.NoError(t, err)
	j, err = reg.FailSubmission(ctx, j.ID, "executor queue full")
	require.NoError(t, err)
	require.Equal(t, batch.StatusFailed, j.Status)
	require.Equal(t, "executor queue full", j.ErrorMessage)
	require.Zero(t, j.ProcessedTasks)
}

func TestRegistryRejectsIllegalTransitions(t *testing.T) {
	reg := batch.NewRegistry(memstore.New(), nil, nil, testLogger())
	ctx := context.Background()

	j, err := reg.Create(ctx, 1)
	require.NoError(t, err)

	_, err = reg.Complete(ctx, j.ID, 1, time.Second)
	require.ErrorContains(t, err, "illegal transition PENDING to COMPLETED")

	_, err = reg.Start(ctx, j.ID)
	require.NoError(t, err)
	_, err = reg.Complete(ctx, j.ID, 1, time.Second)
	require.NoError(t, err)

	_, err = reg.Fail(ctx, j.ID, 0, time.Second, "too late")
	require.ErrorContains(t, err, "illegal transition COMPLETED to FAILED")
}

func TestRegistryFindUnknownJob(t *testing.T) {
	reg := batch.NewRegistry(memstore.New(), nil, nil, testLogger())
	_, err := reg.Find(context.Background(), "no-such-job")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecoverOrphans(t *testing.T) {
	st := memstore.New()
	log, buf := auditRecorder()
	reg := batch.NewRegistry(st, log, nil, testLogger())
	ctx := context.Background()

	seed := func(id string, status batch.Status) {
		t.Helper()
		now := time.Now().UTC()
		require.NoError(t, st.SaveJob(ctx, &batch.Job{
			ID: id, Status: status, TotalTasks: 5, CreatedAt: now, UpdatedAt: now,
		}))
	}
	seed("pending-1", batch.StatusPending)
	seed("running-1", batch.StatusRunning)
	seed("done-1", batch.StatusCompleted)

	n, err := reg.RecoverOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []string{"pending-1", "running-1"} {
		j, err := reg.Find(ctx, id)
		require.NoError(t, err)
		require.Equal(t, batch.StatusFailed, j.Status)
		require.Equal(t, "Server restarted during processing", j.ErrorMessage)
		require.NotNil(t, j.CompletedAt)
	}
	j, err := reg.Find(ctx, "done-1")
	require.NoError(t, err)
	require.Equal(t, batch.StatusCompleted, j.Status, "terminal jobs are untouched")

	require.Equal(t, []string{"ORPHANED_JOBS_RECOVERED"}, auditEventTypes(t, buf))
}

func TestRecoverOrphansNoopWhenClean(t *testing.T) {
	log, buf := auditRecorder()
	reg := batch.NewRegistry(memstore.New(), log, nil, testLogger())
	n, err := reg.RecoverOrphans(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, auditEventTypes(t, buf), "nothing recovered, nothing audited")
}
