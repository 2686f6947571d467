// Package pgstore is the PostgreSQL implementation of the store contracts,
// selected when DB_HOST is configured. Batch inserts run chunked inside one
// transaction per job, so a failed job leaves no partial rows behind.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/task"
)

//go:embed migrations/*.sql
var migrations embed.FS

const taskColumns = "id, title, description, status, due_date, created_at, updated_at"
const jobColumns = "id, status, total_tasks, processed_tasks, duration_ms, error_message, created_at, updated_at, completed_at"

type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects, verifies the connection, and applies any pending embedded
// migrations before returning the store.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "postgres store ready")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ctx context.Context, t *task.Task) error {
	const q = `INSERT INTO tasks (title, description, status, due_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	row := s.db.QueryRowxContext(ctx, q, t.Title, t.Description, t.Status, t.DueDate)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*task.Task, error) {
	var t task.Task
	err := s.db.GetContext(ctx, &t, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task %d: %w", id, err)
	}
	return &t, nil
}

func (s *Store) FindAll(ctx context.Context, limit int) ([]task.Task, error) {
	q := "SELECT " + taskColumns + " FROM tasks ORDER BY id ASC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}
	tasks := []task.Task{}
	if err := s.db.SelectContext(ctx, &tasks, q, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) List(ctx context.Context, q store.ListQuery) ([]task.Task, int64, error) {
	sel, count, args := listSQL(q)

	var total int64
	if err := s.db.GetContext(ctx, &total, count, args...); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	tasks := []task.Task{}
	if err := s.db.SelectContext(ctx, &tasks, sel, append(args, q.PageSize, q.Offset())...); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, total, nil
}

// listSQL builds the paged select and its count twin. The filter args are
// shared; limit and offset bind after them.
func listSQL(q store.ListQuery) (sel, count string, args []any) {
	where := ""
	if q.Status != nil {
		where = " WHERE status = $1"
		args = append(args, *q.Status)
	}
	n := len(args)
	sel = fmt.Sprintf("SELECT %s FROM tasks%s ORDER BY id ASC LIMIT $%d OFFSET $%d", taskColumns, where, n+1, n+2)
	count = "SELECT COUNT(*) FROM tasks" + where
	return sel, count, args
}

func (s *Store) CountByStatus(ctx context.Context) (map[task.Status]int64, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT status, COUNT(*) AS n FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := map[task.Status]int64{}
	for rows.Next() {
		var st task.Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count by status: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func (s *Store) DueDateBounds(ctx context.Context) (earliest, latest *task.Date, err error) {
	var lo, hi sql.NullTime
	if err := s.db.QueryRowxContext(ctx, "SELECT MIN(due_date), MAX(due_date) FROM tasks").Scan(&lo, &hi); err != nil {
		return nil, nil, fmt.Errorf("due date bounds: %w", err)
	}
	if lo.Valid {
		d := task.NewDate(lo.Time.Year(), lo.Time.Month(), lo.Time.Day())
		earliest = &d
	}
	if hi.Valid {
		d := task.NewDate(hi.Time.Year(), hi.Time.Month(), hi.Time.Day())
		latest = &d
	}
	return earliest, latest, nil
}

// InsertBatch writes the tasks in multi-row chunks inside one transaction.
// Only one chunk's bind values are built at a time.
func (s *Store) InsertBatch(ctx context.Context, tasks []task.Task, chunkSize int) error {
	if len(tasks) == 0 {
		return nil
	}
	if chunkSize < 1 {
		chunkSize = 50
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	for lo := 0; lo < len(tasks); lo += chunkSize {
		hi := min(lo+chunkSize, len(tasks))
		q, args := insertChunkSQL(tasks[lo:hi])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert chunk at %d: %w", lo, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return nil
}

// insertChunkSQL builds one multi-row INSERT for the chunk: four binds per
// row, timestamps assigned by the database.
func insertChunkSQL(chunk []task.Task) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO tasks (title, description, status, due_date) VALUES ")
	args := make([]any, 0, len(chunk)*4)
	for i := range chunk {
		if i > 0 {
			b.WriteByte(',')
		}
		n := i * 4
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, chunk[i].Title, chunk[i].Description, chunk[i].Status, chunk[i].DueDate)
	}
	return b.String(), args
}

func (s *Store) SaveJob(ctx context.Context, j *batch.Job) error {
	const q = `INSERT INTO batch_jobs (` + jobColumns + `)
		VALUES (:id, :status, :total_tasks, :processed_tasks, :duration_ms, :error_message, :created_at, :updated_at, :completed_at)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_tasks = EXCLUDED.total_tasks,
			processed_tasks = EXCLUDED.processed_tasks,
			duration_ms = EXCLUDED.duration_ms,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`
	if _, err := s.db.NamedExecContext(ctx, q, j); err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Store) FindJob(ctx context.Context, id string) (*batch.Job, error) {
	var j batch.Job
	err := s.db.GetContext(ctx, &j, "SELECT "+jobColumns+" FROM batch_jobs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return &j, nil
}

func (s *Store) FindJobsInStatuses(ctx context.Context, statuses []batch.Status) ([]batch.Job, error) {
	if len(statuses) == 0 {
		return []batch.Job{}, nil
	}
	q, args, err := sqlx.In("SELECT "+jobColumns+" FROM batch_jobs WHERE status IN (?)", statuses)
	if err != nil {
		return nil, fmt.Errorf("build job query: %w", err)
	}
	jobs := []batch.Job{}
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("find jobs by status: %w", err)
	}
	return jobs, nil
}
