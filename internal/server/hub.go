package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/mcp"
)

const defaultSessionBuffer = 16

// Event is one server-push frame. A named event maps to an SSE "event:"
// line; an unnamed event carries a raw JSON-RPC message, which SSE delivers
// as a default message frame and STDIO writes as a line.
type Event struct {
	Name string
	Data []byte
}

// Session is one attached push consumer. The hub never blocks on a session:
// when its buffer is full, events are dropped.
type Session struct {
	ID string

	ch   chan Event
	done chan struct{}
	once sync.Once
}

// Events is the frame stream. The channel is never closed; consumers must
// also select on Done.
func (s *Session) Events() <-chan Event { return s.ch }

// Done is closed when the session is removed from the hub.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() { s.once.Do(func() { close(s.done) }) }

// Hub fans server-initiated events out to every attached session. It is the
// batch engine's Events sink: job lifecycle events become the custom SSE
// frames, and the after-commit signal becomes a resources/list_changed
// JSON-RPC notification.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu       sync.RWMutex
	sessions map[string]*Session
}

type HubConfig struct {
	Logger *slog.Logger
	Buffer int // per-session queue length, defaulted when <= 0
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultSessionBuffer
	}
	return &Hub{logger: cfg.Logger, buffer: cfg.Buffer, sessions: map[string]*Session{}}
}

// Register attaches a new session and returns it. The caller owns draining
// Events until Done closes, then calling CloseSession.
func (h *Hub) Register() *Session {
	s := &Session{ID: uuid.NewString(), ch: make(chan Event, h.buffer), done: make(chan struct{})}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	return s
}

// CloseSession detaches the named session and reports whether it existed.
// Safe to call more than once.
func (h *Hub) CloseSession(id string) bool {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// Shutdown detaches every session. Used on server stop so streams end with
// a clean close instead of a cut connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = map[string]*Session{}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

func (h *Hub) sessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// publish offers an event to every session, dropping it where a consumer
// has fallen behind.
func (h *Hub) publish(ctx context.Context, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		select {
		case s.ch <- ev:
		default:
			h.logger.LogAttrs(ctx, slog.LevelDebug, "dropping event for slow session",
				slog.String("sessionId", s.ID), slog.String("event", ev.Name))
		}
	}
}

type jobEventPayload struct {
	JobID           string       `json:"jobId"`
	Status          batch.Status `json:"status"`
	TotalTasks      int          `json:"totalTasks"`
	ProcessedTasks  int          `json:"processedTasks"`
	ProgressPercent int          `json:"progressPercent"`
	DurationMs      int64        `json:"durationMs,omitempty"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
}

func jobEvent(name string, j *batch.Job) Event {
	pct, _ := j.ProgressPercent()
	return Event{Name: name, Data: aids.MustMarshal(jobEventPayload{
		JobID:           j.ID,
		Status:          j.Status,
		TotalTasks:      j.TotalTasks,
		ProcessedTasks:  j.ProcessedTasks,
		ProgressPercent: pct,
		DurationMs:      j.DurationMs,
		ErrorMessage:    j.ErrorMessage,
	})}
}

func (h *Hub) JobProgress(ctx context.Context, j *batch.Job) {
	h.publish(ctx, jobEvent("job-progress", j))
}

func (h *Hub) JobCompleted(ctx context.Context, j *batch.Job) {
	h.publish(ctx, jobEvent("job-completed", j))
}

func (h *Hub) JobFailed(ctx context.Context, j *batch.Job) {
	h.publish(ctx, jobEvent("job-failed", j))
}

// TasksChanged fans the list-changed notification out after a batch commit.
func (h *Hub) TasksChanged(ctx context.Context) {
	n := mcp.NewNotification(mcp.MethodNotifResourcesChanged, nil)
	h.publish(ctx, Event{Data: aids.MustMarshal(n)})
}
