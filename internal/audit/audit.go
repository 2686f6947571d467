// Package audit emits the structured audit trail: one event per significant
// action, written synchronously to a rotated JSON log file. Client-facing
// error text is scrubbed elsewhere; this log is where the full detail goes.
package audit

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/taskmcp/tasksvr/internal/correlation"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Category string

const (
	CategoryTool     Category = "TOOL"
	CategoryBatch    Category = "BATCH"
	CategoryResource Category = "RESOURCE"
	CategoryPrompt   Category = "PROMPT"
	CategoryAuth     Category = "AUTH"
	CategorySystem   Category = "SYSTEM"
)

type EventType string

const (
	EventToolInvocationStart   EventType = "TOOL_INVOCATION_START"
	EventToolInvocationSuccess EventType = "TOOL_INVOCATION_SUCCESS"
	EventToolInvocationFailure EventType = "TOOL_INVOCATION_FAILURE"
	EventRateLimitExceeded     EventType = "RATE_LIMIT_EXCEEDED"

	EventBatchJobCreated   EventType = "BATCH_JOB_CREATED"
	EventBatchJobStarted   EventType = "BATCH_JOB_STARTED"
	EventBatchJobCompleted EventType = "BATCH_JOB_COMPLETED"
	EventBatchJobFailed    EventType = "BATCH_JOB_FAILED"

	EventResourceReadStart   EventType = "RESOURCE_READ_START"
	EventResourceReadSuccess EventType = "RESOURCE_READ_SUCCESS"
	EventResourceReadFailure EventType = "RESOURCE_READ_FAILURE"
	EventResourceNotFound    EventType = "RESOURCE_NOT_FOUND"

	EventPromptGetStart   EventType = "PROMPT_GET_START"
	EventPromptGetSuccess EventType = "PROMPT_GET_SUCCESS"
	EventPromptGetFailure EventType = "PROMPT_GET_FAILURE"

	EventAuthSuccess EventType = "AUTH_SUCCESS"
	EventAuthFailure EventType = "AUTH_FAILURE"

	EventServerStarted         EventType = "SERVER_STARTED"
	EventServerStopped         EventType = "SERVER_STOPPED"
	EventOrphanedJobsRecovered EventType = "ORPHANED_JOBS_RECOVERED"
	EventInternalError         EventType = "INTERNAL_ERROR"
)

// Category maps an event type onto its filtering category.
func (t EventType) Category() Category {
	switch {
	case strings.HasPrefix(string(t), "TOOL_"), t == EventRateLimitExceeded:
		return CategoryTool
	case strings.HasPrefix(string(t), "BATCH_"):
		return CategoryBatch
	case strings.HasPrefix(string(t), "RESOURCE_"):
		return CategoryResource
	case strings.HasPrefix(string(t), "PROMPT_"):
		return CategoryPrompt
	case strings.HasPrefix(string(t), "AUTH_"):
		return CategoryAuth
	default:
		return CategorySystem
	}
}

// Event is one audit record. Events are immutable after Emit; the emitter
// copies Metadata so later caller mutation cannot alter what was logged.
type Event struct {
	EventType     EventType
	Description   string
	CorrelationID string
	ToolName      string
	Metadata      map[string]string
	Success       bool
	ErrorMessage  string
}

// Config mirrors the audit.* configuration keys.
type Config struct {
	Enabled            bool
	Categories         []string // enabled categories; empty enables all
	SensitiveMaxLength int
	SensitiveStrategy  string // TRUNCATE or MASK

	FilePath   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// Log writes audit events. Writes are serialised by the slog handler; the
// sink rotates by size, gzips rotated files, and enforces retention.
type Log struct {
	enabled    bool
	categories map[Category]bool // nil means every category
	maxLen     int
	mask       bool
	out        *slog.Logger
	now        func() time.Time
}

// New opens the rotated audit sink described by c.
func New(c Config) *Log {
	return NewWithWriter(c, &lumberjack.Logger{
		Filename:   c.FilePath,
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   true,
	})
}

// NewWithWriter is New with an explicit sink, for tests.
func NewWithWriter(c Config, w io.Writer) *Log {
	l := &Log{
		enabled: c.Enabled,
		maxLen:  c.SensitiveMaxLength,
		mask:    c.SensitiveStrategy == "MASK",
		out:     slog.New(slog.NewJSONHandler(w, nil)),
		now:     time.Now,
	}
	if len(c.Categories) > 0 {
		l.categories = make(map[Category]bool, len(c.Categories))
		for _, cat := range c.Categories {
			l.categories[Category(strings.ToUpper(strings.TrimSpace(cat)))] = true
		}
	}
	return l
}

// Enabled reports whether events of the given category would be written.
func (l *Log) Enabled(cat Category) bool {
	if l == nil || !l.enabled {
		return false
	}
	return l.categories == nil || l.categories[cat]
}

// Emit writes one event. The correlation id is read from ctx unless the event
// already carries one; every metadata value passes through the sanitiser.
func (l *Log) Emit(ctx context.Context, e Event) {
	cat := e.EventType.Category()
	if !l.Enabled(cat) {
		return
	}
	if e.CorrelationID == "" {
		e.CorrelationID = correlation.FromContext(ctx)
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("category", string(cat)),
		slog.Time("timestamp", l.now()),
		slog.Bool("success", e.Success))
	if e.Description != "" {
		attrs = append(attrs, slog.String("description", e.Description))
	}
	if e.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlationId", e.CorrelationID))
	}
	if e.ToolName != "" {
		attrs = append(attrs, slog.String("toolName", e.ToolName))
	}
	if e.ErrorMessage != "" {
		attrs = append(attrs, slog.String("errorMessage", l.sanitise(e.ErrorMessage)))
	}
	if len(e.Metadata) > 0 {
		meta := make([]any, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			meta = append(meta, slog.String(k, l.sanitise(v)))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	l.out.LogAttrs(ctx, slog.LevelInfo, string(e.EventType), attrs...)
}

// sanitise caps every recorded value: TRUNCATE keeps a readable prefix, MASK
// replaces the value with stars of capped length.
func (l *Log) sanitise(s string) string {
	if l.mask {
		return strings.Repeat("*", min(len(s), l.maxLen))
	}
	if l.maxLen > 0 && len(s) > l.maxLen {
		return s[:l.maxLen] + "...(truncated)"
	}
	return s
}
