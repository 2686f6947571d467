// Package task holds the Task domain entity, its validation rules, and the
// JSON Schema published by the mcp-schema-tasks tool. The validator tags and
// the embedded schema describe the same contract; a test asserts they agree.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Statuses lists every legal status in reporting order.
func Statuses() []Status { return []Status{StatusTodo, StatusInProgress, StatusDone} }

// Valid reports whether s is one of the three legal statuses.
func (s Status) Valid() bool {
	return s == StatusTodo || s == StatusInProgress || s == StatusDone
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("status %q: must be one of TODO, IN_PROGRESS, DONE", s)
	}
	return st, nil
}

// Task is the primary domain entity. ID and the timestamps are store-assigned;
// the core never mutates or deletes a persisted task.
type Task struct {
	ID          int64     `json:"id,omitempty" db:"id"`
	Title       string    `json:"title" db:"title" validate:"required,max=255"`
	Description string    `json:"description,omitempty" db:"description" validate:"omitempty,max=2000"`
	Status      Status    `json:"status" db:"status" validate:"required,oneof=TODO IN_PROGRESS DONE"`
	DueDate     *Date     `json:"dueDate,omitempty" db:"due_date"`
	CreatedAt   time.Time `json:"createdAt,omitempty" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty" db:"updated_at"`
}

// validate is the process-wide validator configured to report JSON field
// names, so violation messages never leak Go identifiers.
var validate = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
})

// Validate checks t against the declarative constraints and returns every
// violation as "<field> <message>" joined with "; ".
func (t *Task) Validate() error {
	err := validate().Struct(t)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.New("task failed validation")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, violationMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fe.Field() + " must be one of TODO, IN_PROGRESS, DONE"
	default:
		return fe.Field() + " is invalid"
	}
}

// ValidateAll validates a batch in order, rejecting the whole batch on the
// first invalid item with its index in the message.
func ValidateAll(tasks []Task) error {
	for i := range tasks {
		if err := tasks[i].Validate(); err != nil {
			return fmt.Errorf("task at index %d is invalid: %w", i, err)
		}
	}
	return nil
}

// UnmarshalTasks decodes a JSON array into tasks. Shape errors carry the index
// of the offending item but never decoder internals.
func UnmarshalTasks(data []byte) ([]Task, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, errors.New("input is not a JSON array of task objects")
	}
	tasks := make([]Task, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &tasks[i]); err != nil {
			return nil, fmt.Errorf("task at index %d is invalid: %s", i, decodeMessage(err))
		}
	}
	return tasks, nil
}

func decodeMessage(err error) string {
	var te *json.UnmarshalTypeError
	switch {
	case errors.As(err, &te) && te.Field != "":
		return fmt.Sprintf("field '%s' has the wrong type", te.Field)
	case errors.Is(err, ErrBadDate):
		return ErrBadDate.Error()
	default:
		return "not a valid task object"
	}
}
