// ABOUTME: TaskStore interface and data types for tasktrack persistence
// ABOUTME: Defines Task, Priority, TaskInput and the validation/not-found errors

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a requested task does not exist
var ErrNotFound = errors.New("not found")

// ErrPersistence wraps failures coming from the storage engine. Callers surface
// it as a generic server error; the wrapped detail is for logs only.
var ErrPersistence = errors.New("persistence failure")

// MaxTitleLength is the maximum number of characters in a task title.
const MaxTitleLength = 255

// ValidationError reports a rejected write with a field-level reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Task is a single tracked item.
//
// CompletedAt is set by the completion transition and is never cleared by it.
// CreatedAt never changes; UpdatedAt strictly increases on every mutation.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	IsCompleted bool       `json:"isCompleted"`
	DueDate     *time.Time `json:"dueDate"`
	CompletedAt *time.Time `json:"completedTimestamp"`
	CreatedAt   time.Time  `json:"createdTimestamp"`
	UpdatedAt   time.Time  `json:"updatedTimestamp"`
	Priority    Priority   `json:"priority"`
}

// TaskInput carries the client-writable fields of a task. Identity and
// timestamps are never part of it; the store assigns those.
type TaskInput struct {
	Title       string
	Description *string
	DueDate     *time.Time
	Priority    *Priority // nil means PriorityNormal
	IsCompleted bool      // only consulted by UpdateTask
}

// Validate checks the title constraints.
func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if utf8.RuneCountInString(in.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("title must be at most %d characters", MaxTitleLength)}
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority"}
	}
	return nil
}

func (in TaskInput) priority() Priority {
	if in.Priority == nil {
		return PriorityNormal
	}
	return *in.Priority
}

// TaskStore defines task persistence. Every operation is its own unit of work.
type TaskStore interface {
	CreateTask(ctx context.Context, in TaskInput) (*Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)
	UpdateTask(ctx context.Context, id string, in TaskInput) (*Task, error)
	CompleteTask(ctx context.Context, id string) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
	Close() error
}

// markCompleted applies the one-way completion transition. A task that is
// already completed keeps its original completion time.
func markCompleted(t *Task, now time.Time) bool {
	if t.IsCompleted {
		return false
	}
	t.IsCompleted = true
	t.CompletedAt = &now
	return true
}

// applyInput replaces the writable fields wholesale. Setting IsCompleted goes
// through markCompleted; clearing it leaves CompletedAt untouched so the last
// completion time stays on record.
func applyInput(t *Task, in TaskInput, now time.Time) {
	t.Title = in.Title
	t.Description = in.Description
	t.DueDate = truncateOptional(in.DueDate)
	t.Priority = in.priority()
	if in.IsCompleted {
		markCompleted(t, now)
	} else {
		t.IsCompleted = false
	}
}

// nextUpdate returns a mutation timestamp that is strictly after prev at
// millisecond resolution.
func nextUpdate(prev, now time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// lessTask orders incomplete before completed, then by due date ascending with
// missing due dates last, then by creation time.
func lessTask(a, b *Task) bool {
	if a.IsCompleted != b.IsCompleted {
		return !a.IsCompleted
	}
	switch {
	case a.DueDate != nil && b.DueDate == nil:
		return true
	case a.DueDate == nil && b.DueDate != nil:
		return false
	case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
		return a.DueDate.Before(*b.DueDate)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
