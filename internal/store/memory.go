// ABOUTME: In-memory TaskStore implementation for tests and ephemeral runs
// ABOUTME: Mirrors SQLiteStore semantics including millisecond timestamp truncation

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ensure MemoryStore implements TaskStore.
var _ TaskStore = (*MemoryStore)(nil)

// MemoryStore is an in-memory TaskStore. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// clone returns a deep copy so callers cannot modify stored state.
func clone(t *Task) *Task {
	c := *t
	if t.Description != nil {
		d := *t.Description
		c.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// CreateTask stores a new task.
func (m *MemoryStore) CreateTask(_ context.Context, in TaskInput) (*Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := truncate(m.now())
	t := &Task{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		DueDate:     truncateOptional(in.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
		Priority:    in.priority(),
	}
	m.tasks[t.ID] = clone(t)
	return t, nil
}

// GetTask retrieves a task by ID.
func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

// ListTasks returns all tasks in display order.
func (m *MemoryStore) ListTasks(_ context.Context) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, clone(t))
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if lessTask(tasks[i], tasks[j]) {
			return true
		}
		if lessTask(tasks[j], tasks[i]) {
			return false
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// UpdateTask replaces the writable fields of a task.
func (m *MemoryStore) UpdateTask(_ context.Context, id string, in TaskInput) (*Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := clone(stored)
	now := nextUpdate(t.UpdatedAt, truncate(m.now()))
	applyInput(t, in, now)
	t.UpdatedAt = now
	m.tasks[id] = clone(t)
	return t, nil
}

// CompleteTask marks a task completed once.
func (m *MemoryStore) CompleteTask(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := clone(stored)
	now := nextUpdate(t.UpdatedAt, truncate(m.now()))
	if markCompleted(t, now) {
		t.UpdatedAt = now
		m.tasks[id] = clone(t)
	}
	return t, nil
}

// DeleteTask removes a task.
func (m *MemoryStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
