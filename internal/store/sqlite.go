// ABOUTME: SQLite implementation of the TaskStore interface using modernc.org/sqlite
// ABOUTME: Stores timestamps as epoch milliseconds and runs each operation in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Ensure SQLiteStore implements TaskStore.
var _ TaskStore = (*SQLiteStore)(nil)

// SQLiteStore implements TaskStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. The special path ":memory:"
// opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dsn := path
	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// Writers take the lock up front so read-modify-write transactions
		// cannot deadlock on upgrade.
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL,
			description  TEXT,
			is_completed INTEGER NOT NULL DEFAULT 0,
			due_date     INTEGER,
			completed_at INTEGER,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL,
			priority     INTEGER NOT NULL DEFAULT 2,

			CHECK (length(title) BETWEEN 1 AND 255),
			CHECK (priority BETWEEN 0 AND 4),
			CHECK (updated_at >= created_at)
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_completed_due
			ON tasks(is_completed, due_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

const taskColumns = `id, title, description, is_completed, due_date, completed_at, created_at, updated_at, priority`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                    Task
		description          sql.NullString
		dueDate, completedAt sql.NullInt64
		createdAt, updatedAt int64
		priority             int64
	)
	if err := row.Scan(&t.ID, &t.Title, &description, &t.IsCompleted, &dueDate, &completedAt, &createdAt, &updatedAt, &priority); err != nil {
		return nil, err
	}
	if description.Valid {
		t.Description = &description.String
	}
	t.DueDate = DecodeOptionalTime(dueDate)
	t.CompletedAt = DecodeOptionalTime(completedAt)
	t.CreatedAt = DecodeTime(createdAt)
	t.UpdatedAt = DecodeTime(updatedAt)
	t.Priority = Priority(priority)
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// withTx runs fn inside a transaction bound to ctx. A canceled context rolls
// the transaction back, so partial writes are never visible.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (*Task, error) {
	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading task: %v", ErrPersistence, err)
	}
	return t, nil
}

func writeTaskTx(ctx context.Context, tx *sql.Tx, t *Task) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, is_completed = ?, due_date = ?, completed_at = ?, updated_at = ?, priority = ?
		WHERE id = ?
	`, t.Title, nullString(t.Description), t.IsCompleted, EncodeOptionalTime(t.DueDate),
		EncodeOptionalTime(t.CompletedAt), EncodeTime(t.UpdatedAt), int64(t.Priority), t.ID)
	if err != nil {
		return fmt.Errorf("%w: updating task: %v", ErrPersistence, err)
	}
	return nil
}

// CreateTask validates the input and inserts a new task with a fresh ID.
func (s *SQLiteStore) CreateTask(ctx context.Context, in TaskInput) (*Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := truncate(s.now())
	t := &Task{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		DueDate:     truncateOptional(in.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
		Priority:    in.priority(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Title, nullString(t.Description), t.IsCompleted, EncodeOptionalTime(t.DueDate),
			EncodeOptionalTime(t.CompletedAt), EncodeTime(t.CreatedAt), EncodeTime(t.UpdatedAt), int64(t.Priority))
		if err != nil {
			return fmt.Errorf("%w: inserting task: %v", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask retrieves a task by ID.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading task: %v", ErrPersistence, err)
	}
	return t, nil
}

// ListTasks returns every task, incomplete first, then by due date with
// undated tasks last.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		ORDER BY is_completed ASC, due_date IS NULL ASC, due_date ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tasks: %v", ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning task: %v", ErrPersistence, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing tasks: %v", ErrPersistence, err)
	}
	return tasks, nil
}

// UpdateTask replaces the writable fields of a task.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, in TaskInput) (*Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		now := nextUpdate(t.UpdatedAt, truncate(s.now()))
		applyInput(t, in, now)
		t.UpdatedAt = now
		if err := writeTaskTx(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteTask applies the one-way completion transition. Completing an
// already completed task changes nothing.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id string) (*Task, error) {
	var out *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out = t
		now := nextUpdate(t.UpdatedAt, truncate(s.now()))
		if !markCompleted(t, now) {
			return nil
		}
		t.UpdatedAt = now
		return writeTaskTx(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTask permanently removes a task.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("%w: deleting task: %v", ErrPersistence, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: deleting task: %v", ErrPersistence, err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}
