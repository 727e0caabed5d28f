package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps tasks in a SQLite table. All public methods are
// safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and
	// serializes the read-max-then-insert in Create.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		task_id             INTEGER PRIMARY KEY,
		assigned_user_id    INTEGER NOT NULL,
		task_name           TEXT NOT NULL,
		due_date            TEXT NOT NULL,
		category            TEXT NOT NULL,
		color               TEXT NOT NULL,
		approver_user_id    INTEGER NOT NULL DEFAULT 0,
		comment             TEXT NOT NULL DEFAULT '',
		recommended_user_id INTEGER NOT NULL DEFAULT 0,
		status              TEXT NOT NULL DEFAULT '',
		total_story_points  REAL NOT NULL DEFAULT 0,
		priority_id         INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

const taskColumns = `task_id, assigned_user_id, task_name, due_date, category, color,
	approver_user_id, comment, recommended_user_id, status, total_story_points, priority_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var t Task
	err := row.Scan(&t.TaskID, &t.AssignedUserID, &t.TaskName, &t.DueDate, &t.Category, &t.Color,
		&t.ApproverUserID, &t.Comment, &t.RecommendedUserID, &t.Status, &t.TotalStoryPoints, &t.PriorityID)
	return t, err
}

// List returns all tasks ordered by TaskID.
func (s *SQLiteStore) List(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	list := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// Get returns one task.
func (s *SQLiteStore) Get(ctx context.Context, id int) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &t, nil
}

// Create inserts t with TaskID = max(task_id)+1.
func (s *SQLiteStore) Create(ctx context.Context, t Task) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(task_id), 0) + 1 FROM tasks`).Scan(&t.TaskID); err != nil {
		return nil, fmt.Errorf("next task id: %w", err)
	}
	if err := s.put(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

// Update merges f into an existing task.
func (s *SQLiteStore) Update(ctx context.Context, id int, f Fields) (*Task, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := current.Apply(f)
	if err != nil {
		return nil, err
	}
	if err := s.put(ctx, s.db, updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a task; unknown ids are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) put(ctx context.Context, db execer, t Task) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.AssignedUserID, t.TaskName, t.DueDate, t.Category, t.Color,
		t.ApproverUserID, t.Comment, t.RecommendedUserID, t.Status, t.TotalStoryPoints, t.PriorityID,
	)
	if err != nil {
		return fmt.Errorf("store task %d: %w", t.TaskID, err)
	}
	return nil
}
