package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists task records.
type Store interface {
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id int) (*Task, error)
	// Create assigns the next TaskID and stores t.
	Create(ctx context.Context, t Task) (*Task, error)
	// Update applies the non-null fields to an existing task. Returns
	// ErrNotFound for an unknown id.
	Update(ctx context.Context, id int, f Fields) (*Task, error)
	// Delete removes a task. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id int) error
}

// FileStore keeps all tasks in one pretty-printed JSON array on disk.
// Every operation reads the file, so edits made by hand are picked up.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path. The file is created on
// first write; a missing file reads as an empty list.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// List returns all tasks in file order.
func (s *FileStore) List(_ context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Get returns one task.
func (s *FileStore) Get(_ context.Context, id int) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].TaskID == id {
			return &list[i], nil
		}
	}
	return nil, ErrNotFound
}

// Create appends t with the next TaskID.
func (s *FileStore) Create(_ context.Context, t Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return nil, err
	}
	t.TaskID = NextID(list)
	list = append(list, t)
	if err := s.write(list); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update merges f into the task with the given id.
func (s *FileStore) Update(_ context.Context, id int, f Fields) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].TaskID != id {
			continue
		}
		updated, err := list[i].Apply(f)
		if err != nil {
			return nil, err
		}
		list[i] = updated
		if err := s.write(list); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, ErrNotFound
}

// Delete removes every task with the given id.
func (s *FileStore) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, t := range list {
		if t.TaskID != id {
			kept = append(kept, t)
		}
	}
	return s.write(kept)
}

func (s *FileStore) read() ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Task{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	list := []Task{}
	if len(data) == 0 {
		return list, nil
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return list, nil
}

// write replaces the file atomically via a temp file and rename.
func (s *FileStore) write(list []Task) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("write tasks: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write tasks: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write tasks: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write tasks: %w", err)
	}
	return nil
}
