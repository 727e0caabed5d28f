package tasks

import (
	"context"
	"fmt"
)

// Direct exposes a Store through the field-based operations the tool
// registry uses, for processes that own the store and need no HTTP hop.
type Direct struct {
	store Store
}

// NewDirect wraps store.
func NewDirect(store Store) *Direct {
	return &Direct{store: store}
}

// List returns all tasks.
func (d *Direct) List(ctx context.Context) ([]Task, error) {
	return d.store.List(ctx)
}

// Get returns one task.
func (d *Direct) Get(ctx context.Context, id int) (*Task, error) {
	return d.store.Get(ctx, id)
}

// Create checks required fields and stores a new task.
func (d *Direct) Create(ctx context.Context, f Fields) (*Task, error) {
	t, err := NewTask(f)
	if err != nil {
		return nil, err
	}
	created, err := d.store.Create(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

// Update applies the non-null fields to task id.
func (d *Direct) Update(ctx context.Context, id int, f Fields) (*Task, error) {
	return d.store.Update(ctx, id, f)
}

// Delete removes task id.
func (d *Direct) Delete(ctx context.Context, id int) error {
	return d.store.Delete(ctx, id)
}
