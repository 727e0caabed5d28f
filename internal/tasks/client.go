package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taskmate-ai/taskmate/internal/httpkit"
)

// Client reaches the task CRUD API over HTTP. Each call is a single
// attempt; failures come back as errors for the caller to convert.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

func (c *Client) taskURL(id int) string {
	return c.baseURL + "/tasks/" + strconv.Itoa(id)
}

// List returns all tasks.
func (c *Client) List(ctx context.Context) ([]Task, error) {
	var list []Task
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/tasks", nil, &list); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return list, nil
}

// Get returns one task, or ErrNotFound.
func (c *Client) Get(ctx context.Context, id int) (*Task, error) {
	var t Task
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, c.taskURL(id), nil, &t); err != nil {
		return nil, c.wrap("get", id, err)
	}
	return &t, nil
}

// Create stores a new task built from canonical fields.
func (c *Client) Create(ctx context.Context, f Fields) (*Task, error) {
	var t Task
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/tasks", f, &t); err != nil {
		return nil, c.wrap("create", 0, err)
	}
	return &t, nil
}

// Update applies canonical fields to an existing task.
func (c *Client) Update(ctx context.Context, id int, f Fields) (*Task, error) {
	var t Task
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodPut, c.taskURL(id), f, &t); err != nil {
		return nil, c.wrap("update", id, err)
	}
	return &t, nil
}

// Delete removes a task. Unknown ids succeed.
func (c *Client) Delete(ctx context.Context, id int) error {
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodDelete, c.taskURL(id), nil, nil); err != nil {
		return c.wrap("delete", id, err)
	}
	return nil
}

// wrap restores ErrNotFound and MissingFieldsError from status errors.
func (c *Client) wrap(op string, id int, err error) error {
	var se *httpkit.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%s task %d: %w", op, id, ErrNotFound)
		case http.StatusBadRequest:
			var body struct {
				Missing []string `json:"missing"`
			}
			if json.Unmarshal([]byte(se.Body), &body) == nil && len(body.Missing) > 0 {
				return fmt.Errorf("%s task: %w", op, &MissingFieldsError{Fields: body.Missing})
			}
		}
	}
	if id == 0 {
		return fmt.Errorf("%s task: %w", op, err)
	}
	return fmt.Errorf("%s task %d: %w", op, id, err)
}
