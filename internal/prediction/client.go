// Package prediction is the client for the analytics service that
// scores task lateness, summarizes delay causes, and suggests
// reassignments. The models behind it are opaque to taskmate.
package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/taskmate-ai/taskmate/internal/httpkit"
	"github.com/taskmate-ai/taskmate/internal/tasks"
)

// LatenessPrediction is the service's estimate that a task will miss
// its due date. Probability is a percentage in [0, 100].
type LatenessPrediction struct {
	TaskID         int     `json:"task_id"`
	TaskName       string  `json:"task_name"`
	AssignedUserID int     `json:"assigned_user_id"`
	Probability    float64 `json:"probability"`
}

// RootCauseSummary is aggregate metadata about delayed tasks.
type RootCauseSummary struct {
	ReassignmentRatio float64 `json:"reassignment_ratio"`
	AvgCommentLength  float64 `json:"avg_comment_length"`
	OverduePercentage float64 `json:"overdue_percentage"`
}

// Recommendation is one suggested action for a task.
type Recommendation struct {
	TaskID         int    `json:"task_id"`
	Recommendation string `json:"recommendation"`
}

// Reassignment suggests moving a task to a different user.
type Reassignment struct {
	TaskID          int     `json:"task_id"`
	CurrentUserID   int     `json:"current_user_id"`
	SuggestedUserID int     `json:"suggested_user_id"`
	Reason          string  `json:"reason,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
}

// TrainStatus is the service's acknowledgement of a training request.
type TrainStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Client calls the prediction service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the service at baseURL. A positive
// retries count enables bounded retry on dial failures only.
func NewClient(baseURL string, timeout time.Duration, retries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "prediction")
	opts := []httpkit.ClientOption{httpkit.WithTimeout(timeout), httpkit.WithLogger(logger)}
	if retries > 0 {
		opts = append(opts, httpkit.WithRetry(retries, 500*time.Millisecond))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(opts...),
		logger:     logger,
	}
}

// Ping checks that the service answers HTTP. The service exposes no
// health route, so any response below 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("prediction service: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("prediction service: %w", &httpkit.StatusError{Method: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode})
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := httpkit.DoJSON(ctx, c.httpClient, method, c.baseURL+path, body, out); err != nil {
		return fmt.Errorf("prediction service: %w", err)
	}
	return nil
}

// Lateness returns per-task lateness predictions.
func (c *Client) Lateness(ctx context.Context) ([]LatenessPrediction, error) {
	var out []LatenessPrediction
	return out, c.do(ctx, http.MethodGet, "/predict/lateness", nil, &out)
}

// RootCause returns the delay metadata summary.
func (c *Client) RootCause(ctx context.Context) (*RootCauseSummary, error) {
	var out RootCauseSummary
	if err := c.do(ctx, http.MethodGet, "/analysis/root-cause", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recommendations returns suggested actions for at-risk tasks.
func (c *Client) Recommendations(ctx context.Context) ([]Recommendation, error) {
	var out []Recommendation
	return out, c.do(ctx, http.MethodGet, "/recommendations", nil, &out)
}

// Reassignment returns reassignment suggestions, for one task when
// taskID is non-nil, otherwise for all tasks.
func (c *Client) Reassignment(ctx context.Context, taskID *int) ([]Reassignment, error) {
	path := "/reassignment"
	if taskID != nil {
		path += "?" + url.Values{"task_id": {strconv.Itoa(*taskID)}}.Encode()
	}
	var out []Reassignment
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// Train asks the service to retrain its models.
func (c *Client) Train(ctx context.Context) (*TrainStatus, error) {
	var out TrainStatus
	if err := c.do(ctx, http.MethodPost, "/train", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Analyze forwards tasks to the service's batch analysis endpoint and
// returns its JSON verbatim.
func (c *Client) Analyze(ctx context.Context, list []tasks.Task) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/analyze", list, &out); err != nil {
		return nil, err
	}
	return out, nil
}
