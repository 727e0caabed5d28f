package tools

import (
	"context"
	"fmt"

	"github.com/taskmate-ai/taskmate/internal/notify"
	"github.com/taskmate-ai/taskmate/internal/prediction"
)

// LatenessThreshold is the minimum probability, in percent, for a
// lateness prediction to be reported.
const LatenessThreshold = 50.0

// Root-cause thresholds.
const (
	maxReassignmentRatio = 0.3
	minAvgCommentLength  = 20.0
	maxOverdueShare      = 0.25
)

const noPredictionService = "Prediction service is not configured"

// LatenessView is one reported lateness prediction.
type LatenessView struct {
	TaskID         int     `json:"taskId"`
	TaskName       string  `json:"taskName"`
	AssignedUserID int     `json:"assignedUserId"`
	Probability    float64 `json:"probability"`
	Percentage     string  `json:"percentage"`
}

// FilterLateness keeps predictions at or above LatenessThreshold and
// formats each probability with one decimal.
func FilterLateness(preds []prediction.LatenessPrediction) []LatenessView {
	out := []LatenessView{}
	for _, p := range preds {
		if p.Probability < LatenessThreshold {
			continue
		}
		out = append(out, LatenessView{
			TaskID:         p.TaskID,
			TaskName:       p.TaskName,
			AssignedUserID: p.AssignedUserID,
			Probability:    p.Probability,
			Percentage:     fmt.Sprintf("%.1f%%", p.Probability),
		})
	}
	return out
}

// RootCauses turns summary metrics into findings. With no finding it
// returns a single "No major root causes detected." entry.
func RootCauses(s prediction.RootCauseSummary) []string {
	var findings []string
	if s.ReassignmentRatio > maxReassignmentRatio {
		findings = append(findings, fmt.Sprintf(
			"Frequent reassignments: %.0f%% of tasks changed assignee.", s.ReassignmentRatio*100))
	}
	if s.AvgCommentLength < minAvgCommentLength {
		findings = append(findings, fmt.Sprintf(
			"Sparse task updates: comments average %.1f characters.", s.AvgCommentLength))
	}
	if s.OverduePercentage > maxOverdueShare {
		findings = append(findings, fmt.Sprintf(
			"High overdue rate: %.0f%% of tasks are overdue.", s.OverduePercentage*100))
	}
	if len(findings) == 0 {
		return []string{"No major root causes detected."}
	}
	return findings
}

func (r *Registry) getLatenessPrediction(ctx context.Context, _ noArgs) Result {
	if r.deps.Predictions == nil {
		return Failed(noPredictionService)
	}
	preds, err := r.deps.Predictions.Lateness(ctx)
	if err != nil {
		return r.fail(ctx, GetLatenessPrediction, "Failed to fetch lateness predictions", err)
	}
	return Succeeded(FilterLateness(preds))
}

func (r *Registry) generateRecommendations(ctx context.Context, _ noArgs) Result {
	if r.deps.Predictions == nil {
		return Failed(noPredictionService)
	}
	recs, err := r.deps.Predictions.Recommendations(ctx)
	if err != nil {
		return r.fail(ctx, GenerateRecommendations, "Failed to generate recommendations", err)
	}
	if recs == nil {
		recs = []prediction.Recommendation{}
	}
	return Succeeded(recs)
}

func (r *Registry) getReassignmentSuggestion(ctx context.Context, p reassignmentParams) Result {
	if r.deps.Predictions == nil {
		return Failed(noPredictionService)
	}
	suggestions, err := r.deps.Predictions.Reassignment(ctx, p.TaskID)
	if err != nil {
		return r.fail(ctx, GetReassignmentSuggestion, "Failed to fetch reassignment suggestions", err)
	}
	if suggestions == nil {
		suggestions = []prediction.Reassignment{}
	}
	return Succeeded(suggestions)
}

func (r *Registry) performRootCauseAnalysis(ctx context.Context, _ noArgs) Result {
	if r.deps.Predictions == nil {
		return Failed(noPredictionService)
	}
	summary, err := r.deps.Predictions.RootCause(ctx)
	if err != nil {
		return r.fail(ctx, PerformRootCauseAnalysis, "Failed to perform root cause analysis", err)
	}
	if summary == nil {
		summary = &prediction.RootCauseSummary{}
	}
	return Succeeded(RootCauses(*summary))
}

func (r *Registry) sendNotification(ctx context.Context, p notificationParams) Result {
	n := notify.Notification{
		Recipient: p.Recipient,
		Message:   p.Message,
		Priority:  p.Priority,
		SentAt:    r.deps.Now(),
	}
	r.logger.InfoContext(ctx, "sending notification",
		"recipient", n.Recipient,
		"priority", n.Priority,
		"user_id", UserIDFromContext(ctx),
	)
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Notify(ctx, n); err != nil {
			return r.fail(ctx, SendNotification, "Failed to send notification", err)
		}
	}
	return Succeeded(fmt.Sprintf("I have notified %s about: \"%s\"", p.Recipient, p.Message))
}

// trainModel starts training detached from the request and returns
// immediately. Wait blocks until the run finishes.
func (r *Registry) trainModel(ctx context.Context, _ noArgs) Result {
	if r.deps.Predictions == nil {
		return Failed(noPredictionService)
	}

	userID := UserIDFromContext(ctx)
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deps.TrainTimeout)
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		defer cancel()

		status, err := r.deps.Predictions.Train(bg)
		if err != nil {
			r.logger.Error("model training failed", "user_id", userID, "error", err)
			return
		}
		r.logger.Info("model training finished",
			"user_id", userID,
			"status", status.Status,
			"message", status.Message,
		)
	}()

	return Result{Success: true, Message: "Model training started in the background."}
}
