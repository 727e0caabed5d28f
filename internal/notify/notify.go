// Package notify delivers the assistant's user notifications. The log
// notifier is always present; an MQTT notifier can be added so other
// systems receive the same notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Priority levels accepted by sendNotification.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Notification is one message addressed to a user.
type Notification struct {
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority"`
	SentAt    time.Time `json:"sent_at"`
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier records notifications in the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier writing to logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify logs n at info level.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, "notification sent",
		"recipient", n.Recipient,
		"message", n.Message,
		"priority", n.Priority,
	)
	return nil
}

// Multi fans a notification out to every notifier and joins their
// errors. All notifiers are attempted.
type Multi []Notifier

// Notify delivers n to each notifier in order.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
