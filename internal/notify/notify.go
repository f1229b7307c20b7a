// Package notify publishes run completion events.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-auditor/internal/audit"
)

// Event is the payload published when a run reaches ready or failed.
type Event struct {
	RunID       string          `json:"runId"`
	Status      audit.RunStatus `json:"status"`
	URL         string          `json:"url"`
	Score       *float64        `json:"score,omitempty"`
	NotifyEmail string          `json:"notifyEmail,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Attributes exposes routing attributes for Pub/Sub subscribers.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{"status": string(e.Status)}
	if e.NotifyEmail != "" {
		attrs["notify"] = "email"
	}
	return attrs
}

// Notifier publishes Events to one topic. A nil publisher or empty topic disables it.
type Notifier struct {
	publisher audit.Publisher
	topic     string
	logger    *zap.Logger
}

// New builds a Notifier.
func New(publisher audit.Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, topic: topic, logger: logger.Named("notify")}
}

// Ready announces a completed run with its score.
func (n *Notifier) Ready(ctx context.Context, job audit.Job, score float64) {
	n.publish(ctx, Event{
		RunID:       job.RunID,
		Status:      audit.RunStatusReady,
		URL:         job.PageURL,
		Score:       &score,
		NotifyEmail: job.NotifyEmail,
	})
}

// Failed announces a failed run with the failure reason.
func (n *Notifier) Failed(ctx context.Context, job audit.Job, reason string) {
	n.publish(ctx, Event{
		RunID:       job.RunID,
		Status:      audit.RunStatusFailed,
		URL:         job.PageURL,
		NotifyEmail: job.NotifyEmail,
		Error:       reason,
	})
}

func (n *Notifier) publish(ctx context.Context, event Event) {
	if n == nil || n.publisher == nil || n.topic == "" {
		return
	}
	id, err := n.publisher.Publish(ctx, n.topic, event)
	if err != nil {
		n.logger.Warn("publish run notification failed",
			zap.String("run_id", event.RunID),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
		return
	}
	n.logger.Debug("run notification published",
		zap.String("run_id", event.RunID),
		zap.String("message_id", id),
	)
}
