package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenaoj/internal/common/mq"
	appErr "arenaoj/pkg/errors"
)

// AcceptedEvent is the payload of the submission.accepted domain event.
type AcceptedEvent struct {
	UserID       int64  `json:"user_id"`
	ProblemID    int64  `json:"problem_id"`
	SubmissionID string `json:"submission_id"`
	LinkURL      string `json:"link_url"`
	CreatedAt    int64  `json:"created_at"`
}

// AcceptedEventPublisher publishes accepted-submission events for external
// notification consumers.
type AcceptedEventPublisher interface {
	PublishAccepted(ctx context.Context, event AcceptedEvent) error
}

// MQAcceptedEventPublisher publishes accepted events to a message queue.
type MQAcceptedEventPublisher struct {
	queue   mq.MessageQueue
	topic   string
	linkFmt string
}

// NewMQAcceptedEventPublisher creates a new MQ accepted event publisher.
// linkFmt is a format string receiving the submission id, e.g.
// "https://arenaoj.example.com/submissions/%s".
func NewMQAcceptedEventPublisher(queue mq.MessageQueue, topic, linkFmt string) *MQAcceptedEventPublisher {
	return &MQAcceptedEventPublisher{queue: queue, topic: topic, linkFmt: linkFmt}
}

// PublishAccepted publishes one accepted event.
func (p *MQAcceptedEventPublisher) PublishAccepted(ctx context.Context, event AcceptedEvent) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if event.LinkURL == "" && p.linkFmt != "" {
		event.LinkURL = fmt.Sprintf(p.linkFmt, event.SubmissionID)
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal accepted event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.SubmissionID
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish accepted event failed")
	}
	return nil
}
