package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"arenaoj/internal/common/mq"
	"arenaoj/internal/execution/service"
	pkgerrors "arenaoj/pkg/errors"
)

type fakeQueue struct {
	topics   []string
	messages []*mq.Message
}

func (q *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	q.topics = append(q.topics, topic)
	q.messages = append(q.messages, message)
	return nil
}

func (q *fakeQueue) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, message := range messages {
		if err := q.Publish(ctx, topic, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *fakeQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}

func (q *fakeQueue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (q *fakeQueue) Start() error { return nil }

func (q *fakeQueue) Stop() error { return nil }

func (q *fakeQueue) Ping(ctx context.Context) error { return nil }

func (q *fakeQueue) Close() error { return nil }

func TestPublishAcceptedFillsLinkAndTimestamp(t *testing.T) {
	queue := &fakeQueue{}
	publisher := service.NewMQAcceptedEventPublisher(queue, "submission.accepted", "https://oj.example.com/submissions/%s")

	err := publisher.PublishAccepted(context.Background(), service.AcceptedEvent{
		UserID:       7,
		ProblemID:    42,
		SubmissionID: "sub-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(queue.messages))
	}
	if queue.topics[0] != "submission.accepted" {
		t.Fatalf("unexpected topic: %s", queue.topics[0])
	}
	if queue.messages[0].ID != "sub-1" {
		t.Fatalf("expected message id sub-1, got %s", queue.messages[0].ID)
	}

	var event service.AcceptedEvent
	if err := json.Unmarshal(queue.messages[0].Body, &event); err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if event.LinkURL != "https://oj.example.com/submissions/sub-1" {
		t.Fatalf("unexpected link url: %s", event.LinkURL)
	}
	if event.CreatedAt == 0 {
		t.Fatal("expected created_at to be filled")
	}
}

func TestPublishAcceptedRequiresSubmissionID(t *testing.T) {
	publisher := service.NewMQAcceptedEventPublisher(&fakeQueue{}, "submission.accepted", "")

	err := publisher.PublishAccepted(context.Background(), service.AcceptedEvent{UserID: 7, ProblemID: 42})
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}
