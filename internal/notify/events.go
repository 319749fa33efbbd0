package notify

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"eurobansync/api/internal/store"
)

const (
	EventNotificationCreated = "com.eurobansync.notification.created"
	eventSource              = "eurobansync/api"
)

// EventPayload is the data of a notification event.
type EventPayload struct {
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	DocumentID     string    `json:"documentId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EventSink POSTs notifications as CloudEvents in binary HTTP mode.
type EventSink struct {
	client cloudevents.Client
	target string
}

func NewEventSink(target string) (*EventSink, error) {
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("create cloudevents client: %w", err)
	}
	return &EventSink{client: client, target: target}, nil
}

func (s *EventSink) Publish(ctx context.Context, n store.Notification) error {
	event := cloudevents.NewEvent()
	id := n.ID
	if id == "" {
		id = uuid.NewString()
	}
	event.SetID(id)
	event.SetSource(eventSource)
	event.SetType(EventNotificationCreated)
	event.SetSubject(n.UserID)
	if !n.CreatedAt.IsZero() {
		event.SetTime(n.CreatedAt)
	}
	err := event.SetData(cloudevents.ApplicationJSON, EventPayload{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           string(n.Type),
		Title:          n.Title,
		Message:        n.Message,
		DocumentID:     n.DocumentID,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification event: %w", err)
	}

	result := s.client.Send(cloudevents.ContextWithTarget(ctx, s.target), event)
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("send notification event %s: %w", id, result)
	}
	return nil
}
