// Package notification publishes batch lifecycle events to logs and live
// websocket subscribers.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/dallo7/korosho/pkg/logger"

	"github.com/google/uuid"
)

// EventType names a batch lifecycle event.
type EventType string

const (
	EventBatchSubmitted    EventType = "batch.submitted"
	EventBatchAuthorized   EventType = "batch.authorized"
	EventPipelinePhase     EventType = "pipeline.phase"
	EventPipelineCompleted EventType = "pipeline.completed"
)

// Priority represents the urgency of the notification.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Event is one message delivered to every sink.
type Event struct {
	ID              uuid.UUID              `json:"id"`
	Type            EventType              `json:"type"`
	BatchID         int64                  `json:"batch_id"`
	CooperativeName string                 `json:"cooperative_name"`
	Priority        Priority               `json:"priority"`
	Subject         string                 `json:"subject"`
	Body            string                 `json:"body"`
	Data            map[string]interface{} `json:"data,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// NewEvent renders the subject and body for eventType from data.
func NewEvent(eventType EventType, batchID int64, cooperative string, data map[string]interface{}) Event {
	var subject, body string
	priority := PriorityNormal

	switch eventType {
	case EventBatchSubmitted:
		subject = "Batch Submitted"
		body = fmt.Sprintf("%s submitted %v records for approval.", cooperative, data["record_count"])

	case EventBatchAuthorized:
		subject = "Payment Authorized"
		body = fmt.Sprintf("Batch %d from %s is authorized for payment.", batchID, cooperative)
		priority = PriorityHigh

	case EventPipelinePhase:
		subject = "Processing"
		body = fmt.Sprintf("%v", data["message"])
		priority = PriorityLow

	case EventPipelineCompleted:
		subject = "IPN: Transaction Complete"
		body = fmt.Sprintf("%s: Paid %v/%v farmers. (%v failed)",
			cooperative, data["success"], data["total"], data["failed"])
		priority = PriorityHigh

	default:
		subject = "Notification"
		body = fmt.Sprintf("Event: %s", eventType)
	}

	return Event{
		ID:              uuid.New(),
		Type:            eventType,
		BatchID:         batchID,
		CooperativeName: cooperative,
		Priority:        priority,
		Subject:         subject,
		Body:            body,
		Data:            data,
		CreatedAt:       time.Now().UTC(),
	}
}

// Sink receives events. Publish must not block on slow consumers.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes every event to the structured log.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

func (s *LogSink) Publish(ctx context.Context, e Event) error {
	s.logger.Info("Notification Sent", map[string]interface{}{
		"notification_id": e.ID.String(),
		"type":            string(e.Type),
		"batch_id":        e.BatchID,
		"cooperative":     e.CooperativeName,
		"subject":         e.Subject,
		"priority":        e.Priority,
	})
	return nil
}

// Multi fans an event out to several sinks, returning the first error after
// trying all of them.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
