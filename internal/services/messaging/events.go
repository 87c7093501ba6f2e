package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/metrics"
)

type EventType string

const (
	EventRecordSent            EventType = "record.sent"
	EventRecordDrafted         EventType = "record.drafted"
	EventRecordAnalyzed        EventType = "record.analyzed"
	EventFollowupPromoted      EventType = "record.followup_promoted"
	EventRecordReplied         EventType = "record.replied"
	EventRecordManualCheck     EventType = "record.manual_check"
	EventDiscoveryCompleted    EventType = "discovery.completed"
	EventTenantBudgetExhausted EventType = "tenant.budget_exhausted"
)

type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       EventType              `json:"type"`
	TenantID   uuid.UUID              `json:"tenant_id"`
	RecordID   *uuid.UUID             `json:"record_id,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps id and time on a tenant event.
func NewEvent(eventType EventType, tenantID uuid.UUID, data map[string]interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// ForRecord attaches the record id to the event.
func (e Event) ForRecord(id uuid.UUID) Event {
	e.RecordID = &id
	return e
}

// Publisher emits pipeline events. Publishing never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
}

// EventPublisher sends events to a topic exchange keyed by event type.
type EventPublisher struct {
	broker   broker
	exchange string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewEventPublisher(b broker, exchange string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		broker:   b,
		exchange: exchange,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.Error(err), zap.String("type", string(event.Type)))
		metrics.IncrementEventsPublished(string(event.Type), "failed")
		return
	}

	// a cancelled runner still reports what it already did
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	headers := amqp.Table{"tenant_id": event.TenantID.String()}
	if err := p.broker.Publish(pubCtx, p.exchange, string(event.Type), body, headers); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.Error(err),
			zap.String("type", string(event.Type)),
			zap.String("tenant_id", event.TenantID.String()))
		metrics.IncrementEventsPublished(string(event.Type), "failed")
		return
	}

	metrics.IncrementEventsPublished(string(event.Type), "success")
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
