// Package events publishes domain events (reminder and transfer state
// changes) to a message broker for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted by the core.
const (
	ReminderCreated      = "reminder.created"
	ReminderSent         = "reminder.sent"
	ReminderDeadLettered = "reminder.dead_lettered"
	TransferRequested    = "transfer.requested"
	TransferApproved     = "transfer.approved"
	TransferRejected     = "transfer.rejected"
	PatientEnrolled      = "patient.enrolled"
)

// Event is the envelope written to the broker.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	FacilityID  string          `json:"facility_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// New builds an Event with a fresh id, marshalling payload to JSON.
func New(eventType, aggregateID, facilityID string, payload interface{}) (Event, error) {
	ev := Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		AggregateID: aggregateID,
		FacilityID:  facilityID,
		OccurredAt:  time.Now().UTC(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		ev.Payload = b
	}
	return ev, nil
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Emit builds and publishes an event, logging rather than returning any
// failure. State changes have already committed when events are emitted, so
// a broker outage must not surface as an operation error.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, eventType, aggregateID, facilityID string, payload interface{}) {
	if p == nil {
		return
	}
	ev, err := New(eventType, aggregateID, facilityID, payload)
	if err != nil {
		logger.Error().Err(err).Str("event_type", eventType).Msg("build event")
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Error().Err(err).
			Str("event_type", eventType).
			Str("aggregate_id", aggregateID).
			Msg("publish event")
	}
}

// LogPublisher writes events to the log only.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("aggregate_id", ev.AggregateID).
		Str("facility_id", ev.FacilityID).
		RawJSON("payload", nonEmptyJSON(ev.Payload)).
		Msg("domain event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

func nonEmptyJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Type)
	}
	return out
}
