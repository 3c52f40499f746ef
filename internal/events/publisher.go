// Package events publishes the engine's append-only event stream.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"engagement-engine/backend/internal/logging"
	"engagement-engine/backend/internal/repository"
	"engagement-engine/backend/pkg/models"
)

// Publisher emits immutable state-transition records. Implementations must
// preserve per-request emission order; no order is guaranteed across
// concurrent requests.
type Publisher interface {
	Emit(ctx context.Context, e *models.Event) error
}

// StorePublisher appends events to the backing store and counts emissions
// per event type.
type StorePublisher struct {
	store   repository.Store
	logger  *logging.Logger
	counter metric.Int64Counter
}

// NewStorePublisher creates a store-backed Publisher.
func NewStorePublisher(store repository.Store, logger *logging.Logger) *StorePublisher {
	meter := otel.Meter("engagement-engine/events")
	counter, err := meter.Int64Counter("workflow_events_emitted_total",
		metric.WithDescription("Number of workflow events emitted"))
	if err != nil {
		logger.Warn("event counter unavailable", "error", err)
	}
	return &StorePublisher{store: store, logger: logger, counter: counter}
}

// Emit fills in the event id and timestamp when absent, then appends the
// record. The record is never mutated afterwards.
func (p *StorePublisher) Emit(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.ActorType == "" {
		e.ActorType = models.ActorSystem
	}

	if err := p.store.AppendEvent(ctx, e); err != nil {
		return err
	}

	if p.counter != nil {
		p.counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(e.EventType)),
		))
	}
	p.logger.Debug("event emitted",
		"event_type", e.EventType,
		"source_entity_type", e.SourceEntityType,
		"source_entity_id", e.SourceEntityID,
		"workflow_instance_id", e.WorkflowInstanceID,
	)
	return nil
}
