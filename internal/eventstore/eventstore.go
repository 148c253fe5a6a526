package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
	ErrEmptyAggregateID    = errors.New("aggregate id is required")
)

// Event represents a domain event recorded in the journal
type Event struct {
	ID            int64           `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewEvent encodes payload into an unsaved event of the given type.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := jsoniter.ConfigFastest.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v interface{}) error {
	if err := jsoniter.ConfigFastest.Unmarshal(e.EventData, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// EventStore is an append-only in-memory journal with per-aggregate
// optimistic versioning. Events are never modified once appended.
type EventStore struct {
	mu          sync.RWMutex
	events      []Event
	byAggregate map[string][]int
	lastID      int64

	now      func() time.Time
	tracer   trace.Tracer
	appended metric.Int64Counter
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithTracer overrides the tracer used for journal spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(es *EventStore) {
		es.tracer = tracer
	}
}

// WithMeter sets the meter used to count appended events.
func WithMeter(meter metric.Meter) Option {
	return func(es *EventStore) {
		counter, err := meter.Int64Counter(
			"libralend.journal.events_appended",
			metric.WithDescription("Events appended to the lending journal"),
			metric.WithUnit("{event}"),
		)
		if err == nil {
			es.appended = counter
		}
	}
}

// WithClock sets the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(es *EventStore) {
		es.now = now
	}
}

// NewEventStore creates an empty journal.
func NewEventStore(opts ...Option) *EventStore {
	es := &EventStore{
		byAggregate: make(map[string][]int),
		now:         time.Now,
		tracer:      otel.Tracer("libralend/eventstore"),
	}
	WithMeter(otel.Meter("libralend/eventstore"))(es)

	for _, opt := range opts {
		opt(es)
	}
	return es
}

// AppendEvents atomically appends events with optimistic concurrency control
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID string, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if aggregateID == "" {
		return ErrEmptyAggregateID
	}
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	currentVersion := len(es.byAggregate[aggregateID])
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	createdAt := es.now().UTC()
	for i, event := range events {
		es.lastID++
		event.ID = es.lastID
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = createdAt

		es.events = append(es.events, event)
		es.byAggregate[aggregateID] = append(es.byAggregate[aggregateID], len(es.events)-1)

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", event.ID),
			attribute.Int("event.version", event.Version),
			attribute.String("event.type", event.EventType),
		))
	}

	if es.appended != nil {
		es.appended.Add(ctx, int64(len(events)), metric.WithAttributes(
			attribute.String("aggregate.type", aggregateType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Append encodes a single payload and appends it at the aggregate's current
// version. Callers that already serialize writers use it instead of
// reading the version themselves.
func (es *EventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, payload interface{}) error {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	version, err := es.GetCurrentVersion(ctx, aggregateID)
	if err != nil {
		return err
	}
	return es.AppendEvents(ctx, aggregateID, aggregateType, version, []Event{event})
}

// LoadEvents retrieves all events for an aggregate with optional version range.
// A toVersion of zero means no upper bound.
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	_, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	es.mu.RLock()
	defer es.mu.RUnlock()

	events := make([]Event, 0)
	for _, idx := range es.byAggregate[aggregateID] {
		event := es.events[idx]
		if event.Version < fromVersion {
			continue
		}
		if toVersion > 0 && event.Version > toVersion {
			break
		}
		events = append(events, event)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version for an aggregate, zero if it
// has no events.
func (es *EventStore) GetCurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	_, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
		),
	)
	defer span.End()

	es.mu.RLock()
	version := len(es.byAggregate[aggregateID])
	es.mu.RUnlock()

	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

// StreamEvents provides a cursor-based event stream for projections
func (es *EventStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	_, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	es.mu.RLock()
	defer es.mu.RUnlock()

	// IDs are dense and start at 1, so the cursor maps straight to an index.
	start := int(fromID)
	if start < 0 {
		start = 0
	}
	if start > len(es.events) {
		start = len(es.events)
	}
	end := start + batchSize
	if end > len(es.events) {
		end = len(es.events)
	}

	events := make([]Event, end-start)
	copy(events, es.events[start:end])

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// Len returns the total number of events in the journal.
func (es *EventStore) Len() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.events)
}
