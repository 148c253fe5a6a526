package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type TestEvent struct {
	Message string `json:"message"`
}

func mustEvent(t *testing.T, msg string) Event {
	t.Helper()
	event, err := NewEvent("TestEvent", TestEvent{Message: msg})
	require.NoError(t, err)
	return event
}

func TestAppendAndLoadEvents(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	store := NewEventStore(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	err := store.AppendEvents(ctx, "loan-1", "loan", 0, []Event{mustEvent(t, "first"), mustEvent(t, "second")})
	require.NoError(t, err)
	require.NoError(t, store.AppendEvents(ctx, "loan-2", "loan", 0, []Event{mustEvent(t, "other")}))
	require.NoError(t, store.AppendEvents(ctx, "loan-1", "loan", 2, []Event{mustEvent(t, "third")}))

	events, err := store.LoadEvents(ctx, "loan-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, event := range events {
		assert.Equal(t, i+1, event.Version)
		assert.Equal(t, "loan", event.AggregateType)
		assert.Equal(t, fixed, event.CreatedAt)
	}
	assert.Equal(t, int64(4), events[2].ID)

	var payload TestEvent
	require.NoError(t, events[2].Decode(&payload))
	assert.Equal(t, "third", payload.Message)

	ranged, err := store.LoadEvents(ctx, "loan-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, 2, ranged[0].Version)

	version, err := store.GetCurrentVersion(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	missing, err := store.LoadEvents(ctx, "nope", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestAppendEventsVersionConflict(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	require.NoError(t, store.AppendEvents(ctx, "member-1", "member", 0, []Event{mustEvent(t, "a")}))

	err := store.AppendEvents(ctx, "member-1", "member", 0, []Event{mustEvent(t, "b")})
	assert.True(t, errors.Is(err, ErrConcurrencyConflict))
	assert.Equal(t, 1, store.Len())

	assert.True(t, errors.Is(store.AppendEvents(ctx, "", "member", 0, nil), ErrEmptyAggregateID))
	assert.True(t, errors.Is(store.AppendEvents(ctx, "x", "member", -1, nil), ErrInvalidVersion))
}

func TestAppendEventsConcurrentWritersOneWins(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	const writers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event, _ := NewEvent("TestEvent", TestEvent{Message: fmt.Sprint(i)})
			if err := store.AppendEvents(ctx, "item-1", "item", 0, []Event{event}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, store.Len())
}

func TestAppendUsesCurrentVersion(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, "9788497593798", "item", "TestEvent", TestEvent{Message: fmt.Sprint(i)}))
	}

	version, _ := store.GetCurrentVersion(ctx, "9788497593798")
	assert.Equal(t, 3, version)
}

func TestStreamEvents(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, fmt.Sprintf("agg-%d", i%2), "test", "TestEvent", TestEvent{Message: fmt.Sprint(i)}))
	}

	batch, err := store.StreamEvents(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].ID)

	batch, err = store.StreamEvents(ctx, batch[len(batch)-1].ID, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(3), batch[0].ID)
	assert.Equal(t, int64(5), batch[2].ID)

	batch, err = store.StreamEvents(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	_, err = store.StreamEvents(ctx, 0, 0)
	assert.Error(t, err)
}

func TestAppendEventsRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	store := NewEventStore(WithTracer(provider.Tracer("test")))

	require.NoError(t, store.AppendEvents(context.Background(), "loan-1", "loan", 0, []Event{mustEvent(t, "x")}))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "eventstore.append", spans[0].Name())
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "event.appended", spans[0].Events()[0].Name)
}
