package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs/zerolog"
)

func silentLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func waitFor(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// TestEmitDeliversToSubscribers tests that every subscriber of a type
// receives the event
func TestEmitDeliversToSubscribers(t *testing.T) {
	bus := NewBus(silentLogger())

	first := make(chan *Event, 1)
	second := make(chan *Event, 1)
	bus.Subscribe(BatchReconciled, func(e *Event) { first <- e })
	bus.Subscribe(BatchReconciled, func(e *Event) { second <- e })

	bus.Emit(BatchReconciled, "ingest", map[string]interface{}{"country_id": "GB"})

	e1 := waitFor(t, first)
	e2 := waitFor(t, second)
	assert.Equal(t, BatchReconciled, e1.Type)
	assert.Equal(t, "ingest", e1.Module)
	assert.Equal(t, "GB", e1.Data["country_id"])
	assert.Equal(t, e1.Type, e2.Type)
}

// TestEmitRespectsTypeBoundaries tests that subscribers only see their type
func TestEmitRespectsTypeBoundaries(t *testing.T) {
	bus := NewBus(silentLogger())

	got := make(chan *Event, 2)
	bus.Subscribe(IngestFailed, func(e *Event) { got <- e })

	bus.Emit(BatchReconciled, "ingest", nil)
	bus.Emit(IngestFailed, "ingest", map[string]interface{}{"error": "boom"})

	e := waitFor(t, got)
	assert.Equal(t, IngestFailed, e.Type)

	select {
	case extra := <-got:
		t.Fatalf("unexpected second event: %s", extra.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestEmitTyped tests the typed payload conversion to the wire shape
func TestEmitTyped(t *testing.T) {
	bus := NewBus(silentLogger())

	got := make(chan *Event, 1)
	bus.Subscribe(BatchReconciled, func(e *Event) { got <- e })

	bus.EmitTyped("ingest", &BatchReconciledData{
		BatchID:   "b-1",
		CountryID: "SE",
		Records:   3,
		Opened:    2,
		Closed:    1,
	})

	e := waitFor(t, got)
	assert.Equal(t, "b-1", e.Data["batch_id"])
	assert.Equal(t, "SE", e.Data["country_id"])
	// JSON round trip turns ints into float64.
	assert.Equal(t, float64(3), e.Data["records"])
	assert.Equal(t, float64(2), e.Data["opened"])
}

// TestEmitErrorWrapsError tests the error convenience emitter
func TestEmitErrorWrapsError(t *testing.T) {
	bus := NewBus(silentLogger())

	got := make(chan *Event, 1)
	bus.Subscribe(ErrorOccurred, func(e *Event) { got <- e })

	bus.EmitError("scheduler", errors.New("job exploded"), map[string]interface{}{"job": "ingest"})

	e := waitFor(t, got)
	require.Equal(t, ErrorOccurred, e.Type)
	assert.Equal(t, "job exploded", e.Data["error"])
}

// TestEmitWithoutSubscribersIsSafe tests that publishing into silence works
func TestEmitWithoutSubscribersIsSafe(t *testing.T) {
	bus := NewBus(silentLogger())
	bus.Emit(CacheInvalidated, "cache", nil)
	bus.EmitTyped("reliability", &BackupCompletedData{Key: "k", SizeBytes: 1})
}
