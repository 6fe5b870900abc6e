// Package events provides the in-process event bus.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	BatchReconciled  EventType = "BATCH_RECONCILED"
	IngestFailed     EventType = "INGEST_FAILED"
	CacheInvalidated EventType = "CACHE_INVALIDATED"
	RebuildCompleted EventType = "REBUILD_COMPLETED"
	BackupCompleted  EventType = "BACKUP_COMPLETED"
	ErrorOccurred    EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Handler receives published events. Handlers run on their own goroutines
// and must not assume any ordering across event types.
type Handler func(*Event)

// Bus is an in-process publish/subscribe bus. Emission never blocks the
// publisher; reconciliation must not wait on listeners.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit publishes an event to all subscribers and logs it.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(event)
	}
}

// EmitError emits an error event
func (b *Bus) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	b.Emit(ErrorOccurred, module, data)
}
