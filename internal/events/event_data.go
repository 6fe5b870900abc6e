package events

import "encoding/json"

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// BatchReconciledData contains data for BatchReconciled events
type BatchReconciledData struct {
	BatchID   string `json:"batch_id"`
	CountryID string `json:"country_id"`
	Records   int    `json:"records"`
	Opened    int    `json:"opened"`
	Reopened  int    `json:"reopened"`
	Amended   int    `json:"amended"`
	Closed    int    `json:"closed"`
}

// EventType returns the event type for BatchReconciledData
func (d *BatchReconciledData) EventType() EventType {
	return BatchReconciled
}

// IngestFailedData contains data for IngestFailed events
type IngestFailedData struct {
	CountryID string `json:"country_id"`
	BatchID   string `json:"batch_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// EventType returns the event type for IngestFailedData
func (d *IngestFailedData) EventType() EventType {
	return IngestFailed
}

// CacheInvalidatedData contains data for CacheInvalidated events
type CacheInvalidatedData struct {
	CountryID string `json:"country_id,omitempty"`
	Scope     string `json:"scope"` // "country" or "all"
}

// EventType returns the event type for CacheInvalidatedData
func (d *CacheInvalidatedData) EventType() EventType {
	return CacheInvalidated
}

// RebuildCompletedData contains data for RebuildCompleted events
type RebuildCompletedData struct {
	Countries       int   `json:"countries"`
	BatchesApplied  int   `json:"batches_applied"`
	Positions       int   `json:"positions"`
	ActivePositions int   `json:"active_positions"`
	DurationMS      int64 `json:"duration_ms"`
}

// EventType returns the event type for RebuildCompletedData
func (d *RebuildCompletedData) EventType() EventType {
	return RebuildCompleted
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Databases int    `json:"databases"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// EmitTyped emits an event with typed data, converted to the wire shape.
func (b *Bus) EmitTyped(module string, data EventData) {
	b.Emit(data.EventType(), module, convertEventDataToMap(data))
}

// convertEventDataToMap converts typed EventData to map[string]interface{}
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}

	return result
}
