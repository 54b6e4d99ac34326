package engine

import (
	"time"

	"github.com/leengari/burpdb/internal/domain/record"
)

// EventType represents the lifecycle step a table went through
type EventType string

const (
	EventTableCreated   EventType = "table_created"
	EventTableLoaded    EventType = "table_loaded"
	EventTableDropped   EventType = "table_dropped"
	EventRecordInserted EventType = "record_inserted"
	EventRecordUpdated  EventType = "record_updated"
	EventRecordDeleted  EventType = "record_deleted"
	EventSnapshotSaved  EventType = "snapshot_saved"
)

// Event represents one completed table operation
type Event struct {
	Type      EventType
	OpID      string    // unique per operation, for tracing across log lines
	Database  string
	Table     string
	RecordID  *record.ID // set for record-level events
	Records   int        // table size after the operation
	Timestamp time.Time
	Data      interface{} // snapshot path for load, save and drop events
}

// Observer interface for event subscribers
type Observer interface {
	OnEvent(event Event)
}
