package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event types stored in the upb_events table.
const (
	EventLinkActivated   = "link_activated"
	EventLinkDeactivated = "link_deactivated"
	EventDeviceReport    = "device_report"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// Event is one observed powerline event, as persisted.
type Event struct {
	ID            int64
	OccurredAt    time.Time
	Type          string
	NetworkID     int
	SourceID      int
	DestinationID int // link ID for link events, destination for reports
	Arguments     []byte
}

// EventStore persists observed powerline events in the upb_events
// table. Arguments are stored as uppercase hex.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an event store over an open database.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// RecordLinkEvent inserts a link activation or deactivation.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - networkID: UPB network the event was observed on
//   - sourceID: Device that transmitted the event
//   - linkID: The link that changed
//   - activated: true for activation, false for deactivation
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *EventStore) RecordLinkEvent(ctx context.Context, networkID, sourceID, linkID byte, activated bool) error {
	eventType := EventLinkDeactivated
	if activated {
		eventType = EventLinkActivated
	}
	return s.insert(ctx, eventType, networkID, sourceID, linkID, nil)
}

// RecordDeviceReport inserts an unsolicited device report.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - networkID: UPB network the report was observed on
//   - sourceID: Device that transmitted the report
//   - destinationID: The report's destination address
//   - args: Report argument bytes (stored as hex)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *EventStore) RecordDeviceReport(ctx context.Context, networkID, sourceID, destinationID byte, args []byte) error {
	return s.insert(ctx, EventDeviceReport, networkID, sourceID, destinationID, args)
}

func (s *EventStore) insert(ctx context.Context, eventType string, networkID, sourceID, destinationID byte, args []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upb_events (occurred_at, event_type, network_id, source_id, destination_id, arguments)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339),
		eventType,
		int(networkID),
		int(sourceID),
		int(destinationID),
		EncodeArguments(args),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events across all devices,
// ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Event: Events ordered by occurred_at DESC
//   - error: nil on success, otherwise the underlying query error
func (s *EventStore) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occurred_at, event_type, network_id, source_id, destination_id, arguments
		 FROM upb_events
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows, limit)
}

// EventsForSource returns the most recent events transmitted by one
// device, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - networkID: UPB network to filter on
//   - sourceID: Transmitting device to filter on
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Event: Events ordered by occurred_at DESC
//   - error: nil on success, otherwise the underlying query error
func (s *EventStore) EventsForSource(ctx context.Context, networkID, sourceID byte, limit int) ([]Event, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occurred_at, event_type, network_id, source_id, destination_id, arguments
		 FROM upb_events
		 WHERE network_id = ? AND source_id = ?
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		int(networkID),
		int(sourceID),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows, limit)
}

// PruneEvents deletes events older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (events older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *EventStore) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM upb_events WHERE occurred_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultEventLimit
	}
	if limit > maxEventLimit {
		return maxEventLimit
	}
	return limit
}

func scanEvents(rows *sql.Rows, limit int) ([]Event, error) {
	events := make([]Event, 0, limit)
	for rows.Next() {
		var event Event
		var occurredAt string
		var argsHex string

		if err := rows.Scan(&event.ID, &occurredAt, &event.Type,
			&event.NetworkID, &event.SourceID, &event.DestinationID, &argsHex); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		timestamp, err := time.Parse(time.RFC3339, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		event.OccurredAt = timestamp

		args, err := DecodeArguments(argsHex)
		if err != nil {
			return nil, fmt.Errorf("decoding arguments: %w", err)
		}
		event.Arguments = args

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return events, nil
}
