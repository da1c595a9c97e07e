package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tOgg1/scrollsync/internal/models"
)

// Event repository errors.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidEvent  = errors.New("invalid event")
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const eventColumns = `id, timestamp, type, instance_id, instrument, granularity, view_kind, target, metadata_json`

// EventRepository persists synchronizer events.
type EventRepository struct {
	db *DB
}

type eventExecer interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

type eventScanner interface {
	Scan(dest ...any) error
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// EventQuery defines filters for querying events.
type EventQuery struct {
	Type         *models.SyncEventType // Filter by event type
	InstanceID   *string               // Filter by emitting instance
	InstrumentID *string               // Filter by the instance's instrument
	Since        *time.Time            // Events at or after this time (inclusive)
	Until        *time.Time            // Events before this time (exclusive)
	Cursor       string                // Pagination cursor (event ID)
	Limit        int                   // Max results to return
}

// EventPage represents a page of query results.
type EventPage struct {
	Events     []*models.SyncEvent
	NextCursor string
}

// Create appends event to the log, assigning an ID and timestamp if unset.
// Returns ErrInvalidEvent if the type or instance is missing.
func (r *EventRepository) Create(ctx context.Context, event *models.SyncEvent) error {
	return r.createWithExecutor(ctx, r.db, event)
}

func (r *EventRepository) createWithExecutor(ctx context.Context, execer eventExecer, event *models.SyncEvent) error {
	if event == nil || event.Type == "" || event.InstanceID == "" {
		return ErrInvalidEvent
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	} else {
		event.Timestamp = event.Timestamp.UTC()
	}

	var target *string
	if event.Target != nil {
		s := event.Target.UTC().Format(timestampLayout)
		target = &s
	}

	var metadataJSON *string
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		s := string(data)
		metadataJSON = &s
	}

	_, err := execer.ExecContext(ctx, `
		INSERT INTO sync_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.Timestamp.Format(timestampLayout),
		string(event.Type),
		event.InstanceID,
		event.Key.InstrumentID,
		string(event.Key.Granularity),
		string(event.Key.ViewKind),
		target,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Get retrieves an event by ID.
func (r *EventRepository) Get(ctx context.Context, id string) (*models.SyncEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM sync_events WHERE id = ?`, id)
	event, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

// Query retrieves events matching the given filters with cursor-based
// pagination, oldest first.
func (r *EventRepository) Query(ctx context.Context, q EventQuery) (*EventPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + eventColumns + ` FROM sync_events WHERE 1=1`
	args := []any{}

	if q.Type != nil {
		query += ` AND type = ?`
		args = append(args, string(*q.Type))
	}
	if q.InstanceID != nil {
		query += ` AND instance_id = ?`
		args = append(args, *q.InstanceID)
	}
	if q.InstrumentID != nil {
		query += ` AND instrument = ?`
		args = append(args, *q.InstrumentID)
	}
	if q.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, q.Since.UTC().Format(timestampLayout))
	}
	if q.Until != nil {
		query += ` AND timestamp < ?`
		args = append(args, q.Until.UTC().Format(timestampLayout))
	}
	if q.Cursor != "" {
		query += ` AND (timestamp, id) > (SELECT timestamp, id FROM sync_events WHERE id = ?)`
		args = append(args, q.Cursor)
	}

	query += ` ORDER BY timestamp, id LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.SyncEvent
	for rows.Next() {
		event, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	page := &EventPage{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.NextCursor = events[limit-1].ID
	}
	return page, nil
}

func (r *EventRepository) scan(row eventScanner) (*models.SyncEvent, error) {
	var event models.SyncEvent
	var timestamp, eventType, granularity, viewKind string
	var target, metadataJSON sql.NullString

	if err := row.Scan(
		&event.ID,
		&timestamp,
		&eventType,
		&event.InstanceID,
		&event.Key.InstrumentID,
		&granularity,
		&viewKind,
		&target,
		&metadataJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Type = models.SyncEventType(eventType)
	event.Key.Granularity = models.Granularity(granularity)
	event.Key.ViewKind = models.ViewKind(viewKind)

	if t, err := time.Parse(timestampLayout, timestamp); err == nil {
		event.Timestamp = t
	}
	if target.Valid {
		if t, err := time.Parse(timestampLayout, target.String); err == nil {
			event.Target = &t
		}
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
			r.db.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to parse event metadata")
		}
	}

	return &event, nil
}

// Count returns the total number of events.
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountByType returns event counts grouped by type.
func (r *EventRepository) CountByType(ctx context.Context) (map[models.SyncEventType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM sync_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncEventType]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[models.SyncEventType(eventType)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}
	return counts, nil
}

// DeleteOlderThan deletes up to limit events older than before and returns
// the number deleted.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_events WHERE id IN (
			SELECT id FROM sync_events WHERE timestamp < ? ORDER BY timestamp LIMIT ?
		)
	`, before.UTC().Format(timestampLayout), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return count, nil
}
