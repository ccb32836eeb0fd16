package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// IncomingEvent is a webhook occurrence about to be folded into a bucket.
type IncomingEvent struct {
	BucketKey    string
	EventType    string
	ItemID       string
	ItemName     string
	ItemType     string
	Payload      json.RawMessage
	Aggregatable bool
}

// EventStore persists aggregation buckets. Callers serialize writes per
// bucket key; the store itself only guarantees bucket windows are honored.
type EventStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db, now: time.Now}
}

const incrementBucketQuery = `
UPDATE aggregated_events
SET aggregated_count = aggregated_count + 1, updated_at = $2
WHERE id = (
	SELECT id FROM aggregated_events
	WHERE bucket_key = $1 AND status = 'open' AND window_expires_at > $2
	ORDER BY window_started_at DESC
	LIMIT 1
)
RETURNING id, aggregated_count, window_started_at, window_expires_at, created_at`

const insertBucketQuery = `
INSERT INTO aggregated_events
	(bucket_key, event_type, item_id, item_name, item_type, aggregated_count, status, payload, window_started_at, window_expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8, $9, $8, $8)
RETURNING id`

// Record folds ev into the open bucket for its key, or opens a new bucket
// when none is open. The returned bool reports whether ev was absorbed into
// an existing bucket. Non-aggregatable events always open a bucket that is
// closed immediately, so every such occurrence stands alone.
func (s *EventStore) Record(ctx context.Context, ev IncomingEvent, window time.Duration) (*AggregatedEvent, bool, error) {
	now := s.now().UTC()
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	rec := &AggregatedEvent{
		BucketKey: ev.BucketKey,
		EventType: ev.EventType,
		ItemID:    ev.ItemID,
		ItemName:  ev.ItemName,
		ItemType:  ev.ItemType,
		Payload:   payload,
		UpdatedAt: now,
	}

	if ev.Aggregatable {
		row := s.db.QueryRowContext(ctx, incrementBucketQuery, ev.BucketKey, now)
		err := row.Scan(&rec.ID, &rec.AggregatedCount, &rec.WindowStartedAt, &rec.WindowExpiresAt, &rec.CreatedAt)
		switch {
		case err == nil:
			rec.Status = EventStatusOpen
			return rec, true, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, false, fmt.Errorf("store: increment bucket: %w", err)
		}
	}

	status := EventStatusOpen
	expires := now.Add(window)
	if !ev.Aggregatable {
		status = EventStatusClosed
		expires = now
	}
	err := s.db.QueryRowContext(ctx, insertBucketQuery,
		ev.BucketKey, ev.EventType, ev.ItemID, ev.ItemName, ev.ItemType,
		status, []byte(payload), now, expires).Scan(&rec.ID)
	if err != nil {
		return nil, false, fmt.Errorf("store: insert bucket: %w", err)
	}
	rec.AggregatedCount = 1
	rec.Status = status
	rec.WindowStartedAt = now
	rec.WindowExpiresAt = expires
	rec.CreatedAt = now
	return rec, false, nil
}

// CloseExpired marks buckets whose window has elapsed as closed and returns
// how many were closed. Run periodically; closure is otherwise implicit.
func (s *EventStore) CloseExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE aggregated_events SET status = 'closed', updated_at = $1 WHERE status = 'open' AND window_expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("store: close expired: %w", err)
	}
	return res.RowsAffected()
}

// EventFilter narrows List. Zero values mean no constraint; Page is
// 1-based.
type EventFilter struct {
	EventType string
	ItemType  string
	Keyword   string
	Page      int
	Size      int
}

const eventColumns = `id, bucket_key, event_type, item_id, item_name, item_type, aggregated_count, status, payload, window_started_at, window_expires_at, created_at, updated_at`

// List returns buckets newest-first plus the total match count for paging.
func (s *EventStore) List(ctx context.Context, f EventFilter) ([]AggregatedEvent, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 || f.Size > 200 {
		f.Size = 20
	}

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.ItemType != "" {
		add("item_type = $%d", f.ItemType)
	}
	if f.Keyword != "" {
		add("item_name ILIKE $%d", "%"+f.Keyword+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM aggregated_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count events: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM aggregated_events%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		eventColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.Size, (f.Page-1)*f.Size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	events := make([]AggregatedEvent, 0, f.Size)
	for rows.Next() {
		var ev AggregatedEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.BucketKey, &ev.EventType, &ev.ItemID, &ev.ItemName, &ev.ItemType,
			&ev.AggregatedCount, &ev.Status, &payload, &ev.WindowStartedAt, &ev.WindowExpiresAt,
			&ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, total, rows.Err()
}
