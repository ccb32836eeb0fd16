package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// MediaStore tracks the Emby library entries the maintenance pipeline knows
// about, keyed by Emby item id.
type MediaStore struct {
	db *sql.DB
}

func NewMediaStore(db *sql.DB) *MediaStore {
	return &MediaStore{db: db}
}

const mediaColumns = `emby_id, library_id, name, item_type, path, pickcode, is_strm, sync_status, created_at, updated_at`

// GetByEmbyIDs returns the known items among ids, keyed by emby id. Unknown
// ids are simply absent from the result.
func (s *MediaStore) GetByEmbyIDs(ctx context.Context, ids []string) (map[string]MediaItem, error) {
	items := make(map[string]MediaItem, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+mediaColumns+" FROM emby_media_items WHERE emby_id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("store: get media: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m MediaItem
		if err := rows.Scan(&m.EmbyID, &m.LibraryID, &m.Name, &m.Type, &m.Path,
			&m.PickCode, &m.IsStrm, &m.SyncStatus, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan media: %w", err)
		}
		items[m.EmbyID] = m
	}
	return items, rows.Err()
}

// Upsert inserts or refreshes one tracked item.
func (s *MediaStore) Upsert(ctx context.Context, m MediaItem) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO emby_media_items (emby_id, library_id, name, item_type, path, pickcode, is_strm, sync_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (emby_id) DO UPDATE SET
	library_id = EXCLUDED.library_id,
	name = EXCLUDED.name,
	item_type = EXCLUDED.item_type,
	path = EXCLUDED.path,
	pickcode = CASE WHEN EXCLUDED.pickcode = '' THEN emby_media_items.pickcode ELSE EXCLUDED.pickcode END,
	is_strm = EXCLUDED.is_strm,
	sync_status = EXCLUDED.sync_status,
	updated_at = now()`,
		m.EmbyID, m.LibraryID, m.Name, m.Type, m.Path, m.PickCode, m.IsStrm, m.SyncStatus)
	if err != nil {
		return fmt.Errorf("store: upsert media: %w", err)
	}
	return nil
}

// Delete removes a tracked item. Returns true when a row existed.
func (s *MediaStore) Delete(ctx context.Context, embyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM emby_media_items WHERE emby_id = $1", embyID)
	if err != nil {
		return false, fmt.Errorf("store: delete media: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
