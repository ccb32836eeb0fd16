package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mizuage/embyproxy/emby"
	"github.com/mizuage/embyproxy/store"
	"github.com/mizuage/embyproxy/tasks"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Status          string `json:"status"`
	Event           string `json:"event"`
	Aggregated      bool   `json:"aggregated"`
	AggregatedCount int    `json:"aggregated_count"`
}

// handleWebhook folds inbound notifications into aggregation buckets.
// Writes for one bucket are serialized on a keyed lock so a burst of
// episode events cannot race each other into separate buckets.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "unreadable body")
		return
	}

	var ev emby.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed webhook payload")
		return
	}
	if err := s.validate.Struct(&ev); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	bucketKey := ev.BucketKey()
	s.locks.Lock(bucketKey)
	defer s.locks.Unlock(bucketKey)

	rec, aggregated, err := s.events.Record(r.Context(), store.IncomingEvent{
		BucketKey:    bucketKey,
		EventType:    ev.Event,
		ItemID:       ev.Item.ID,
		ItemName:     ev.SeriesDisplayName(),
		ItemType:     ev.Item.Type,
		Payload:      body,
		Aggregatable: ev.IsEpisode(),
	}, s.cfg.Aggregate.Window)
	if err != nil {
		s.log.Error().Err(err).Str("bucket", bucketKey).Msg("event record failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "event persistence failed")
		return
	}

	s.trackMediaItem(r, &ev)

	if !aggregated && ev.Event == emby.EventLibraryNew && s.queue != nil {
		err := s.queue.EnqueueLibraryRefresh(r.Context(), tasks.LibraryRefreshPayload{
			BucketKey: bucketKey,
			Series:    ev.SeriesDisplayName(),
		}, s.cfg.Aggregate.Window)
		if err != nil {
			s.log.Warn().Err(err).Str("bucket", bucketKey).Msg("refresh enqueue failed")
		}
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Status:          "ok",
		Event:           ev.Event,
		Aggregated:      aggregated,
		AggregatedCount: rec.AggregatedCount,
	})
}

// trackMediaItem keeps the media table in step with library additions, so
// stream redirects and delete plans can find the item later. Pickcodes
// inside strm files arrive via the library sync, not the webhook; here the
// path is recorded and sync status marked pending when the pickcode is
// still unknown.
func (s *Service) trackMediaItem(r *http.Request, ev *emby.WebhookEvent) {
	if ev.Event != emby.EventLibraryNew || ev.Item.Path == "" {
		return
	}
	isStrm := strings.HasSuffix(strings.ToLower(ev.Item.Path), ".strm")
	syncStatus := "synced"
	if isStrm {
		syncStatus = "pending"
	}
	err := s.media.Upsert(r.Context(), store.MediaItem{
		EmbyID:     ev.Item.ID,
		LibraryID:  ev.Item.LibraryID,
		Name:       ev.Item.Name,
		Type:       ev.Item.Type,
		Path:       ev.Item.Path,
		IsStrm:     isStrm,
		SyncStatus: syncStatus,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("item", ev.Item.ID).Msg("media upsert failed")
	}
}
