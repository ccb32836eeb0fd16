package handler

import (
	"net/http"
	"strconv"

	"github.com/mizuage/embyproxy/store"
)

type eventPage struct {
	Items    []store.AggregatedEvent `json:"items"`
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// handleListEvents pages through aggregation buckets, newest first.
func (s *Service) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.EventFilter{
		EventType: q.Get("event_type"),
		ItemType:  q.Get("item_type"),
		Keyword:   q.Get("keyword"),
		Page:      intQuery(q.Get("page"), 1),
		Size:      intQuery(q.Get("page_size"), 20),
	}

	events, total, err := s.events.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eventPage{
		Items:    events,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.Size,
	})
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
