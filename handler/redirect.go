package handler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
)

// handleStreamRedirect exchanges an item id for a fresh direct link and
// answers with a 307. The player follows it straight to cloud storage; no
// media bytes ever pass through this process.
func (s *Service) handleStreamRedirect(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["item"]
	if !validIdentifier(itemID) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid item id")
		return
	}
	src := r.URL.Query().Get("media_source_id")
	if !validIdentifier(src) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "missing or invalid media_source_id")
		return
	}
	if s.cfg.Drive.Cookie == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "drive cookie not configured")
		return
	}

	// The media-source identifier is an opaque storage file id. A tracked
	// mapping for it wins; the item mapping covers older rewrites that only
	// carried the item; otherwise the identifier resolves as-is, so items
	// the pipeline has never seen still play.
	items, err := s.media.GetByEmbyIDs(r.Context(), []string{src, itemID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	pickcode := src
	if m, ok := items[src]; ok && m.PickCode != "" {
		pickcode = m.PickCode
	} else if m, ok := items[itemID]; ok && m.PickCode != "" {
		pickcode = m.PickCode
	}

	link, err := s.resolver.Resolve(r.Context(), pickcode, s.cfg.Drive.Cookie)
	if err != nil {
		s.log.Warn().Err(err).Str("item", itemID).Str("pickcode", pickcode).Msg("link resolution failed")
		writeDriveError(w, err)
		return
	}
	if !validHTTPURL(link.URL) {
		s.log.Error().Str("item", itemID).Str("url", link.URL).Msg("refusing non-http redirect target")
		writeError(w, http.StatusBadGateway, codeUpstreamDown, "resolved link is not a valid http url")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link.URL, http.StatusTemporaryRedirect)
}

// handleMasterPlaylist serves a minimal single-variant playlist for clients
// that insist on HLS. The one variant points back at the stream redirect.
func (s *Service) handleMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["item"]
	if !validIdentifier(itemID) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid item id")
		return
	}

	variant := "stream"
	if raw := r.URL.RawQuery; raw != "" {
		variant += "?" + raw
	}
	playlist := fmt.Sprintf("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=140000000\n%s\n", variant)

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(playlist))
}

// validHTTPURL is the rule for every URL this service redirects to or
// proxies against: absolute, http(s), non-empty host.
func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
