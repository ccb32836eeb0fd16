package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mizuage/embyproxy/emby"
)

// Optional per-request overrides for the upstream server and the externally
// visible proxy base. Useful behind split-horizon or multi-ingress setups.
const (
	headerEmbyBaseOverride  = "X-Emby-Base-Url"
	headerProxyBaseOverride = "X-Proxy-Base-Url"
)

func sessionToken(r *http.Request) string {
	if t := r.Header.Get("X-Emby-Token"); t != "" {
		return t
	}
	if t := r.URL.Query().Get("X-Emby-Token"); t != "" {
		return t
	}
	return r.URL.Query().Get("api_key")
}

// handlePlaybackInfo intercepts the player's PlaybackInfo call, fetches the
// upstream descriptor and rewrites it so the client direct-plays through
// this proxy instead of asking Emby to transcode.
func (s *Service) handlePlaybackInfo(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["item"]
	if !validIdentifier(itemID) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid item id")
		return
	}
	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing session token")
		return
	}
	userID := firstQuery(r, "UserId", "userId")
	mediaSourceID := firstQuery(r, "MediaSourceId", "mediaSourceId")
	for _, id := range []string{userID, mediaSourceID} {
		if id != "" && !validIdentifier(id) {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid identifier")
			return
		}
	}

	serverBase := r.Header.Get(headerEmbyBaseOverride)
	proxyBase := r.Header.Get(headerProxyBaseOverride)
	for _, base := range []string{serverBase, proxyBase} {
		if base != "" && !validHTTPURL(base) {
			writeError(w, http.StatusBadRequest, codeBadRequest, "override url must be absolute http(s)")
			return
		}
	}
	if proxyBase == "" {
		proxyBase = s.cfg.Proxy.BaseURL
	}

	cacheKey := strings.Join([]string{itemID, userID, mediaSourceID, token, serverBase, proxyBase}, "|")
	if body, ok := s.pbCache.Get(cacheKey); ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(body)
		return
	}

	upstream, err := s.emby.PlaybackInfo(r.Context(), serverBase, itemID, userID, mediaSourceID, token)
	if err != nil {
		if errors.Is(err, emby.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "emby rejected the session token")
			return
		}
		s.log.Error().Err(err).Str("item", itemID).Msg("playback info fetch failed")
		writeError(w, http.StatusBadGateway, codePlaybackUpstream, "upstream playback info failed")
		return
	}

	body, err := emby.RewriteForDirectPlay(upstream, emby.RewriteOptions{
		ProxyBaseURL:  proxyBase,
		ItemID:        itemID,
		MediaSourceID: mediaSourceID,
		Token:         token,
	})
	if err != nil {
		s.log.Error().Err(err).Str("item", itemID).Msg("playback rewrite failed")
		writeError(w, http.StatusBadGateway, codePlaybackUpstream, err.Error())
		return
	}

	s.pbCache.Set(cacheKey, body, playbackCacheTTL)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(body)
}

func firstQuery(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			return v
		}
	}
	return ""
}
