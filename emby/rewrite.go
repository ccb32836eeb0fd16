package emby

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// ErrUnauthorized is returned when Emby rejects the session credential.
var ErrUnauthorized = errors.New("emby: unauthorized")

// RewriteOptions control how a PlaybackInfo response is rewritten.
type RewriteOptions struct {
	// ProxyBaseURL is where rewritten stream URLs point.
	ProxyBaseURL string
	ItemID       string
	// MediaSourceID, when set, narrows the response to that single source.
	MediaSourceID string
	// Token is the session credential propagated onto the stream URL so
	// the redirect gateway can resolve with it.
	Token string
}

// RewriteForDirectPlay rewrites an upstream PlaybackInfo body so every
// advertised source is direct-play through the redirect gateway and
// server-side transcoding is switched off. All fields the rewriter does not
// touch pass through unchanged; the response keeps the upstream shape.
func RewriteForDirectPlay(body []byte, opts RewriteOptions) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("emby: undecodable playback info: %w", err)
	}

	raw, ok := doc["MediaSources"].([]any)
	if !ok || len(raw) == 0 {
		// Nothing to rewrite; hand the upstream answer through.
		return body, nil
	}

	sources := make([]any, 0, len(raw))
	for _, entry := range raw {
		source, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id, _ := source["Id"].(string)
		if opts.MediaSourceID != "" && id != opts.MediaSourceID {
			continue
		}
		rewriteSource(source, id, opts)
		sources = append(sources, source)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("emby: media source %q not in playback info", opts.MediaSourceID)
	}
	doc["MediaSources"] = sources

	return json.Marshal(doc)
}

func rewriteSource(source map[string]any, id string, opts RewriteOptions) {
	source["SupportsDirectPlay"] = true
	source["SupportsDirectStream"] = true
	source["SupportsTranscoding"] = false
	source["Protocol"] = "Http"
	delete(source, "TranscodingUrl")
	delete(source, "TranscodingSubProtocol")
	delete(source, "TranscodingContainer")

	source["DirectStreamUrl"] = StreamURL(opts.ProxyBaseURL, opts.ItemID, id, opts.Token)
}

// StreamURL builds the redirect-gateway stream URL for one media source.
func StreamURL(proxyBase, itemID, mediaSourceID, token string) string {
	q := url.Values{}
	if mediaSourceID != "" {
		q.Set("media_source_id", mediaSourceID)
	}
	if token != "" {
		q.Set("api_key", token)
	}
	u := fmt.Sprintf("%s/videos/%s/stream", strings.TrimRight(proxyBase, "/"), url.PathEscape(itemID))
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}
