package emby

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstreamPlaybackInfo = `{
	"MediaSources": [
		{
			"Id": "src-1",
			"Path": "/media/show/ep1.strm",
			"Container": "mkv",
			"Size": 4096,
			"SupportsDirectPlay": false,
			"SupportsDirectStream": false,
			"SupportsTranscoding": true,
			"TranscodingUrl": "/videos/item-1/master.m3u8?DeviceId=abc",
			"TranscodingSubProtocol": "hls",
			"Bitrate": 12000000
		},
		{
			"Id": "src-2",
			"Path": "/media/show/ep1.alt.strm",
			"SupportsTranscoding": true
		}
	],
	"PlaySessionId": "session-9"
}`

func decodeDoc(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

func TestRewriteForcesDirectPlayThroughProxy(t *testing.T) {
	out, err := RewriteForDirectPlay([]byte(upstreamPlaybackInfo), RewriteOptions{
		ProxyBaseURL: "https://proxy.example.com",
		ItemID:       "item-1",
		Token:        "tok",
	})
	require.NoError(t, err)

	doc := decodeDoc(t, out)
	sources := doc["MediaSources"].([]any)
	require.Len(t, sources, 2)

	for _, entry := range sources {
		source := entry.(map[string]any)
		assert.Equal(t, true, source["SupportsDirectPlay"])
		assert.Equal(t, false, source["SupportsTranscoding"])
		assert.NotContains(t, source, "TranscodingUrl")
		assert.NotContains(t, source, "TranscodingSubProtocol")

		streamURL := source["DirectStreamUrl"].(string)
		assert.True(t, strings.HasPrefix(streamURL, "https://proxy.example.com/videos/item-1/stream?"), streamURL)
		assert.NotContains(t, streamURL, "emby")
	}
}

func TestRewritePreservesUpstreamShape(t *testing.T) {
	out, err := RewriteForDirectPlay([]byte(upstreamPlaybackInfo), RewriteOptions{
		ProxyBaseURL: "https://proxy.example.com",
		ItemID:       "item-1",
	})
	require.NoError(t, err)

	doc := decodeDoc(t, out)
	assert.Equal(t, "session-9", doc["PlaySessionId"])

	source := doc["MediaSources"].([]any)[0].(map[string]any)
	assert.Equal(t, "/media/show/ep1.strm", source["Path"])
	assert.Equal(t, "mkv", source["Container"])
	assert.Equal(t, float64(12000000), source["Bitrate"])
}

func TestRewriteNarrowsToRequestedSource(t *testing.T) {
	out, err := RewriteForDirectPlay([]byte(upstreamPlaybackInfo), RewriteOptions{
		ProxyBaseURL:  "https://proxy.example.com",
		ItemID:        "item-1",
		MediaSourceID: "src-2",
	})
	require.NoError(t, err)

	sources := decodeDoc(t, out)["MediaSources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "src-2", sources[0].(map[string]any)["Id"])
}

func TestRewriteUnknownSourceFails(t *testing.T) {
	_, err := RewriteForDirectPlay([]byte(upstreamPlaybackInfo), RewriteOptions{
		ProxyBaseURL:  "https://proxy.example.com",
		ItemID:        "item-1",
		MediaSourceID: "src-404",
	})
	assert.Error(t, err)
}

func TestRewriteWithoutSourcesPassesThrough(t *testing.T) {
	body := []byte(`{"ErrorCode":"NotAllowed"}`)
	out, err := RewriteForDirectPlay(body, RewriteOptions{ProxyBaseURL: "https://p", ItemID: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(out))
}

func TestStreamURLEscapesAndEncodes(t *testing.T) {
	u := StreamURL("https://proxy.example.com/", "item 1", "src&1", "t k")
	assert.Equal(t, "https://proxy.example.com/videos/item%201/stream?api_key=t+k&media_source_id=src%261", u)
}
