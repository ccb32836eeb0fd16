package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstreamPlaybackBody = `{
	"MediaSources": [{
		"Id": "src-1",
		"Path": "/media/a.strm",
		"SupportsDirectPlay": false,
		"SupportsTranscoding": true,
		"TranscodingUrl": "/videos/item-1/master.m3u8?DeviceId=x"
	}],
	"PlaySessionId": "ps-1"
}`

func TestPlaybackInfoRewritesStreamURLToProxy(t *testing.T) {
	env := newTestEnv(t)
	env.emby.body = []byte(upstreamPlaybackBody)

	req := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo?UserId=u1", nil)
	req.Header.Set("X-Emby-Token", "tok")
	rec := env.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"SupportsDirectPlay":true`)
	assert.Contains(t, body, "https://proxy.example.com/videos/item-1/stream?")
	assert.NotContains(t, body, "TranscodingUrl")
	assert.Contains(t, body, `"PlaySessionId":"ps-1"`)
}

func TestPlaybackInfoRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
	rec := env.do(t, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlaybackInfoRejectsBadItemID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/emby/Items/bad%20id/PlaybackInfo", nil)
	req.Header.Set("X-Emby-Token", "tok")
	rec := env.do(t, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaybackInfoProxyOverrideHeader(t *testing.T) {
	env := newTestEnv(t)
	env.emby.body = []byte(upstreamPlaybackBody)

	req := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
	req.Header.Set("X-Emby-Token", "tok")
	req.Header.Set("X-Proxy-Base-Url", "https://alt.example.com")
	rec := env.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://alt.example.com/videos/item-1/stream?")
	assert.NotContains(t, rec.Body.String(), "proxy.example.com")
}

func TestPlaybackInfoServerOverrideHeader(t *testing.T) {
	env := newTestEnv(t)
	env.emby.body = []byte(upstreamPlaybackBody)

	req := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
	req.Header.Set("X-Emby-Token", "tok")
	req.Header.Set("X-Emby-Base-Url", "http://emby-b:8096")
	rec := env.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://emby-b:8096", env.emby.serverBase)
}

func TestPlaybackInfoRejectsBadOverrideHeader(t *testing.T) {
	env := newTestEnv(t)
	env.emby.body = []byte(upstreamPlaybackBody)

	for _, bad := range []string{"ftp://emby:8096", "emby:8096", "https://"} {
		req := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
		req.Header.Set("X-Emby-Token", "tok")
		req.Header.Set("X-Proxy-Base-Url", bad)
		assert.Equal(t, http.StatusBadRequest, env.do(t, req).Code, bad)

		req = httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
		req.Header.Set("X-Emby-Token", "tok")
		req.Header.Set("X-Emby-Base-Url", bad)
		assert.Equal(t, http.StatusBadRequest, env.do(t, req).Code, bad)
	}
}

func TestPlaybackInfoCachesPerSession(t *testing.T) {
	env := newTestEnv(t)
	env.emby.body = []byte(upstreamPlaybackBody)

	req := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
	req.Header.Set("X-Emby-Token", "tok")
	first := env.do(t, req)
	require.Equal(t, http.StatusOK, first.Code)

	env.emby.body = []byte(`{"MediaSources":[]}`)
	second := env.do(t, httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil))
	assert.Equal(t, http.StatusUnauthorized, second.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
	req2.Header.Set("X-Emby-Token", "tok")
	cached := env.do(t, req2)
	require.Equal(t, http.StatusOK, cached.Code)
	assert.True(t, strings.Contains(cached.Body.String(), "src-1"))

	env.svc.InvalidatePlaybackCache()
	req3 := httptest.NewRequest(http.MethodPost, "/emby/Items/item-1/PlaybackInfo", nil)
	req3.Header.Set("X-Emby-Token", "tok")
	fresh := env.do(t, req3)
	require.Equal(t, http.StatusOK, fresh.Code)
	assert.False(t, strings.Contains(fresh.Body.String(), "src-1"))
}
