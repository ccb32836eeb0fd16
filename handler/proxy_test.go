package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthroughForwardsUnmatchedRoutes(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		switch r.URL.Path {
		case "/Items/1/Images/Primary":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpegbytes"))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"Version":"4.8.0.0"}`))
		}
	}))
	defer upstream.Close()

	proxy, err := NewPassthroughProxy(upstream.URL, zerolog.Nop())
	require.NoError(t, err)

	env := newTestEnv(t)
	env.svc.proxy = proxy

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/System/Info/Public", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/System/Info/Public", gotPath)
	assert.Equal(t, `{"Version":"4.8.0.0"}`, rec.Body.String())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/Items/1/Images/Primary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpegbytes", rec.Body.String())
	assert.Equal(t, "public, max-age=86400, s-maxage=259200", rec.Header().Get("Cache-Control"))
}

func TestPassthroughRejectsBadBaseURL(t *testing.T) {
	_, err := NewPassthroughProxy("://not-a-url", zerolog.Nop())
	assert.Error(t, err)
}
