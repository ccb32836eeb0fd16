package handler

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mizuage/embyproxy/common"
)

// NewPassthroughProxy builds the reverse proxy that carries every request
// this service does not intercept straight to the upstream server.
func NewPassthroughProxy(baseURL string, logger zerolog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	log := logger.With().Str("component", "proxy").Logger()

	director := func(req *http.Request) {
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.URL.Path, req.URL.RawPath = joinURLPath(target, req.URL)
		req.Host = target.Host
		if _, ok := req.Header["User-Agent"]; !ok {
			// explicitly disable User-Agent so it's not set to default value
			req.Header.Set("User-Agent", "")
		}
	}

	proxy := &httputil.ReverseProxy{Director: director}
	proxy.FlushInterval = -1
	proxy.ErrorLog = common.StdLogger(log)
	proxy.ModifyResponse = modifyResponse
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		switch r.Context().Err() {
		case context.Canceled:
			w.WriteHeader(http.StatusBadRequest)
		case context.DeadlineExceeded:
			w.WriteHeader(http.StatusGatewayTimeout)
		default:
			log.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
			w.WriteHeader(http.StatusBadGateway)
		}
	}
	return proxy, nil
}

func joinURLPath(a, b *url.URL) (path, rawpath string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}
	// Same as singleJoiningSlash, but uses EscapedPath to determine
	// whether a slash should be added
	apath := a.EscapedPath()
	bpath := b.EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return a.Path + b.Path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return a.Path + "/" + b.Path, apath + "/" + bpath
	}
	return a.Path + b.Path, apath + bpath
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func modifyResponse(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return nil
	}
	switch strings.SplitN(contentType, "/", 2)[0] {
	case "audio", "video":
		resp.Header.Set("Cache-Control", "no-cache")
		resp.Header.Set("Vary", "*")
	case "image":
		resp.Header.Set("Cache-Control", "public, max-age=86400, s-maxage=259200")
	default:
		resp.Header.Set("Cache-Control", "no-cache")
	}
	return nil
}
