package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/mizuage/embyproxy/drive"
	"github.com/mizuage/embyproxy/store"
)

// Error codes surfaced to API callers.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeUpstreamAuth     = "upstream_credential"
	codeUpstreamDown     = "upstream_unreachable"
	codeRateLimited      = "rate_limited"
	codeTimeout          = "upstream_timeout"
	codeInternal         = "internal_error"
	codeExecutionLocked  = "delete_execution_disabled"
	codePlaybackUpstream = "playback_upstream_error"
)

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorBody{Code: code, Message: message}})
}

// writeDriveError maps the drive error taxonomy onto HTTP statuses. An
// expired or revoked cloud credential is the backend's fault, never the
// player's, so it must not surface as 401.
func writeDriveError(w http.ResponseWriter, err error) {
	body := &errorBody{Code: codeInternal, Message: err.Error()}
	status := http.StatusInternalServerError

	switch drive.KindOf(err) {
	case drive.KindInvalidCredential:
		status = http.StatusBadGateway
		body.Code = codeUpstreamAuth
	case drive.KindNotFound:
		status = http.StatusNotFound
		body.Code = codeNotFound
	case drive.KindRateLimited:
		status = http.StatusServiceUnavailable
		body.Code = codeRateLimited
		var de *drive.Error
		if errors.As(err, &de) && de.RetryAfter > 0 {
			secs := int(de.RetryAfter.Seconds())
			body.RetryAfter = &secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case drive.KindUnreachable:
		status = http.StatusBadGateway
		body.Code = codeUpstreamDown
	case drive.KindTimeout:
		status = http.StatusGatewayTimeout
		body.Code = codeTimeout
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: body})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrPlanNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "plan not found")
		return
	}
	writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
}
