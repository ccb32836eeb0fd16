package handler

import (
	"context"
	"net/http"
	"time"
)

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	report := healthReport{Status: "ok", Checks: map[string]string{}}
	degraded := false

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			report.Checks["database"] = err.Error()
			degraded = true
		} else {
			report.Checks["database"] = "ok"
		}
	}
	if s.emby != nil {
		if err := s.emby.Ping(ctx); err != nil {
			report.Checks["emby"] = err.Error()
			degraded = true
		} else {
			report.Checks["emby"] = "ok"
		}
	}

	status := http.StatusOK
	if degraded {
		report.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
