package handler

import (
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mizuage/embyproxy/store"
)

type createPlanRequest struct {
	Source  string   `json:"source"`
	ItemIDs []string `json:"item_ids" validate:"required,min=1,max=500,dive,required"`
}

// handleCreatePlan resolves the requested items against the media table and
// persists a plan. Planning never mutates anything; items unknown to the
// table are kept in the plan as unresolvable so the caller can see them.
func (s *Service) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "unreadable body")
		return
	}
	var req createPlanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed plan request")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	for _, id := range req.ItemIDs {
		if !validIdentifier(id) {
			writeError(w, http.StatusBadRequest, codeBadRequest, "invalid item id: "+id)
			return
		}
	}
	if req.Source == "" {
		req.Source = "api"
	}

	known, err := s.media.GetByEmbyIDs(r.Context(), req.ItemIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	items := make([]store.PlanItem, 0, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		item := store.PlanItem{ItemID: id}
		if m, ok := known[id]; ok {
			item.Name = m.Name
			item.Path = m.Path
			item.PickCode = m.PickCode
			item.IsStrm = m.IsStrm
			item.Resolvable = true
		}
		items = append(items, item)
	}

	// Planning is always a dry run; mutation only ever happens through an
	// explicit execute call, regardless of the execution flag.
	plan := &store.DeletePlan{
		PlanID:         uuid.NewString(),
		Source:         req.Source,
		DryRun:         true,
		RequestPayload: body,
		Items:          items,
	}
	if err := s.plans.Create(r.Context(), plan); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	executable := 0
	for _, item := range items {
		if item.Resolvable {
			executable++
		}
	}
	writeJSON(w, http.StatusCreated, createPlanResponse{
		PlanID:          plan.PlanID,
		TotalItems:      len(items),
		ExecutableItems: executable,
		DryRun:          plan.DryRun,
		Items:           items,
	})
}

type createPlanResponse struct {
	PlanID          string           `json:"plan_id"`
	TotalItems      int              `json:"total_items"`
	ExecutableItems int              `json:"executable_items"`
	DryRun          bool             `json:"dry_run"`
	Items           []store.PlanItem `json:"items"`
}

func (s *Service) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["plan_id"]
	if _, err := uuid.Parse(planID); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid plan id")
		return
	}
	plan, err := s.plans.Get(r.Context(), planID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type executePlanResponse struct {
	PlanID     string                  `json:"plan_id"`
	Idempotent bool                    `json:"idempotent"`
	Summary    *store.ExecutionSummary `json:"summary"`
}

// handleExecutePlan runs a plan once. The execution feature flag is checked
// on every call: flipping it off blocks even plans created while it was on.
func (s *Service) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Delete.ExecutionEnabled {
		writeError(w, http.StatusForbidden, codeExecutionLocked, "delete execution is disabled")
		return
	}
	planID := mux.Vars(r)["plan_id"]
	if _, err := uuid.Parse(planID); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid plan id")
		return
	}
	executedBy := r.Header.Get("X-Operator")
	if executedBy == "" {
		executedBy = "api"
	}

	summary, idempotent, err := s.plans.Execute(r.Context(), planID, executedBy, removeStrmFile)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executePlanResponse{
		PlanID:     planID,
		Idempotent: idempotent,
		Summary:    summary,
	})
}

// removeStrmFile deletes the strm stub on disk. A file that is already
// gone counts as removed, so re-running a partially failed plan converges.
func removeStrmFile(item store.PlanItem) error {
	if !item.IsStrm || item.Path == "" {
		return nil
	}
	if err := os.Remove(item.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
