package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizuage/embyproxy/store"
)

func TestCreatePlanMarksUnresolvableItems(t *testing.T) {
	env := newTestEnv(t)
	env.media.items["known-1"] = store.MediaItem{
		EmbyID: "known-1", Name: "Ep 1", Path: "/media/a.strm", PickCode: "pc1", IsStrm: true,
	}

	body := `{"item_ids":["known-1","ghost-2"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/delete-plans", strings.NewReader(body))
	rec := env.do(t, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, env.plans.created)
	plan := env.plans.created
	require.Len(t, plan.Items, 2)
	assert.True(t, plan.Items[0].Resolvable)
	assert.Equal(t, "pc1", plan.Items[0].PickCode)
	assert.False(t, plan.Items[1].Resolvable)
	assert.True(t, plan.DryRun)
	assert.NotEmpty(t, plan.PlanID)

	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["total_items"])
	assert.Equal(t, float64(1), data["executable_items"])
}

func TestCreatePlanIsDryRunEvenWithExecutionEnabled(t *testing.T) {
	env := newTestEnv(t)
	env.svc.cfg.Delete.ExecutionEnabled = true
	env.media.items["known-1"] = store.MediaItem{EmbyID: "known-1", PickCode: "pc1"}

	body := `{"item_ids":["known-1"]}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/delete-plans", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, env.plans.created)
	assert.True(t, env.plans.created.DryRun)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["dry_run"])
}

func TestCreatePlanRejectsEmptyAndInvalidIDs(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/delete-plans", strings.NewReader(`{"item_ids":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/delete-plans", strings.NewReader(`{"item_ids":["bad id"]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, env.plans.created)
}

func TestExecutePlanGatedByFlag(t *testing.T) {
	env := newTestEnv(t)
	planID := uuid.NewString()

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/delete-plans/"+planID+"/execute", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	errBody := decodeEnvelope(t, rec)["error"].(map[string]any)
	assert.Equal(t, "delete_execution_disabled", errBody["code"])
	assert.Equal(t, 0, env.plans.executions)
}

func TestExecutePlanReturnsSummary(t *testing.T) {
	env := newTestEnv(t)
	env.svc.cfg.Delete.ExecutionEnabled = true
	env.plans.summary = &store.ExecutionSummary{Success: true, ExecutedItems: 2, SkippedItems: 1}
	planID := uuid.NewString()

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/delete-plans/"+planID+"/execute", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, false, data["idempotent"])
	summary := data["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["executed_items"])
}

func TestExecutePlanIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.svc.cfg.Delete.ExecutionEnabled = true
	env.plans.summary = &store.ExecutionSummary{Success: true, ExecutedItems: 2}
	env.plans.idempotent = true
	planID := uuid.NewString()

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/delete-plans/"+planID+"/execute", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, true, data["idempotent"])
}

func TestExecuteUnknownPlanIs404(t *testing.T) {
	env := newTestEnv(t)
	env.svc.cfg.Delete.ExecutionEnabled = true
	env.plans.execErr = store.ErrPlanNotFound

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/delete-plans/"+uuid.NewString()+"/execute", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEventsPassesFilters(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.events.listResult = []store.AggregatedEvent{{
		ID: 1, BucketKey: "k", EventType: "library.new", ItemName: "My Show S01",
		AggregatedCount: 4, WindowStartedAt: now, WindowExpiresAt: now,
	}}

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/events?event_type=library.new&keyword=show&page=2&page_size=50", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "library.new", env.events.listFilter.EventType)
	assert.Equal(t, "show", env.events.listFilter.Keyword)
	assert.Equal(t, 2, env.events.listFilter.Page)
	assert.Equal(t, 50, env.events.listFilter.Size)

	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	items := data["items"].([]any)
	require.Len(t, items, 1)
}
