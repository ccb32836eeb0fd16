package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mizuage/embyproxy/config"
	"github.com/mizuage/embyproxy/drive"
	"github.com/mizuage/embyproxy/store"
	"github.com/mizuage/embyproxy/tasks"
)

type fakeEmby struct {
	body       []byte
	err        error
	serverBase string
}

func (f *fakeEmby) PlaybackInfo(_ context.Context, serverBase, _, _, _, _ string) ([]byte, error) {
	f.serverBase = serverBase
	return f.body, f.err
}

func (f *fakeEmby) Ping(context.Context) error { return nil }

type fakeResolver struct {
	link      *drive.DirectLink
	err       error
	calls     int
	pickcodes []string
}

func (f *fakeResolver) Resolve(_ context.Context, pickcode, _ string) (*drive.DirectLink, error) {
	f.calls++
	f.pickcodes = append(f.pickcodes, pickcode)
	return f.link, f.err
}

type fakeEvents struct {
	records    []store.IncomingEvent
	listFilter store.EventFilter
	listResult []store.AggregatedEvent
}

func (f *fakeEvents) Record(_ context.Context, ev store.IncomingEvent, window time.Duration) (*store.AggregatedEvent, bool, error) {
	f.records = append(f.records, ev)
	count := 0
	for _, r := range f.records {
		if r.BucketKey == ev.BucketKey {
			count++
		}
	}
	now := time.Now().UTC()
	return &store.AggregatedEvent{
		ID:              int64(len(f.records)),
		BucketKey:       ev.BucketKey,
		EventType:       ev.EventType,
		AggregatedCount: count,
		WindowStartedAt: now,
		WindowExpiresAt: now.Add(window),
	}, count > 1, nil
}

func (f *fakeEvents) List(_ context.Context, filter store.EventFilter) ([]store.AggregatedEvent, int64, error) {
	f.listFilter = filter
	return f.listResult, int64(len(f.listResult)), nil
}

type fakePlans struct {
	created *store.DeletePlan
	plan    *store.DeletePlan

	summary    *store.ExecutionSummary
	idempotent bool
	execErr    error
	executions int
}

func (f *fakePlans) Create(_ context.Context, plan *store.DeletePlan) error {
	f.created = plan
	return nil
}

func (f *fakePlans) Get(_ context.Context, planID string) (*store.DeletePlan, error) {
	if f.plan == nil || f.plan.PlanID != planID {
		return nil, store.ErrPlanNotFound
	}
	return f.plan, nil
}

func (f *fakePlans) Execute(_ context.Context, planID, _ string, _ store.RemoveFileFunc) (*store.ExecutionSummary, bool, error) {
	f.executions++
	if f.execErr != nil {
		return nil, false, f.execErr
	}
	return f.summary, f.idempotent, nil
}

type fakeMedia struct {
	items    map[string]store.MediaItem
	upserted []store.MediaItem
}

func (f *fakeMedia) GetByEmbyIDs(_ context.Context, ids []string) (map[string]store.MediaItem, error) {
	out := map[string]store.MediaItem{}
	for _, id := range ids {
		if m, ok := f.items[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeMedia) Upsert(_ context.Context, m store.MediaItem) error {
	f.upserted = append(f.upserted, m)
	return nil
}

type fakeQueue struct {
	enqueued []tasks.LibraryRefreshPayload
}

func (f *fakeQueue) EnqueueLibraryRefresh(_ context.Context, p tasks.LibraryRefreshPayload, _ time.Duration) error {
	f.enqueued = append(f.enqueued, p)
	return nil
}

type testEnv struct {
	svc      *Service
	emby     *fakeEmby
	resolver *fakeResolver
	events   *fakeEvents
	plans    *fakePlans
	media    *fakeMedia
	queue    *fakeQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.Proxy.BaseURL = "https://proxy.example.com"
	cfg.Emby.BaseURL = "http://emby:8096"
	cfg.Drive.Cookie = "UID=1; CID=2"
	cfg.Aggregate.Window = 10 * time.Second

	env := &testEnv{
		emby:     &fakeEmby{},
		resolver: &fakeResolver{},
		events:   &fakeEvents{},
		plans:    &fakePlans{},
		media:    &fakeMedia{items: map[string]store.MediaItem{}},
		queue:    &fakeQueue{},
	}
	env.svc = NewService(cfg, zerolog.Nop(), Deps{
		Emby:     env.emby,
		Resolver: env.resolver,
		Events:   env.events,
		Plans:    env.plans,
		Media:    env.media,
		Queue:    env.queue,
	})
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.svc.Router().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}
