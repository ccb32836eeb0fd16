package handler

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mizuage/embyproxy/common"
	"github.com/mizuage/embyproxy/config"
	"github.com/mizuage/embyproxy/drive"
	"github.com/mizuage/embyproxy/store"
	"github.com/mizuage/embyproxy/tasks"
)

const playbackCacheTTL = 30 * time.Second

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// PlaybackSource fetches playback descriptors from the media server.
// serverBase, when non-empty, overrides the configured upstream.
type PlaybackSource interface {
	PlaybackInfo(ctx context.Context, serverBase, itemID, userID, mediaSourceID, token string) ([]byte, error)
	Ping(ctx context.Context) error
}

// LinkResolver resolves a pickcode into a time-limited direct link.
type LinkResolver interface {
	Resolve(ctx context.Context, pickcode, cookie string) (*drive.DirectLink, error)
}

// EventRecorder persists aggregated webhook events.
type EventRecorder interface {
	Record(ctx context.Context, ev store.IncomingEvent, window time.Duration) (*store.AggregatedEvent, bool, error)
	List(ctx context.Context, f store.EventFilter) ([]store.AggregatedEvent, int64, error)
}

// PlanRepository persists and executes delete plans.
type PlanRepository interface {
	Create(ctx context.Context, plan *store.DeletePlan) error
	Get(ctx context.Context, planID string) (*store.DeletePlan, error)
	Execute(ctx context.Context, planID, executedBy string, removeFile store.RemoveFileFunc) (*store.ExecutionSummary, bool, error)
}

// MediaRepository tracks known library items and their pickcodes.
type MediaRepository interface {
	GetByEmbyIDs(ctx context.Context, ids []string) (map[string]store.MediaItem, error)
	Upsert(ctx context.Context, m store.MediaItem) error
}

// RefreshEnqueuer schedules deduplicated library refreshes.
type RefreshEnqueuer interface {
	EnqueueLibraryRefresh(ctx context.Context, p tasks.LibraryRefreshPayload, delay time.Duration) error
}

// Pinger reports backing-store liveness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Service holds every dependency of the HTTP surface. Everything is an
// interface so tests can swap in fakes.
type Service struct {
	cfg      *config.Config
	log      zerolog.Logger
	emby     PlaybackSource
	resolver LinkResolver
	events   EventRecorder
	plans    PlanRepository
	media    MediaRepository
	queue    RefreshEnqueuer
	db       Pinger
	validate *validator.Validate
	locks    common.KeyedLock
	pbCache  *common.TTLCache[[]byte]
	proxy    http.Handler
}

// Deps bundles the Service constructor arguments. Queue and DB may be nil;
// the matching features degrade instead of failing.
type Deps struct {
	Emby     PlaybackSource
	Resolver LinkResolver
	Events   EventRecorder
	Plans    PlanRepository
	Media    MediaRepository
	Queue    RefreshEnqueuer
	DB       Pinger
	Proxy    http.Handler
}

func NewService(cfg *config.Config, logger zerolog.Logger, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		log:      logger.With().Str("component", "http").Logger(),
		emby:     deps.Emby,
		resolver: deps.Resolver,
		events:   deps.Events,
		plans:    deps.Plans,
		media:    deps.Media,
		queue:    deps.Queue,
		db:       deps.DB,
		validate: validator.New(),
		locks:    common.NewKeyedLock(),
		pbCache:  common.NewTTLCache[[]byte](256),
		proxy:    deps.Proxy,
	}
}

// InvalidatePlaybackCache drops cached playback descriptors. Wired to the
// library-changed notification.
func (s *Service) InvalidatePlaybackCache() {
	s.pbCache.Purge()
}

// Router wires all routes. Anything unmatched is passed through to the
// upstream server untouched.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Playback interception; Emby clients call either form.
	r.HandleFunc("/Items/{item}/PlaybackInfo", s.handlePlaybackInfo).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/emby/Items/{item}/PlaybackInfo", s.handlePlaybackInfo).Methods(http.MethodPost, http.MethodGet)

	r.HandleFunc("/videos/{item}/stream", s.handleStreamRedirect).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/videos/{item}/master.m3u8", s.handleMasterPlaylist).Methods(http.MethodGet)

	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhook/emby", s.handleWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/delete-plans", s.handleCreatePlan).Methods(http.MethodPost)
	api.HandleFunc("/delete-plans/{plan_id}", s.handleGetPlan).Methods(http.MethodGet)
	api.HandleFunc("/delete-plans/{plan_id}/execute", s.handleExecutePlan).Methods(http.MethodPost)

	if s.proxy != nil {
		r.NotFoundHandler = s.requestLogger(s.proxy)
	}
	return r
}

func validIdentifier(s string) bool {
	return s != "" && identifierRe.MatchString(s)
}
