package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TypeLibraryRefresh = "library:refresh"

	queueName = "embyproxy"
)

// LibraryRefreshPayload identifies the bucket that asked for a refresh.
type LibraryRefreshPayload struct {
	BucketKey string `json:"bucket_key"`
	Series    string `json:"series"`
}

// LibraryRefresher triggers a metadata refresh on the media server.
type LibraryRefresher interface {
	RefreshLibrary(ctx context.Context) error
}

// Queue enqueues background work. Tasks carry a stable id derived from the
// aggregation bucket, so a burst of webhooks schedules one refresh only.
type Queue struct {
	client *asynq.Client
	logger zerolog.Logger
}

func NewQueue(redisOpt *redis.Options, logger zerolog.Logger) *Queue {
	opt := asynq.RedisClientOpt{
		Addr:     redisOpt.Addr,
		Username: redisOpt.Username,
		Password: redisOpt.Password,
		DB:       redisOpt.DB,
	}
	return &Queue{
		client: asynq.NewClient(opt),
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueLibraryRefresh schedules one refresh per bucket. The task id keeps
// duplicates out while a task with the same bucket is still pending.
func (q *Queue) EnqueueLibraryRefresh(ctx context.Context, p LibraryRefreshPayload, delay time.Duration) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("tasks: marshal payload: %w", err)
	}
	task := asynq.NewTask(TypeLibraryRefresh, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(TypeLibraryRefresh+":"+p.BucketKey),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
	)
	if err != nil {
		if err == asynq.ErrTaskIDConflict {
			q.logger.Debug().Str("bucket", p.BucketKey).Msg("refresh already scheduled")
			return nil
		}
		return fmt.Errorf("tasks: enqueue refresh: %w", err)
	}
	q.logger.Info().Str("bucket", p.BucketKey).Dur("delay", delay).Msg("library refresh scheduled")
	return nil
}

// NewServer builds the worker that drains the queue.
func NewServer(redisOpt *redis.Options, refresher LibraryRefresher, logger zerolog.Logger) *asynq.Server {
	opt := asynq.RedisClientOpt{
		Addr:     redisOpt.Addr,
		Username: redisOpt.Username,
		Password: redisOpt.Password,
		DB:       redisOpt.DB,
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{queueName: 1},
		Logger:      asynqLogger{logger.With().Str("component", "worker").Logger()},
	})
	return srv
}

// NewMux registers the task handlers.
func NewMux(refresher LibraryRefresher, logger zerolog.Logger) *asynq.ServeMux {
	log := logger.With().Str("component", "worker").Logger()
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeLibraryRefresh, func(ctx context.Context, t *asynq.Task) error {
		var p LibraryRefreshPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("tasks: decode payload: %w", err)
		}
		if err := refresher.RefreshLibrary(ctx); err != nil {
			log.Warn().Err(err).Str("bucket", p.BucketKey).Msg("library refresh failed")
			return err
		}
		log.Info().Str("bucket", p.BucketKey).Str("series", p.Series).Msg("library refresh done")
		return nil
	})
	return mux
}

type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
