package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/mizuage/embyproxy/common"
	"github.com/mizuage/embyproxy/config"
	"github.com/mizuage/embyproxy/drive"
	"github.com/mizuage/embyproxy/emby"
	"github.com/mizuage/embyproxy/handler"
	"github.com/mizuage/embyproxy/store"
	"github.com/mizuage/embyproxy/tasks"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := common.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("config load failed")
	}
	logger := common.NewLogger(cfg.Log.Level)

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connect failed")
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("database migrate failed")
	}

	var redisOpt *redis.Options
	var linkCache drive.LinkCache
	if cfg.Cache.RedisURL != "" {
		redisOpt, err = redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("bad redis url")
		}
		linkCache = drive.NewRedisCache(redis.NewClient(redisOpt))
		logger.Info().Msg("link cache backed by redis")
	} else {
		linkCache = drive.NewMemoryCache(cfg.Cache.LinkCapacity)
		logger.Info().Msg("link cache in memory")
	}

	driveClient := drive.NewClient(cfg.Drive.BaseURL, cfg.Drive.UserAgent, logger)
	resolver := drive.NewCachedResolver(driveClient, linkCache, cfg.Cache.LinkTTL, logger)
	embyClient := emby.NewClient(cfg.Emby.BaseURL, cfg.Emby.APIKey, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var queue *tasks.Queue
	if redisOpt != nil {
		queue = tasks.NewQueue(redisOpt, logger)
		defer queue.Close()

		worker := tasks.NewServer(redisOpt, embyClient, logger)
		workerMux := tasks.NewMux(embyClient, logger)
		go func() {
			if err := worker.Run(workerMux); err != nil {
				logger.Error().Err(err).Msg("task worker stopped")
			}
		}()
		defer worker.Shutdown()
	} else {
		logger.Warn().Msg("no redis configured, library refresh queue disabled")
	}

	eventStore := store.NewEventStore(db)
	planStore := store.NewPlanStore(db)
	mediaStore := store.NewMediaStore(db)

	proxy, err := handler.NewPassthroughProxy(cfg.Emby.BaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bad emby base url")
	}

	deps := handler.Deps{
		Emby:     embyClient,
		Resolver: resolver,
		Events:   eventStore,
		Plans:    planStore,
		Media:    mediaStore,
		DB:       db,
		Proxy:    proxy,
	}
	if queue != nil {
		deps.Queue = queue
	}
	svc := handler.NewService(cfg, logger, deps)

	go emby.ListenWebsocket(ctx, cfg.Emby.BaseURL, cfg.Emby.APIKey, logger, svc.InvalidatePlaybackCache)

	scheduler := cron.New()
	_, _ = scheduler.AddFunc("@every 1m", func() {
		resolver.Sweep(context.Background())
	})
	_, _ = scheduler.AddFunc("@every 30s", func() {
		if n, err := eventStore.CloseExpired(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("bucket close sweep failed")
		} else if n > 0 {
			logger.Debug().Int64("closed", n).Msg("closed stale buckets")
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:     cfg.Server.Addr,
		Handler:  svc.Router(),
		ErrorLog: common.StdLogger(logger),
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
