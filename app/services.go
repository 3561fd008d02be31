package app

import (
	"bitwise74/asset-api/aws"
	"bitwise74/asset-api/cloudflare"
	"bitwise74/asset-api/config"
	"bitwise74/asset-api/db"
	"bitwise74/asset-api/internal"
	"bitwise74/asset-api/internal/service"
	"bitwise74/asset-api/internal/session"
	"bitwise74/asset-api/internal/storage"
	"bitwise74/asset-api/pkg/security"
	"bitwise74/asset-api/pkg/validators"
	"context"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Services holds everything built from the config. Both the API and the
// worker run on top of it.
type Services struct {
	Deps      *internal.Deps
	Processor *service.Processor
	Janitor   *service.Janitor

	redisOpt *asynq.RedisClientOpt
	queue    *service.JobQueue
	cron     *cron.Cron
	closers  []func() error
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "s3":
		c, err := aws.NewS3(ctx, aws.Options{
			AccessKey:       cfg.AWS.AccessKey,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Region:          cfg.AWS.Region,
			Bucket:          cfg.AWS.Bucket,
			Endpoint:        cfg.AWS.Endpoint,
			PathStyle:       cfg.AWS.Endpoint != "",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client, %w", err)
		}

		return storage.NewS3Store(c), nil
	case "r2":
		c, err := cloudflare.NewR2(ctx,
			cfg.Cloudflare.AccountID,
			cfg.Cloudflare.AccessKeyID,
			cfg.Cloudflare.SecretAccessKey,
			cfg.Cloudflare.Bucket,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize R2 client, %w", err)
		}

		return storage.NewS3Store(c), nil
	default:
		return storage.NewLocalStore(cfg.Storage.LocalPath)
	}
}

// NewServices connects to the database, storage and redis. Background
// workers aren't started yet.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{}

	gdb, err := db.New(db.Options{
		Type: cfg.DB.Type,
		Path: cfg.DB.Path,
		DSN:  cfg.DB.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	settings := service.NewSettings(gdb, map[string]string{
		service.SettingAITagging:      strconv.FormatBool(cfg.Tagging.Enabled),
		service.SettingStorageRoot:    cfg.Storage.Root,
		service.SettingThumbnailWidth: strconv.Itoa(cfg.Thumbnail.Width),
	})
	s.closers = append(s.closers, settings.Close)

	var tagger *service.Tagger
	if cfg.Tagging.Endpoint != "" {
		tagger = service.NewTagger(
			cfg.Tagging.Endpoint,
			cfg.Tagging.APIKey,
			cfg.Tagging.MinConfidence,
			cfg.Tagging.MaxTags,
			cfg.Tagging.Timeout,
		)
	}

	s.Processor = &service.Processor{
		DB:         gdb,
		Store:      store,
		Settings:   settings,
		Tagger:     tagger,
		ThumbWidth: cfg.Thumbnail.Width,
	}

	uploader := &service.Uploader{
		DB:       gdb,
		Store:    store,
		Settings: settings,
		Rules: validators.UploadRules{
			MaxSize:      cfg.Upload.MaxSize,
			AllowedTypes: cfg.Upload.AllowedTypes,
		},
		ChunkSize:  service.DefaultChunkSize,
		RootFolder: cfg.Storage.Root,
	}

	var sessions session.Store

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis, %w", err)
		}
		s.closers = append(s.closers, rdb.Close)

		sessions = session.NewRedisStore(rdb, cfg.Upload.SessionTTL)

		s.redisOpt = &asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}

		dispatcher := service.NewAsynqDispatcher(*s.redisOpt, cfg.Jobs.Queue)
		s.closers = append(s.closers, dispatcher.Close)
		uploader.Dispatcher = dispatcher

		zap.L().Info("Using redis for upload sessions and background jobs", zap.String("addr", cfg.Redis.Addr))
	} else {
		// Chunks of expired sessions are dropped right away, the sweeper
		// only has to catch what a restart left behind
		sessions = session.NewMemoryStore(cfg.Upload.SessionTTL, func(expired *session.Session) {
			zap.L().Debug("Upload session expired", zap.String("user_id", expired.UserID))
			uploader.DeleteChunks(context.Background(), expired.Token)
		})

		s.queue = service.NewJobQueue(cfg.Jobs.Workers, cfg.Jobs.MaxQueued, s.Processor.Handle)
		uploader.Dispatcher = s.queue
	}
	s.closers = append(s.closers, sessions.Close)

	uploader.Sessions = sessions

	s.Janitor = &service.Janitor{
		DB:             gdb,
		Store:          store,
		Sessions:       sessions,
		TrashRetention: cfg.Storage.TrashRetention,
	}

	s.Deps = &internal.Deps{
		DB:    gdb,
		Argon: security.New(),
		Guard: security.NewJWTGuard(
			cfg.JWT.Issuer,
			cfg.JWT.MaxTTL,
			cfg.JWT.Leeway,
			cfg.JWT.RequiredClaims,
		),
		Store:    store,
		Uploader: uploader,
		Settings: settings,
		Config:   cfg,
	}

	return s, nil
}

// StartBackground starts the periodic cleanups and, without redis, the
// in-process job workers
func (s *Services) StartBackground() error {
	if s.queue != nil {
		s.queue.StartWorkerPool()
	}

	c, err := s.Janitor.Start(s.Deps.Config.Upload.SweepInterval)
	if err != nil {
		return err
	}
	s.cron = c

	return nil
}

// Worker returns the asynq server that processes queued tasks. It needs
// redis.
func (s *Services) Worker() (*asynq.Server, *asynq.ServeMux, error) {
	if s.redisOpt == nil {
		return nil, nil, fmt.Errorf("worker mode requires redis")
	}

	cfg := s.Deps.Config
	concurrency := cfg.Jobs.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Jobs.Workers
	}

	srv, mux := service.NewAsynqWorker(*s.redisOpt, cfg.Jobs.Queue, concurrency, s.Processor.Handle)
	return srv, mux, nil
}

// Close stops the background work and releases every connection
func (s *Services) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	if s.queue != nil {
		s.queue.Stop()
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			zap.L().Warn("Failed to release resource", zap.Error(err))
		}
	}

	if sqlDB, err := s.Deps.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
