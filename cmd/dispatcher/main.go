package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/flowsmith/bpmn-backend/config"
	"github.com/flowsmith/bpmn-backend/internal/cache"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/repository"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/service"
	"github.com/flowsmith/bpmn-backend/internal/outbox"
	"github.com/flowsmith/bpmn-backend/internal/outbox/handlers"
	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
	"github.com/flowsmith/bpmn-backend/internal/storage/blob"
	"github.com/flowsmith/bpmn-backend/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logg, err := logger.New(cfg.App.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		logg.Fatal("connect postgres", "error", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var blobs blob.Store
	if cfg.Blob.Bucket != "" {
		gcs, err := blob.NewGCSStore(ctx, cfg.Blob.Bucket)
		if err != nil {
			logg.Fatal("connect blob store", "error", err)
		}
		defer gcs.Close()
		blobs = gcs
	} else {
		logg.Warn("BLOB_BUCKET not set, using in-memory blob store")
		blobs = blob.NewMemoryStore()
	}

	repo := repository.NewDiagramRepository(db)
	diagramCache := cache.New(rdb, cfg.Cache.DiagramTTL, cfg.Cache.SummaryTTL)
	queries := service.NewQueryService(repo, diagramCache, blobs, logg)

	outboxRepo := outbox.NewRepository(db, cfg.Dispatcher.ClaimTimeout)
	dispatcher := outbox.NewDispatcher(outboxRepo, logg, cfg.Dispatcher.PollInterval, cfg.Dispatcher.BatchSize, cfg.Dispatcher.HandlerPerSec)

	thumbnails := handlers.NewThumbnailHandler(queries, blobs, logg)
	notify := handlers.NewNotifyHandler(cfg.Dispatcher.NotifyEndpoint, logg)

	dispatcher.Register(domain.EventDiagramCreated, outbox.Chain(thumbnails, notify))
	dispatcher.Register(domain.EventDiagramSaved, outbox.Chain(thumbnails, notify))
	dispatcher.Register(domain.EventDiagramDeleted, notify)

	audit := outbox.NewAuditScheduler(outboxRepo, logg)
	cronLoop := audit.Start()
	defer cronLoop.Stop()

	dispatcher.Run(ctx)
}
