package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowsmith/bpmn-backend/config"
	"github.com/flowsmith/bpmn-backend/internal/billing"
	"github.com/flowsmith/bpmn-backend/internal/bootstrap"
	"github.com/flowsmith/bpmn-backend/internal/cache"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/repository"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/service"
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

	bootstrap.SetGinMode(cfg.App.Environment)

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

	diagramCache := cache.New(rdb, cfg.Cache.DiagramTTL, cfg.Cache.SummaryTTL)
	repo := repository.NewDiagramRepository(db)
	quota := billing.NewStaticQuota(cfg.Quota.DefaultMaxDiagrams)

	diagramService := service.NewDiagramService(repo, diagramCache, blobs, quota, logg, cfg.Blob.InlineThresholdBytes)
	queryService := service.NewQueryService(repo, diagramCache, blobs, logg)

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:    "bpmn-backend",
		Version:        cfg.App.Version,
		DB:             db,
		Redis:          rdb,
		DiagramService: diagramService,
		QueryService:   queryService,
		Log:            logg,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logg.Info("api listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("serve", "error", err)
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown", "error", err)
	}
}
