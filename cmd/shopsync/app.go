package main

import (
	"net/http"
	"time"

	"github.com/aerochat/shopsync/internal/config"
	"github.com/aerochat/shopsync/internal/content"
	"github.com/aerochat/shopsync/internal/database"
	"github.com/aerochat/shopsync/internal/metrics"
	"github.com/aerochat/shopsync/internal/propagation"
	"github.com/aerochat/shopsync/internal/scheduler"
	"github.com/aerochat/shopsync/internal/security"
	"github.com/aerochat/shopsync/internal/server"
	"github.com/aerochat/shopsync/internal/shopify"
	"github.com/aerochat/shopsync/internal/shops"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const initialWriteRetryDelay = 250 * time.Millisecond

// application holds the wired services shared by the server and the CLI commands.
type application struct {
	db         *gorm.DB
	engine     *content.Engine
	shops      *shops.Service
	runs       *content.GormRunLog
	dispatcher *server.RealtimeDispatcher
	scheduler  *scheduler.Scheduler
	registry   *prometheus.Registry
}

func newApplication(appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	db, err := database.Open(appConfig.Database, logger)
	if err != nil {
		return nil, err
	}

	propagationClient, err := propagation.NewClient(propagation.Config{
		BaseURL: appConfig.Propagation.BaseURL,
		Timeout: appConfig.Propagation.Timeout,
	})
	if err != nil {
		return nil, err
	}

	shopService, err := shops.NewService(shops.ServiceConfig{
		Database:  db,
		Companies: propagationClient,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var shopifyHTTPClient *http.Client
	if appConfig.Shopify.SSRFGuard {
		shopifyHTTPClient = security.NewGuardedClient(appConfig.Shopify.RequestTimeout)
	} else {
		shopifyHTTPClient = &http.Client{Timeout: appConfig.Shopify.RequestTimeout}
	}
	shopifyClient := shopify.NewClient(shopify.Config{
		HTTPClient:        shopifyHTTPClient,
		APIVersion:        appConfig.Shopify.APIVersion,
		RequestTimeout:    appConfig.Shopify.RequestTimeout,
		RequestsPerSecond: appConfig.Shopify.RequestsPerSecond,
		Logger:            logger,
	})

	store, err := content.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	runLog, err := content.NewGormRunLog(db)
	if err != nil {
		return nil, err
	}

	passLease, err := content.NewGormPassLease(db, content.GormPassLeaseConfig{
		TTL:    appConfig.Sync.PassLeaseTTL,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	dispatcher := server.NewRealtimeDispatcher()

	engine, err := content.NewEngine(content.EngineConfig{
		Store:              store,
		Source:             shopifyClient,
		Sink:               propagationClient,
		Shops:              shopService,
		InitialSync:        shopService,
		Chunks:             store,
		Lease:              passLease,
		Sanitizer:          security.NewBodySanitizer(),
		Metrics:            collector,
		Runs:               runLog,
		IDProvider:         content.NewUUIDProvider(),
		Observer:           dispatcher,
		Logger:             logger,
		Clock:              time.Now,
		PageSize:           appConfig.Shopify.PageSize,
		FetchFailurePolicy: content.ParseFetchFailurePolicy(appConfig.Sync.FetchFailurePolicy),
		WriteRetryDelay:    initialWriteRetryDelay,
	})
	if err != nil {
		return nil, err
	}

	syncScheduler, err := scheduler.New(scheduler.Config{
		Shops:              shopService,
		Syncer:             engine,
		Interval:           appConfig.Sync.ScheduleInterval,
		MaxConcurrentShops: appConfig.Sync.MaxConcurrentShops,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		db:         db,
		engine:     engine,
		shops:      shopService,
		runs:       runLog,
		dispatcher: dispatcher,
		scheduler:  syncScheduler,
		registry:   registry,
	}, nil
}

func (a *application) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
