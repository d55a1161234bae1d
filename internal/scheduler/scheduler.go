// Package scheduler periodically synchronizes every active shop.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/aerochat/shopsync/internal/content"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrentShops = 4

// ShopLister returns the shops due for synchronization.
type ShopLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// Syncer runs one pass for a shop and kind.
type Syncer interface {
	Sync(ctx context.Context, shopDomain string, kind content.Kind) (content.SyncResult, error)
}

// Config describes the scheduler.
type Config struct {
	Shops              ShopLister
	Syncer             Syncer
	Interval           time.Duration
	MaxConcurrentShops int
	Logger             *zap.Logger
}

// Scheduler fans passes out across shops with bounded concurrency.
type Scheduler struct {
	shops              ShopLister
	syncer             Syncer
	interval           time.Duration
	maxConcurrentShops int
	logger             *zap.Logger
	running            atomic.Bool
}

// RunSummary counts the passes of one scheduler round.
type RunSummary struct {
	Shops    int
	Passes   int
	Failures int
}

// New validates the configuration and constructs a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Shops == nil {
		return nil, errors.New("scheduler: shop lister is required")
	}
	if cfg.Syncer == nil {
		return nil, errors.New("scheduler: syncer is required")
	}
	limit := cfg.MaxConcurrentShops
	if limit <= 0 {
		limit = defaultMaxConcurrentShops
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		shops:              cfg.Shops,
		syncer:             cfg.Syncer,
		interval:           cfg.Interval,
		maxConcurrentShops: limit,
		logger:             logger,
	}, nil
}

// Start runs a round every interval until ctx is cancelled. A zero interval disables the loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				s.logger.Warn("previous sync round still running, skipping tick")
				continue
			}
			go func() {
				defer s.running.Store(false)
				if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("scheduled sync round failed", zap.Error(err))
				}
			}()
		}
	}
}

// RunOnce synchronizes both kinds of every active shop. Pass failures are logged and counted.
// Kinds of one shop run concurrently; shops are bounded by MaxConcurrentShops.
func (s *Scheduler) RunOnce(ctx context.Context) (RunSummary, error) {
	domains, err := s.shops.ListActive(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	var passes, failures atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.maxConcurrentShops)
	for _, shopDomain := range domains {
		group.Go(func() error {
			var kinds errgroup.Group
			for _, kind := range content.Kinds() {
				kinds.Go(func() error {
					passes.Add(1)
					if _, err := s.syncer.Sync(groupCtx, shopDomain, kind); err != nil {
						failures.Add(1)
						s.logger.Warn("scheduled pass failed",
							zap.String("shop_domain", shopDomain),
							zap.String("kind", kind.String()),
							zap.Error(err))
					}
					return nil
				})
			}
			_ = kinds.Wait()
			return groupCtx.Err()
		})
	}
	err = group.Wait()

	summary := RunSummary{Shops: len(domains), Passes: int(passes.Load()), Failures: int(failures.Load())}
	s.logger.Info("sync round completed",
		zap.Int("shops", summary.Shops),
		zap.Int("passes", summary.Passes),
		zap.Int("failures", summary.Failures))
	return summary, err
}
