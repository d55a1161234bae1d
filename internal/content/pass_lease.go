package content

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPassLeaseTTL          = 10 * time.Minute
	defaultPassLeasePollInterval = 250 * time.Millisecond
	columnLeaseHolder            = "holder"
	columnLeaseExpiresAt         = "expires_at"
)

// PassLease serializes passes for one shop and kind across engine instances and processes.
type PassLease interface {
	Acquire(ctx context.Context, shopDomain string, kind Kind) (release func(), err error)
}

// PassLeaseRow is the claim held by the process currently running a pass.
type PassLeaseRow struct {
	ShopDomain string    `gorm:"column:shop_domain;primaryKey;size:255;not null"`
	Kind       Kind      `gorm:"column:kind;primaryKey;size:32;not null"`
	Holder     string    `gorm:"column:holder;size:64;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PassLeaseRow) TableName() string {
	return "sync_pass_leases"
}

// GormPassLeaseConfig configures a GormPassLease.
type GormPassLeaseConfig struct {
	// TTL is how long a claim survives without renewal. Holders renew at a third of it.
	TTL          time.Duration
	PollInterval time.Duration
	IDProvider   IDProvider
	Clock        func() time.Time
	Logger       *zap.Logger
}

// GormPassLease claims sync_pass_leases rows through gorm.
type GormPassLease struct {
	db           *gorm.DB
	ttl          time.Duration
	pollInterval time.Duration
	ids          IDProvider
	clock        func() time.Time
	logger       *zap.Logger
}

// NewGormPassLease constructs a PassLease backed by the provided database handle.
func NewGormPassLease(db *gorm.DB, cfg GormPassLeaseConfig) (*GormPassLease, error) {
	if db == nil {
		return nil, errors.New("pass lease database handle is required")
	}
	lease := &GormPassLease{
		db:           db,
		ttl:          cfg.TTL,
		pollInterval: cfg.PollInterval,
		ids:          cfg.IDProvider,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if lease.ttl <= 0 {
		lease.ttl = defaultPassLeaseTTL
	}
	if lease.pollInterval <= 0 {
		lease.pollInterval = defaultPassLeasePollInterval
	}
	if lease.ids == nil {
		lease.ids = NewUUIDProvider()
	}
	if lease.clock == nil {
		lease.clock = time.Now
	}
	if lease.logger == nil {
		lease.logger = noOpLogger
	}
	return lease, nil
}

// Acquire blocks until the claim for the shop and kind is free or expired, or ctx ends.
// The returned release is idempotent.
func (l *GormPassLease) Acquire(ctx context.Context, shopDomain string, kind Kind) (func(), error) {
	holder, err := l.ids.NewID()
	if err != nil {
		return nil, err
	}
	for {
		claimed, err := l.tryClaim(ctx, shopDomain, kind, holder)
		if err != nil {
			return nil, err
		}
		if claimed {
			break
		}
		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	renewCtx, stopRenewal := context.WithCancel(context.WithoutCancel(ctx))
	renewalDone := make(chan struct{})
	go l.renew(renewCtx, renewalDone, shopDomain, kind, holder)

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenewal()
			<-renewalDone
			err := l.db.WithContext(context.WithoutCancel(ctx)).
				Where(queryShopKind+" AND "+columnLeaseHolder+" = ?", shopDomain, kind.String(), holder).
				Delete(&PassLeaseRow{}).Error
			if err != nil {
				l.logger.Warn("pass lease release failed",
					zap.String("shop_domain", shopDomain),
					zap.String("kind", kind.String()),
					zap.Error(err))
			}
		})
	}, nil
}

func (l *GormPassLease) tryClaim(ctx context.Context, shopDomain string, kind Kind, holder string) (bool, error) {
	now := l.clock().UTC()
	claimed := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(queryShopKind+" AND "+columnLeaseExpiresAt+" < ?", shopDomain, kind.String(), now).
			Delete(&PassLeaseRow{}).Error; err != nil {
			return err
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&PassLeaseRow{
			ShopDomain: shopDomain,
			Kind:       kind,
			Holder:     holder,
			ExpiresAt:  now.Add(l.ttl),
		})
		if result.Error != nil {
			return result.Error
		}
		claimed = result.RowsAffected == 1
		return nil
	})
	return claimed, err
}

func (l *GormPassLease) renew(ctx context.Context, done chan<- struct{}, shopDomain string, kind Kind, holder string) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := l.db.WithContext(ctx).
				Model(&PassLeaseRow{}).
				Where(queryShopKind+" AND "+columnLeaseHolder+" = ?", shopDomain, kind.String(), holder).
				Update(columnLeaseExpiresAt, l.clock().UTC().Add(l.ttl))
			switch {
			case result.Error != nil && !errors.Is(result.Error, context.Canceled):
				l.logger.Warn("pass lease renewal failed",
					zap.String("shop_domain", shopDomain),
					zap.String("kind", kind.String()),
					zap.Error(result.Error))
			case result.Error == nil && result.RowsAffected == 0:
				l.logger.Warn("pass lease lost to another holder",
					zap.String("shop_domain", shopDomain),
					zap.String("kind", kind.String()))
			}
		}
	}
}
