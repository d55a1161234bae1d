package content

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncRun is the audit row written for every finished pass.
type SyncRun struct {
	RunID        string         `gorm:"column:run_id;primaryKey;size:64;not null"`
	ShopDomain   string         `gorm:"column:shop_domain;size:255;not null;index:idx_sync_runs_shop_kind,priority:1"`
	Kind         Kind           `gorm:"column:kind;size:32;not null;index:idx_sync_runs_shop_kind,priority:2"`
	Initial      bool           `gorm:"column:initial;not null;default:false"`
	StartedAt    time.Time      `gorm:"column:started_at;not null;index:idx_sync_runs_shop_kind,priority:3"`
	FinishedAt   time.Time      `gorm:"column:finished_at;not null"`
	Saved        int            `gorm:"column:saved;not null;default:0"`
	Deleted      int            `gorm:"column:deleted;not null;default:0"`
	Truncated    bool           `gorm:"column:truncated;not null;default:false"`
	ErrorMessage string         `gorm:"column:error_message;type:text;not null;default:''"`
	WarningsJSON datatypes.JSON `gorm:"column:warnings"`
}

// TableName provides the explicit table binding for GORM.
func (SyncRun) TableName() string {
	return "sync_runs"
}

// IDProvider issues run identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// RunRecorder stores pass audit rows.
type RunRecorder interface {
	RecordRun(ctx context.Context, run SyncRun) error
}

// GormRunLog writes SyncRun rows through gorm.
type GormRunLog struct {
	db *gorm.DB
}

// NewGormRunLog constructs a RunRecorder backed by the provided database handle.
func NewGormRunLog(db *gorm.DB) (*GormRunLog, error) {
	if db == nil {
		return nil, errors.New("run log database handle is required")
	}
	return &GormRunLog{db: db}, nil
}

func (l *GormRunLog) RecordRun(ctx context.Context, run SyncRun) error {
	return l.db.WithContext(ctx).Create(&run).Error
}

// Recent returns the latest runs for a shop, newest first.
func (l *GormRunLog) Recent(ctx context.Context, shopDomain string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []SyncRun
	err := l.db.WithContext(ctx).
		Where(columnShopDomain+" = ?", shopDomain).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// Warnings decodes the stored warning list.
func (r SyncRun) Warnings() []string {
	if len(r.WarningsJSON) == 0 {
		return nil
	}
	var warnings []string
	if err := json.Unmarshal(r.WarningsJSON, &warnings); err != nil {
		return nil
	}
	return warnings
}

func encodeWarnings(warnings []string) datatypes.JSON {
	if len(warnings) == 0 {
		return datatypes.JSON("[]")
	}
	encoded, err := json.Marshal(warnings)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(encoded)
}
