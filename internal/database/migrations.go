package database

import (
	"errors"
	"time"

	"github.com/aerochat/shopsync/internal/content"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeGlobalRecordIDs = "2024-06-01_normalize_global_record_ids"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeGlobalRecordIDs, apply: normalizeGlobalRecordIDs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeGlobalRecordIDs rewrites records stored under gid://shopify/... ids to their bare
// numeric id. When both spellings exist the gid row is the stale duplicate and is dropped.
func normalizeGlobalRecordIDs(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var stale []content.Record
		if err := tx.Where("record_id LIKE ?", "gid://%").Find(&stale).Error; err != nil {
			return err
		}
		for _, record := range stale {
			normalized := content.NormalizeRecordID(record.Kind, record.RecordID)
			if normalized == "" || normalized == record.RecordID {
				continue
			}
			var existing int64
			if err := tx.Model(&content.Record{}).
				Where("shop_domain = ? AND kind = ? AND record_id = ?", record.ShopDomain, record.Kind, normalized).
				Count(&existing).Error; err != nil {
				return err
			}
			current := tx.Model(&content.Record{}).
				Where("shop_domain = ? AND kind = ? AND record_id = ?", record.ShopDomain, record.Kind, record.RecordID)
			if existing > 0 {
				if err := current.Delete(&content.Record{}).Error; err != nil {
					return err
				}
				continue
			}
			if err := current.Update("record_id", normalized).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
