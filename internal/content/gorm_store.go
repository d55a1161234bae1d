package content

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnShopDomain   = "shop_domain"
	columnKind         = "kind"
	columnRecordID     = "record_id"
	columnChunkIDs     = "chunk_ids"
	columnLastSyncTime = "last_sync_time"
	queryShopKind      = columnShopDomain + " = ? AND " + columnKind + " = ?"
	queryShopKindIDs   = queryShopKind + " AND " + columnRecordID + " IN ?"
	queryShopKindID    = queryShopKind + " AND " + columnRecordID + " = ?"
	deleteChunkSize    = 500
)

// contentColumns are replaced on every upsert. chunk_ids is handled separately.
var contentColumns = []string{
	"title",
	"handle",
	"body",
	"created_at",
	"updated_at",
	"published_at",
	"published",
	"store_id",
	"company_id",
	columnLastSyncTime,
}

// GormStore persists records through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a Store backed by the provided database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingStore
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SnapshotIDs(ctx context.Context, shopDomain string, kind Kind) (map[string]struct{}, error) {
	var recordIDs []string
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryShopKind, shopDomain, kind.String()).
		Pluck(columnRecordID, &recordIDs).Error; err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(recordIDs))
	for _, recordID := range recordIDs {
		ids[recordID] = struct{}{}
	}
	return ids, nil
}

func (s *GormStore) SnapshotMetadata(ctx context.Context, shopDomain string, kind Kind) (map[string]MetadataSnapshot, error) {
	var rows []Record
	if err := s.db.WithContext(ctx).
		Select(columnRecordID, "updated_at", columnChunkIDs).
		Where(queryShopKind, shopDomain, kind.String()).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	snapshot := make(map[string]MetadataSnapshot, len(rows))
	for _, row := range rows {
		snapshot[row.RecordID] = MetadataSnapshot{
			UpdatedAt: row.UpdatedAt,
			ChunkIDs:  row.ChunkIDs(),
		}
	}
	return snapshot, nil
}

// UpsertBatch inserts or updates the batch in one transaction.
// Rows that did not supply chunk ids keep whatever chunk_ids the table already holds.
func (s *GormStore) UpsertBatch(ctx context.Context, shopDomain string, kind Kind, records []Record, companyID string, syncTime time.Time) error {
	if len(records) == 0 {
		return nil
	}
	stamped := syncTime.UTC()
	withChunks := make([]Record, 0, len(records))
	withoutChunks := make([]Record, 0, len(records))
	for _, record := range records {
		record.ShopDomain = shopDomain
		record.Kind = kind
		record.CompanyID = companyID
		record.LastSyncTime = &stamped
		if len(record.ChunkIDsJSON) == 0 {
			record.ChunkIDsJSON = datatypes.JSON("[]")
		}
		if record.chunkIDsSupplied {
			withChunks = append(withChunks, record)
		} else {
			withoutChunks = append(withoutChunks, record)
		}
	}

	conflictColumns := []clause.Column{{Name: columnShopDomain}, {Name: columnKind}, {Name: columnRecordID}}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(withoutChunks) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   conflictColumns,
				DoUpdates: clause.AssignmentColumns(contentColumns),
			}).Create(&withoutChunks).Error; err != nil {
				return err
			}
		}
		if len(withChunks) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   conflictColumns,
				DoUpdates: clause.AssignmentColumns(append(append([]string{}, contentColumns...), columnChunkIDs)),
			}).Create(&withChunks).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteExcluding removes every record of the shop and kind whose id is not in keepIDs.
func (s *GormStore) DeleteExcluding(ctx context.Context, shopDomain string, kind Kind, keepIDs map[string]struct{}) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(keepIDs) == 0 {
			result := tx.Where(queryShopKind, shopDomain, kind.String()).Delete(&Record{})
			deleted = result.RowsAffected
			return result.Error
		}

		var storedIDs []string
		if err := tx.Model(&Record{}).
			Where(queryShopKind, shopDomain, kind.String()).
			Pluck(columnRecordID, &storedIDs).Error; err != nil {
			return err
		}
		stale := make([]string, 0)
		for _, recordID := range storedIDs {
			if _, keep := keepIDs[recordID]; !keep {
				stale = append(stale, recordID)
			}
		}
		for start := 0; start < len(stale); start += deleteChunkSize {
			end := min(start+deleteChunkSize, len(stale))
			result := tx.Where(queryShopKindIDs, shopDomain, kind.String(), stale[start:end]).Delete(&Record{})
			if result.Error != nil {
				return result.Error
			}
			deleted += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *GormStore) MaxLastSyncTime(ctx context.Context, shopDomain string, kind Kind) (*time.Time, error) {
	var latest Record
	result := s.db.WithContext(ctx).
		Select(columnRecordID, columnLastSyncTime).
		Where(queryShopKind+" AND "+columnLastSyncTime+" IS NOT NULL", shopDomain, kind.String()).
		Order(columnLastSyncTime + " DESC").
		Limit(1).
		Find(&latest)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return latest.LastSyncTime, nil
}

func (s *GormStore) Count(ctx context.Context, shopDomain string, kind Kind) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryShopKind, shopDomain, kind.String()).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Get returns a stored record.
func (s *GormStore) Get(ctx context.Context, shopDomain string, kind Kind, recordID string) (Record, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where(queryShopKindID, shopDomain, kind.String(), recordID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// ReplaceChunkIDs overwrites chunk_ids on an existing record.
func (s *GormStore) ReplaceChunkIDs(ctx context.Context, shopDomain string, kind Kind, recordID string, chunkIDs []string) error {
	result := s.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryShopKindID, shopDomain, kind.String(), recordID).
		Update(columnChunkIDs, encodeChunkIDs(chunkIDs))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
