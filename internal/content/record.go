package content

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Record models one persisted page or article for a shop.
type Record struct {
	ShopDomain   string         `gorm:"column:shop_domain;primaryKey;size:255;not null;index:idx_content_records_shop_kind_sync,priority:1"`
	Kind         Kind           `gorm:"column:kind;primaryKey;size:32;not null;index:idx_content_records_shop_kind_sync,priority:2"`
	RecordID     string         `gorm:"column:record_id;primaryKey;size:190;not null"`
	Title        *string        `gorm:"column:title;type:text"`
	Handle       *string        `gorm:"column:handle;size:255"`
	Body         *string        `gorm:"column:body;type:text"`
	CreatedAt    *time.Time     `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt    *time.Time     `gorm:"column:updated_at;autoUpdateTime:false"`
	PublishedAt  *time.Time     `gorm:"column:published_at"`
	Published    bool           `gorm:"column:published;not null;default:false"`
	StoreID      string         `gorm:"column:store_id;size:190;not null;default:''"`
	CompanyID    string         `gorm:"column:company_id;size:100;not null;default:''"`
	ChunkIDsJSON datatypes.JSON `gorm:"column:chunk_ids;not null"`
	LastSyncTime *time.Time     `gorm:"column:last_sync_time;index:idx_content_records_shop_kind_sync,priority:3"`

	chunkIDsSupplied bool
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "content_records"
}

// ChunkIDs decodes the stored chunk identifiers. Null or malformed JSON decodes as nil.
func (r Record) ChunkIDs() []string {
	return decodeChunkIDs(r.ChunkIDsJSON)
}

// SetChunkIDs replaces the chunk identifiers, storing an empty list for nil input.
func (r *Record) SetChunkIDs(chunkIDs []string) {
	r.ChunkIDsJSON = encodeChunkIDs(chunkIDs)
}

// RemoteRecord is a page or article as delivered by the remote content source.
// Identifier and timestamp fields are untyped because API versions disagree on their encoding.
type RemoteRecord struct {
	ID          any
	Title       *string
	Handle      *string
	Body        *string
	CreatedAt   any
	UpdatedAt   any
	PublishedAt any
	Published   *bool
	StoreID     string
	// ChunkIDs is nil when the source says nothing about chunk identifiers.
	ChunkIDs []string
}

// MetadataSnapshot is the per-record state captured before a pass starts.
type MetadataSnapshot struct {
	UpdatedAt *time.Time
	ChunkIDs  []string
}

// normalizeRemoteRecord converts a remote record into a storable Record.
// Records without a usable identifier are reported with ok=false.
func normalizeRemoteRecord(shopDomain string, kind Kind, remote RemoteRecord) (Record, bool) {
	recordID := NormalizeRecordID(kind, remote.ID)
	if recordID == "" {
		return Record{}, false
	}
	record := Record{
		ShopDomain:  shopDomain,
		Kind:        kind,
		RecordID:    recordID,
		Title:       remote.Title,
		Handle:      remote.Handle,
		Body:        remote.Body,
		CreatedAt:   ParseTimestamp(remote.CreatedAt),
		UpdatedAt:   ParseTimestamp(remote.UpdatedAt),
		PublishedAt: ParseTimestamp(remote.PublishedAt),
		StoreID:     strings.TrimSpace(remote.StoreID),
	}
	if remote.Published != nil {
		record.Published = *remote.Published
	} else {
		record.Published = record.PublishedAt != nil
	}
	if remote.ChunkIDs != nil {
		record.SetChunkIDs(remote.ChunkIDs)
		record.chunkIDsSupplied = true
	}
	return record, true
}

func encodeChunkIDs(chunkIDs []string) datatypes.JSON {
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	encoded, err := json.Marshal(chunkIDs)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(encoded)
}

func decodeChunkIDs(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var chunkIDs []string
	if err := json.Unmarshal(raw, &chunkIDs); err != nil {
		return nil
	}
	return chunkIDs
}
