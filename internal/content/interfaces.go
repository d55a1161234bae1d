package content

import (
	"context"
	"time"
)

// Credential identifies a shop and the Admin API token used to read its content.
type Credential struct {
	ShopDomain  string
	AccessToken string
}

// Page is one cursor page returned by a Source.
type Page struct {
	Records    []RemoteRecord
	HasNext    bool
	NextCursor string
	StoreID    string
}

// Source enumerates remote content for one shop and kind, one cursor page at a time.
// An empty cursor requests the first page.
type Source interface {
	FetchPage(ctx context.Context, credential Credential, kind Kind, cursor string, limit int) (Page, error)
}

// Store is the local persistence for synchronized records, partitioned by shop and kind.
type Store interface {
	SnapshotIDs(ctx context.Context, shopDomain string, kind Kind) (map[string]struct{}, error)
	SnapshotMetadata(ctx context.Context, shopDomain string, kind Kind) (map[string]MetadataSnapshot, error)
	UpsertBatch(ctx context.Context, shopDomain string, kind Kind, records []Record, companyID string, syncTime time.Time) error
	DeleteExcluding(ctx context.Context, shopDomain string, kind Kind, keepIDs map[string]struct{}) (int64, error)
	MaxLastSyncTime(ctx context.Context, shopDomain string, kind Kind) (*time.Time, error)
	Count(ctx context.Context, shopDomain string, kind Kind) (int64, error)
}

// Sink receives change notifications for a shop's records. Calls are best effort.
type Sink interface {
	BulkUpsert(ctx context.Context, companyID string, kind Kind, records []Record, previousSyncTime *time.Time) error
	NotifyDelete(ctx context.Context, companyID string, kind Kind, recordID string) error
}

// ShopDirectory resolves the credential and propagation target for a shop.
type ShopDirectory interface {
	Credential(ctx context.Context, shopDomain string) (Credential, error)
	CompanyID(ctx context.Context, shopDomain string) (string, error)
}

// InitialSyncTracker persists the once-per-shop initial sync flag.
type InitialSyncTracker interface {
	InitialSyncCompleted(ctx context.Context, shopDomain string) (bool, error)
	MarkInitialSyncCompleted(ctx context.Context, shopDomain string) error
}

// BodySanitizer cleans record body HTML before it is stored or propagated.
type BodySanitizer interface {
	Sanitize(rawHTML string) string
}

// MetricsRecorder observes pass outcomes.
type MetricsRecorder interface {
	RecordPass(kind string, outcome string, duration time.Duration)
	RecordRecordsSaved(kind string, count int)
	RecordRecordsDeleted(kind string, count int)
	RecordFetchTruncated(kind string)
	RecordPropagationFailure(kind string, operation string)
}

type noopMetrics struct{}

func (noopMetrics) RecordPass(string, string, time.Duration) {}
func (noopMetrics) RecordRecordsSaved(string, int)           {}
func (noopMetrics) RecordRecordsDeleted(string, int)         {}
func (noopMetrics) RecordFetchTruncated(string)              {}
func (noopMetrics) RecordPropagationFailure(string, string)  {}
