package content

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

var errMissingChunkIndex = errors.New("chunk index is required")

// KindStatus is the stored state of one kind for a shop.
type KindStatus struct {
	Kind         Kind
	Count        int64
	LastSyncTime *time.Time
}

// ShopStatus is the stored state of every kind for a shop.
type ShopStatus struct {
	ShopDomain           string
	InitialSyncCompleted bool
	Kinds                []KindStatus
}

// Status reports the stored record count and latest sync time per kind.
func (e *Engine) Status(ctx context.Context, shopDomain string) (ShopStatus, error) {
	shopDomain = strings.TrimSpace(shopDomain)
	if shopDomain == "" {
		return ShopStatus{}, newServiceError(opStatus, reasonInvalidShop, ErrInvalidShopDomain)
	}
	status := ShopStatus{ShopDomain: shopDomain, Kinds: make([]KindStatus, 0, len(Kinds()))}
	if e.initialSync != nil {
		completed, err := e.initialSync.InitialSyncCompleted(ctx, shopDomain)
		if err != nil {
			e.logError(opStatus, reasonTracker, err, zap.String("shop_domain", shopDomain))
			return ShopStatus{}, newServiceError(opStatus, reasonTracker, err)
		}
		status.InitialSyncCompleted = completed
	}
	for _, kind := range Kinds() {
		count, err := e.store.Count(ctx, shopDomain, kind)
		if err != nil {
			e.logError(opStatus, reasonCount, err, zap.String("shop_domain", shopDomain), zap.String("kind", kind.String()))
			return ShopStatus{}, newServiceError(opStatus, reasonCount, err)
		}
		lastSync, err := e.store.MaxLastSyncTime(ctx, shopDomain, kind)
		if err != nil {
			e.logError(opStatus, reasonSnapshot, err, zap.String("shop_domain", shopDomain), zap.String("kind", kind.String()))
			return ShopStatus{}, newServiceError(opStatus, reasonSnapshot, err)
		}
		status.Kinds = append(status.Kinds, KindStatus{Kind: kind, Count: count, LastSyncTime: lastSync})
	}
	return status, nil
}

// SetChunkIDs records the chunk ids the external indexer produced for a stored record.
// It takes the pass lock so the write never interleaves with a running pass.
func (e *Engine) SetChunkIDs(ctx context.Context, shopDomain string, kind Kind, rawRecordID string, chunkIDs []string) error {
	if e.chunks == nil {
		return newServiceError(opSetChunkIDs, reasonMissingDeps, errMissingChunkIndex)
	}
	shopDomain = strings.TrimSpace(shopDomain)
	if shopDomain == "" {
		return newServiceError(opSetChunkIDs, reasonInvalidShop, ErrInvalidShopDomain)
	}
	if !kind.Valid() {
		return newServiceError(opSetChunkIDs, reasonInvalidKind, ErrUnknownKind)
	}
	recordID := NormalizeRecordID(kind, rawRecordID)
	if recordID == "" {
		return newServiceError(opSetChunkIDs, reasonNotFound, ErrRecordNotFound)
	}
	if chunkIDs == nil {
		chunkIDs = []string{}
	}

	unlock := e.locks.Lock(passLockKey(shopDomain, kind))
	defer unlock()

	if err := e.chunks.ReplaceChunkIDs(ctx, shopDomain, kind, recordID, chunkIDs); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return newServiceError(opSetChunkIDs, reasonNotFound, err)
		}
		e.logError(opSetChunkIDs, reasonUpdate, err, zap.String("shop_domain", shopDomain), zap.String("record_id", recordID))
		return newServiceError(opSetChunkIDs, reasonUpdate, err)
	}
	return nil
}
