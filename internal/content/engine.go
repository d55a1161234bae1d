package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	outcomeSuccess   = "success"
	outcomeTruncated = "truncated"
	outcomeFailed    = "failed"
)

var noOpLogger = zap.NewNop()

// PassObserver is notified after every completed pass.
type PassObserver interface {
	PassCompleted(result SyncResult)
}

// ChunkIndex updates chunk ids on stored records on behalf of the external indexing system.
type ChunkIndex interface {
	ReplaceChunkIDs(ctx context.Context, shopDomain string, kind Kind, recordID string, chunkIDs []string) error
}

// EngineConfig describes the collaborators and policies of the synchronization engine.
type EngineConfig struct {
	Store       Store
	Source      Source
	Sink        Sink
	Shops       ShopDirectory
	InitialSync InitialSyncTracker
	Chunks      ChunkIndex
	// Lease extends pass serialization beyond this process. Nil keeps it process-local.
	Lease              PassLease
	Sanitizer          BodySanitizer
	Metrics            MetricsRecorder
	Runs               RunRecorder
	IDProvider         IDProvider
	Observer           PassObserver
	Logger             *zap.Logger
	Clock              func() time.Time
	PageSize           int
	FetchFailurePolicy FetchFailurePolicy
	// InitialWriteAttempts bounds store-write attempts per batch during the initial sync.
	InitialWriteAttempts int
	// WriteRetryDelay is the pause between initial sync write attempts.
	WriteRetryDelay time.Duration
}

// Engine runs synchronization passes for pages and articles.
type Engine struct {
	store                Store
	source               Source
	sink                 Sink
	shops                ShopDirectory
	initialSync          InitialSyncTracker
	chunks               ChunkIndex
	lease                PassLease
	sanitizer            BodySanitizer
	metrics              MetricsRecorder
	runs                 RunRecorder
	idProvider           IDProvider
	observer             PassObserver
	logger               *zap.Logger
	clock                func() time.Time
	pageSize             int
	fetchFailurePolicy   FetchFailurePolicy
	initialWriteAttempts int
	writeRetryDelay      time.Duration
	locks                *keyedMutex
}

// SyncResult summarizes one pass.
type SyncResult struct {
	RunID        string
	ShopDomain   string
	Kind         Kind
	Saved        int
	Deleted      int
	LastSyncTime time.Time
	SyncedCount  int
	TotalCount   int64
	StoreID      string
	Truncated    bool
	Warnings     []string
}

type passOptions struct {
	initial             bool
	writeAttempts       int
	continueOnWriteFail bool
}

// NewEngine validates the configuration and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opEngineNew, reasonMissingDeps, errMissingStore)
	}
	if cfg.Source == nil {
		return nil, newServiceError(opEngineNew, reasonMissingDeps, errMissingSource)
	}
	if cfg.Shops == nil {
		return nil, newServiceError(opEngineNew, reasonMissingDeps, errMissingShops)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	policy := cfg.FetchFailurePolicy
	if policy == "" {
		policy = FetchFailureTruncate
	}
	attempts := cfg.InitialWriteAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return &Engine{
		store:                cfg.Store,
		source:               cfg.Source,
		sink:                 cfg.Sink,
		shops:                cfg.Shops,
		initialSync:          cfg.InitialSync,
		chunks:               cfg.Chunks,
		lease:                cfg.Lease,
		sanitizer:            cfg.Sanitizer,
		metrics:              metrics,
		runs:                 cfg.Runs,
		idProvider:           idProvider,
		observer:             cfg.Observer,
		logger:               logger,
		clock:                clock,
		pageSize:             pageSize,
		fetchFailurePolicy:   policy,
		initialWriteAttempts: attempts,
		writeRetryDelay:      cfg.WriteRetryDelay,
		locks:                newKeyedMutex(),
	}, nil
}

// Sync runs one full pass for the shop and kind.
// Concurrent calls for the same shop and kind run one after another.
func (e *Engine) Sync(ctx context.Context, shopDomain string, kind Kind) (SyncResult, error) {
	return e.runPass(ctx, opSync, shopDomain, kind, passOptions{writeAttempts: 1})
}

func (e *Engine) runPass(ctx context.Context, operation, shopDomain string, kind Kind, options passOptions) (SyncResult, error) {
	shopDomain = strings.TrimSpace(shopDomain)
	if shopDomain == "" {
		return SyncResult{}, newServiceError(operation, reasonInvalidShop, ErrInvalidShopDomain)
	}
	if !kind.Valid() {
		return SyncResult{}, newServiceError(operation, reasonInvalidKind, fmt.Errorf("%w: %q", ErrUnknownKind, kind))
	}

	unlock := e.locks.Lock(passLockKey(shopDomain, kind))
	defer unlock()
	if e.lease != nil {
		release, err := e.lease.Acquire(ctx, shopDomain, kind)
		if err != nil {
			e.logError(operation, reasonLease, err, zap.String("shop_domain", shopDomain), zap.String("kind", kind.String()))
			return SyncResult{}, newServiceError(operation, reasonLease, err)
		}
		defer release()
	}

	startedAt := e.clock().UTC()
	result, err := e.executePass(ctx, operation, shopDomain, kind, options)
	duration := e.clock().Sub(startedAt)

	outcome := outcomeSuccess
	switch {
	case err != nil:
		outcome = outcomeFailed
	case result.Truncated:
		outcome = outcomeTruncated
	}
	e.metrics.RecordPass(kind.String(), outcome, duration)
	e.recordRun(ctx, shopDomain, kind, options.initial, startedAt, result, err)

	if err != nil {
		return SyncResult{}, err
	}
	e.metrics.RecordRecordsSaved(kind.String(), result.Saved)
	e.metrics.RecordRecordsDeleted(kind.String(), result.Deleted)
	if e.observer != nil {
		e.observer.PassCompleted(result)
	}
	e.logger.Info("sync pass completed",
		zap.String("run_id", result.RunID),
		zap.String("shop_domain", shopDomain),
		zap.String("kind", kind.String()),
		zap.Int("saved", result.Saved),
		zap.Int("deleted", result.Deleted),
		zap.Int64("total_count", result.TotalCount),
		zap.Bool("truncated", result.Truncated),
		zap.Duration("duration", duration))
	return result, nil
}

func (e *Engine) executePass(ctx context.Context, operation, shopDomain string, kind Kind, options passOptions) (SyncResult, error) {
	fields := []zap.Field{zap.String("shop_domain", shopDomain), zap.String("kind", kind.String())}

	credential, err := e.shops.Credential(ctx, shopDomain)
	if err != nil {
		reason := reasonCredential
		if !errors.Is(err, ErrMissingCredential) {
			reason = reasonShopLookup
		}
		e.logError(operation, reason, err, fields...)
		return SyncResult{}, newServiceError(operation, reason, err)
	}
	if strings.TrimSpace(credential.AccessToken) == "" {
		e.logError(operation, reasonCredential, ErrMissingCredential, fields...)
		return SyncResult{}, newServiceError(operation, reasonCredential, ErrMissingCredential)
	}

	companyID, err := e.shops.CompanyID(ctx, shopDomain)
	if err != nil {
		e.logger.Warn("company id lookup failed, propagation disabled for this pass", append(fields, zap.Error(err))...)
		companyID = ""
	}

	runID, err := e.idProvider.NewID()
	if err != nil {
		e.logger.Warn("run id generation failed", append(fields, zap.Error(err))...)
		runID = ""
	}

	// Everything read here must precede the first upsert of this pass.
	previousSyncTime, err := e.store.MaxLastSyncTime(ctx, shopDomain, kind)
	if err != nil {
		e.logError(operation, reasonSnapshot, err, fields...)
		return SyncResult{}, newServiceError(operation, reasonSnapshot, err)
	}
	existing, err := e.store.SnapshotIDs(ctx, shopDomain, kind)
	if err != nil {
		e.logError(operation, reasonSnapshot, err, fields...)
		return SyncResult{}, newServiceError(operation, reasonSnapshot, err)
	}
	metadata, err := e.store.SnapshotMetadata(ctx, shopDomain, kind)
	if err != nil {
		e.logError(operation, reasonSnapshot, err, fields...)
		return SyncResult{}, newServiceError(operation, reasonSnapshot, err)
	}

	syncTime := e.clock().UTC()
	fetched := make(map[string]struct{})
	propagated := make([]Record, 0)
	propagatedIndex := make(map[string]int)
	warnings := make([]string, 0)

	driver := paginator{
		source:     e.source,
		credential: credential,
		kind:       kind,
		limit:      e.pageSize,
		policy:     e.fetchFailurePolicy,
		logger:     e.logger,
	}
	summary, err := driver.run(ctx, func(page Page) error {
		batch := make([]Record, 0, len(page.Records))
		positions := make(map[string]int, len(page.Records))
		for _, remote := range page.Records {
			if remote.StoreID == "" {
				remote.StoreID = page.StoreID
			}
			record, ok := normalizeRemoteRecord(shopDomain, kind, remote)
			if !ok {
				e.logger.Warn("skipping remote record without identifier", fields...)
				continue
			}
			if record.Body != nil && e.sanitizer != nil {
				sanitized := e.sanitizer.Sanitize(*record.Body)
				record.Body = &sanitized
			}
			record.CompanyID = companyID
			record = preserveMetadata(record, metadata)
			if index, duplicate := positions[record.RecordID]; duplicate {
				batch[index] = record
				continue
			}
			positions[record.RecordID] = len(batch)
			batch = append(batch, record)
		}
		for _, record := range batch {
			fetched[record.RecordID] = struct{}{}
		}
		if len(batch) == 0 {
			return nil
		}

		if writeErr := e.writeBatch(ctx, shopDomain, kind, batch, companyID, syncTime, options.writeAttempts); writeErr != nil {
			if !options.continueOnWriteFail {
				return writeErr
			}
			warning := fmt.Sprintf("%s batch of %d records failed after %d attempts: %v", kind, len(batch), options.writeAttempts, writeErr)
			warnings = append(warnings, warning)
			e.logger.Warn("batch write failed, continuing", append(fields, zap.Error(writeErr), zap.Int("batch_size", len(batch)))...)
			return nil
		}

		for _, record := range batch {
			stamped := syncTime
			record.LastSyncTime = &stamped
			if index, seen := propagatedIndex[record.RecordID]; seen {
				propagated[index] = record
				continue
			}
			propagatedIndex[record.RecordID] = len(propagated)
			propagated = append(propagated, record)
		}
		return nil
	})
	if err != nil {
		reason := reasonUpsert
		if errors.Is(err, ErrSourceFetch) {
			reason = reasonFetch
		}
		e.logError(operation, reason, err, fields...)
		return SyncResult{}, newServiceError(operation, reason, err)
	}
	if summary.truncated {
		e.metrics.RecordFetchTruncated(kind.String())
		warnings = append(warnings, summary.fetchErr.Error())
	}

	removed := make([]string, 0)
	for recordID := range existing {
		if _, stillPresent := fetched[recordID]; !stillPresent {
			removed = append(removed, recordID)
		}
	}

	e.propagate(ctx, companyID, kind, propagated, removed, previousSyncTime, fields)

	deleted, err := e.store.DeleteExcluding(ctx, shopDomain, kind, fetched)
	if err != nil {
		e.logError(operation, reasonDelete, err, fields...)
		return SyncResult{}, newServiceError(operation, reasonDelete, err)
	}

	total, err := e.store.Count(ctx, shopDomain, kind)
	if err != nil {
		e.logError(operation, reasonCount, err, fields...)
		return SyncResult{}, newServiceError(operation, reasonCount, err)
	}

	return SyncResult{
		RunID:        runID,
		ShopDomain:   shopDomain,
		Kind:         kind,
		Saved:        len(propagated),
		Deleted:      int(deleted),
		LastSyncTime: syncTime,
		SyncedCount:  len(fetched),
		TotalCount:   total,
		StoreID:      summary.storeID,
		Truncated:    summary.truncated,
		Warnings:     warnings,
	}, nil
}

func (e *Engine) writeBatch(ctx context.Context, shopDomain string, kind Kind, batch []Record, companyID string, syncTime time.Time, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = e.store.UpsertBatch(ctx, shopDomain, kind, batch, companyID, syncTime)
		if err == nil {
			return nil
		}
		if attempt < attempts {
			e.logger.Warn("batch write attempt failed",
				zap.String("shop_domain", shopDomain),
				zap.String("kind", kind.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if waitErr := e.sleep(ctx, e.writeRetryDelay); waitErr != nil {
				return errors.Join(err, waitErr)
			}
		}
	}
	return err
}

// propagate sends delete notifications and the bulk upsert. Both are best effort:
// failures are logged and counted, never returned.
func (e *Engine) propagate(ctx context.Context, companyID string, kind Kind, records []Record, removed []string, previousSyncTime *time.Time, fields []zap.Field) {
	if e.sink == nil {
		return
	}
	if companyID == "" {
		if len(records) > 0 || len(removed) > 0 {
			e.logger.Warn("no company id, skipping propagation", fields...)
		}
		return
	}

	var group errgroup.Group
	group.Go(func() error {
		for _, recordID := range removed {
			if err := e.sink.NotifyDelete(ctx, companyID, kind, recordID); err != nil {
				e.metrics.RecordPropagationFailure(kind.String(), "delete")
				e.logger.Warn("delete notification failed", append(fields, zap.String("record_id", recordID), zap.Error(err))...)
			}
		}
		return nil
	})
	group.Go(func() error {
		if len(records) == 0 {
			return nil
		}
		if err := e.sink.BulkUpsert(ctx, companyID, kind, records, previousSyncTime); err != nil {
			e.metrics.RecordPropagationFailure(kind.String(), "bulk_upsert")
			e.logger.Warn("bulk propagation failed", append(fields, zap.Int("records", len(records)), zap.Error(err))...)
		}
		return nil
	})
	_ = group.Wait()
}

func (e *Engine) recordRun(ctx context.Context, shopDomain string, kind Kind, initial bool, startedAt time.Time, result SyncResult, passErr error) {
	if e.runs == nil {
		return
	}
	runID := result.RunID
	if runID == "" {
		generated, err := e.idProvider.NewID()
		if err != nil {
			e.logger.Warn("run id generation failed", zap.Error(err))
			return
		}
		runID = generated
	}
	run := SyncRun{
		RunID:        runID,
		ShopDomain:   shopDomain,
		Kind:         kind,
		Initial:      initial,
		StartedAt:    startedAt,
		FinishedAt:   e.clock().UTC(),
		Saved:        result.Saved,
		Deleted:      result.Deleted,
		Truncated:    result.Truncated,
		WarningsJSON: encodeWarnings(result.Warnings),
	}
	if passErr != nil {
		run.ErrorMessage = passErr.Error()
	}
	if err := e.runs.RecordRun(ctx, run); err != nil {
		e.logger.Warn("sync run log write failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (e *Engine) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) loggerOrDefault() *zap.Logger {
	if e == nil || e.logger == nil {
		return noOpLogger
	}
	return e.logger
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.loggerOrDefault().Error("content engine error", attrs...)
}
