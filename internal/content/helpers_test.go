package content

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testShop = "demo.myshopify.com"

var errStoreUnavailable = errors.New("store unavailable")

type fakeSource struct {
	mu       sync.Mutex
	pages    [][]RemoteRecord
	storeID  string
	failAt   int
	calls    int
	inFlight int
	maxInFly int
	delay    time.Duration
}

func newFakeSource(pages ...[]RemoteRecord) *fakeSource {
	return &fakeSource{pages: pages, failAt: -1, storeID: "gid://shopify/Shop/1"}
}

func (s *fakeSource) setPages(pages ...[]RemoteRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = pages
}

func (s *fakeSource) FetchPage(ctx context.Context, credential Credential, kind Kind, cursor string, limit int) (Page, error) {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > s.maxInFly {
		s.maxInFly = s.inFlight
	}
	pages := s.pages
	failAt := s.failAt
	delay := s.delay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	index := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return Page{}, err
		}
		index = parsed
	}
	if index == failAt {
		return Page{}, fmt.Errorf("page %d unavailable", index)
	}
	if len(pages) == 0 {
		return Page{StoreID: s.storeID}, nil
	}
	page := Page{Records: pages[index], StoreID: s.storeID}
	if index < len(pages)-1 {
		page.HasNext = true
		page.NextCursor = strconv.Itoa(index + 1)
	}
	return page, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type bulkCall struct {
	companyID        string
	kind             Kind
	records          []Record
	previousSyncTime *time.Time
}

type fakeSink struct {
	mu         sync.Mutex
	bulkCalls  []bulkCall
	deleted    []string
	bulkErr    error
	deleteErr  error
	deleteKind []Kind
}

func (s *fakeSink) BulkUpsert(ctx context.Context, companyID string, kind Kind, records []Record, previousSyncTime *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls = append(s.bulkCalls, bulkCall{companyID: companyID, kind: kind, records: records, previousSyncTime: previousSyncTime})
	return s.bulkErr
}

func (s *fakeSink) NotifyDelete(ctx context.Context, companyID string, kind Kind, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, recordID)
	s.deleteKind = append(s.deleteKind, kind)
	return s.deleteErr
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls = nil
	s.deleted = nil
	s.deleteKind = nil
}

type fakeShops struct {
	tokens     map[string]string
	companyID  string
	companyErr error
}

func (s *fakeShops) Credential(ctx context.Context, shopDomain string) (Credential, error) {
	token, ok := s.tokens[shopDomain]
	if !ok {
		return Credential{}, ErrMissingCredential
	}
	return Credential{ShopDomain: shopDomain, AccessToken: token}, nil
}

func (s *fakeShops) CompanyID(ctx context.Context, shopDomain string) (string, error) {
	return s.companyID, s.companyErr
}

type fakeTracker struct {
	mu        sync.Mutex
	completed map[string]bool
	marks     int
}

func (t *fakeTracker) InitialSyncCompleted(ctx context.Context, shopDomain string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed[shopDomain], nil
}

func (t *fakeTracker) MarkInitialSyncCompleted(ctx context.Context, shopDomain string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed == nil {
		t.completed = make(map[string]bool)
	}
	t.completed[shopDomain] = true
	t.marks++
	return nil
}

// flakyStore fails the next failures UpsertBatch calls.
type flakyStore struct {
	*GormStore
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) UpsertBatch(ctx context.Context, shopDomain string, kind Kind, records []Record, companyID string, syncTime time.Time) error {
	s.mu.Lock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		s.mu.Unlock()
		return errStoreUnavailable
	}
	s.mu.Unlock()
	return s.GormStore.UpsertBatch(ctx, shopDomain, kind, records, companyID, syncTime)
}

type recordingMetrics struct {
	mu                  sync.Mutex
	outcomes            []string
	truncated           int
	propagationFailures map[string]int
}

func (m *recordingMetrics) RecordPass(kind string, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordRecordsSaved(string, int)   {}
func (m *recordingMetrics) RecordRecordsDeleted(string, int) {}

func (m *recordingMetrics) RecordFetchTruncated(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncated++
}

func (m *recordingMetrics) RecordPropagationFailure(kind string, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.propagationFailures == nil {
		m.propagationFailures = make(map[string]int)
	}
	m.propagationFailures[operation]++
}

type capturingObserver struct {
	mu      sync.Mutex
	results []SyncResult
}

func (o *capturingObserver) PassCompleted(result SyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Unix(1700000000, 0).UTC()}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type engineHarness struct {
	engine  *Engine
	db      *gorm.DB
	store   *GormStore
	source  *fakeSource
	sink    *fakeSink
	shops   *fakeShops
	tracker *fakeTracker
	metrics *recordingMetrics
	runs    *GormRunLog
	flaky   *flakyStore
}

type harnessOption func(*EngineConfig, *engineHarness)

func withFetchFailurePolicy(policy FetchFailurePolicy) harnessOption {
	return func(cfg *EngineConfig, _ *engineHarness) {
		cfg.FetchFailurePolicy = policy
	}
}

func withFlakyStore(failures int) harnessOption {
	return func(cfg *EngineConfig, h *engineHarness) {
		h.flaky = &flakyStore{GormStore: h.store, failures: failures}
		cfg.Store = h.flaky
	}
}

func withObserver(observer PassObserver) harnessOption {
	return func(cfg *EngineConfig, _ *engineHarness) {
		cfg.Observer = observer
	}
}

func withPassLease(t *testing.T) harnessOption {
	return func(cfg *EngineConfig, h *engineHarness) {
		cfg.Lease = newTestPassLease(t, h.db)
	}
}

func newTestPassLease(t *testing.T, db *gorm.DB) *GormPassLease {
	t.Helper()
	lease, err := NewGormPassLease(db, GormPassLeaseConfig{TTL: time.Minute, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to construct pass lease: %v", err)
	}
	return lease
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:shopsync_content_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Record{}, &SyncRun{}, &PassLeaseRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newEngineHarness(t *testing.T, source *fakeSource, options ...harnessOption) *engineHarness {
	t.Helper()
	db := newTestDatabase(t)
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	runs, err := NewGormRunLog(db)
	if err != nil {
		t.Fatalf("failed to construct run log: %v", err)
	}

	harness := &engineHarness{
		db:      db,
		store:   store,
		source:  source,
		sink:    &fakeSink{},
		shops:   &fakeShops{tokens: map[string]string{testShop: "shpat_test"}, companyID: "company-1"},
		tracker: &fakeTracker{},
		metrics: &recordingMetrics{},
		runs:    runs,
	}
	cfg := EngineConfig{
		Store:       store,
		Source:      source,
		Sink:        harness.sink,
		Shops:       harness.shops,
		InitialSync: harness.tracker,
		Chunks:      store,
		Metrics:     harness.metrics,
		Runs:        runs,
		Clock:       newSteppingClock().Now,
		PageSize:    2,
	}
	for _, option := range options {
		option(&cfg, harness)
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	harness.engine = engine
	return harness
}

func (h *engineHarness) mustSync(t *testing.T, kind Kind) SyncResult {
	t.Helper()
	result, err := h.engine.Sync(context.Background(), testShop, kind)
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	return result
}

func (h *engineHarness) storedIDs(t *testing.T, kind Kind) map[string]struct{} {
	t.Helper()
	ids, err := h.store.SnapshotIDs(context.Background(), testShop, kind)
	if err != nil {
		t.Fatalf("failed to snapshot ids: %v", err)
	}
	return ids
}

func (h *engineHarness) storedRecord(t *testing.T, kind Kind, recordID string) Record {
	t.Helper()
	record, err := h.store.Get(context.Background(), testShop, kind, recordID)
	if err != nil {
		t.Fatalf("failed to load record %s: %v", recordID, err)
	}
	return record
}

func remote(id any, title string) RemoteRecord {
	value := title
	return RemoteRecord{ID: id, Title: &value, UpdatedAt: "2024-05-01T10:00:00Z"}
}

func assertIDs(t *testing.T, got map[string]struct{}, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, got)
	}
	for _, id := range want {
		if _, ok := got[id]; !ok {
			t.Fatalf("expected id %s in %v", id, got)
		}
	}
}
