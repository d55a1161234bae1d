package content

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type cursorlessSource struct{}

func (cursorlessSource) FetchPage(ctx context.Context, credential Credential, kind Kind, cursor string, limit int) (Page, error) {
	return Page{HasNext: true}, nil
}

func TestPaginatorWalksEveryPage(t *testing.T) {
	source := newFakeSource([]RemoteRecord{remote(1, "A")}, []RemoteRecord{remote(2, "B")}, []RemoteRecord{remote(3, "C")})
	driver := paginator{source: source, kind: KindPages, limit: 1, policy: FetchFailureTruncate, logger: zap.NewNop()}

	seen := 0
	summary, err := driver.run(context.Background(), func(page Page) error {
		seen += len(page.Records)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 3 || summary.pages != 3 || summary.truncated {
		t.Fatalf("unexpected summary %+v after %d records", summary, seen)
	}
	if summary.storeID != "gid://shopify/Shop/1" {
		t.Fatalf("expected store id, got %q", summary.storeID)
	}
}

func TestPaginatorStopsOnHandlerError(t *testing.T) {
	source := newFakeSource([]RemoteRecord{remote(1, "A")}, []RemoteRecord{remote(2, "B")})
	driver := paginator{source: source, kind: KindPages, logger: zap.NewNop()}
	handlerErr := errors.New("write failed")

	_, err := driver.run(context.Background(), func(Page) error { return handlerErr })
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if source.callCount() != 1 {
		t.Fatalf("expected walk to stop after first page, got %d fetches", source.callCount())
	}
}

func TestPaginatorFailurePolicies(t *testing.T) {
	source := newFakeSource([]RemoteRecord{remote(1, "A")}, []RemoteRecord{remote(2, "B")})
	source.failAt = 1

	truncating := paginator{source: source, kind: KindPages, policy: FetchFailureTruncate, logger: zap.NewNop()}
	summary, err := truncating.run(context.Background(), func(Page) error { return nil })
	if err != nil {
		t.Fatalf("expected truncation instead of error, got %v", err)
	}
	if !summary.truncated || !errors.Is(summary.fetchErr, ErrSourceFetch) {
		t.Fatalf("expected truncated summary with fetch error, got %+v", summary)
	}

	aborting := paginator{source: source, kind: KindPages, policy: FetchFailureAbort, logger: zap.NewNop()}
	if _, err := aborting.run(context.Background(), func(Page) error { return nil }); !errors.Is(err, ErrSourceFetch) {
		t.Fatalf("expected source fetch error, got %v", err)
	}
}

func TestPaginatorRejectsMissingCursor(t *testing.T) {
	driver := paginator{source: cursorlessSource{}, kind: KindPages, policy: FetchFailureAbort, logger: zap.NewNop()}
	_, err := driver.run(context.Background(), func(Page) error { return nil })
	if !errors.Is(err, errMissingNextCursor) {
		t.Fatalf("expected missing cursor error, got %v", err)
	}
}

func TestParseFetchFailurePolicy(t *testing.T) {
	if ParseFetchFailurePolicy("abort") != FetchFailureAbort {
		t.Fatalf("expected abort policy")
	}
	if ParseFetchFailurePolicy("anything") != FetchFailureTruncate {
		t.Fatalf("expected truncate default")
	}
}
