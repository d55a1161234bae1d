package content

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FetchFailurePolicy decides what a failed page fetch does to the rest of the pass.
type FetchFailurePolicy string

const (
	// FetchFailureTruncate treats a failed page as the last, empty page and lets the pass reconcile.
	// Records beyond the failure are then absent from the fetched set and get deleted.
	FetchFailureTruncate FetchFailurePolicy = "truncate"
	// FetchFailureAbort fails the pass before any deletion or propagation happens.
	FetchFailureAbort FetchFailurePolicy = "abort"
)

const defaultPageSize = 100

var errMissingNextCursor = errors.New("source reported more pages without a cursor")

// ParseFetchFailurePolicy maps configuration input onto a policy, defaulting to truncate.
func ParseFetchFailurePolicy(raw string) FetchFailurePolicy {
	if FetchFailurePolicy(raw) == FetchFailureAbort {
		return FetchFailureAbort
	}
	return FetchFailureTruncate
}

type paginator struct {
	source     Source
	credential Credential
	kind       Kind
	limit      int
	policy     FetchFailurePolicy
	logger     *zap.Logger
}

type paginationSummary struct {
	pages     int
	storeID   string
	truncated bool
	fetchErr  error
}

// run walks the source from the first cursor until it reports no further pages,
// handing every page to handle in order. Errors from handle abort the walk.
func (p paginator) run(ctx context.Context, handle func(Page) error) (paginationSummary, error) {
	limit := p.limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	summary := paginationSummary{}
	cursor := ""
	for {
		page, err := p.source.FetchPage(ctx, p.credential, p.kind, cursor, limit)
		if err == nil && page.HasNext && page.NextCursor == "" {
			err = errMissingNextCursor
		}
		if err != nil {
			fetchErr := fmt.Errorf("%w: %w", ErrSourceFetch, err)
			if p.policy == FetchFailureAbort {
				return summary, fetchErr
			}
			p.logger.Warn("page fetch failed, truncating pass",
				zap.String("shop_domain", p.credential.ShopDomain),
				zap.String("kind", p.kind.String()),
				zap.Int("page", summary.pages+1),
				zap.Error(err))
			summary.truncated = true
			summary.fetchErr = fetchErr
			return summary, nil
		}

		summary.pages++
		if page.StoreID != "" {
			summary.storeID = page.StoreID
		}
		if err := handle(page); err != nil {
			return summary, err
		}
		if !page.HasNext {
			return summary, nil
		}
		cursor = page.NextCursor
	}
}
