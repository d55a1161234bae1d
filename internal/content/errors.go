package content

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential indicates that the shop has no stored Admin API token.
	ErrMissingCredential = errors.New("content: shop credential missing")
	// ErrSourceFetch indicates that a remote page fetch failed, as opposed to the source being exhausted.
	ErrSourceFetch = errors.New("content: remote page fetch failed")
	// ErrInvalidShopDomain indicates an empty shop domain.
	ErrInvalidShopDomain = errors.New("content: invalid shop domain")
	// ErrRecordNotFound indicates that no stored record matches the lookup.
	ErrRecordNotFound = errors.New("content: record not found")

	errMissingStore  = errors.New("record store is required")
	errMissingSource = errors.New("content source is required")
	errMissingShops  = errors.New("shop directory is required")
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opEngineNew       = "content.engine.new"
	opSync            = "content.sync"
	opInitialSync     = "content.initial_sync"
	opSetChunkIDs     = "content.set_chunk_ids"
	opStatus          = "content.status"
	reasonMissingDeps = "missing_dependency"
	reasonInvalidKind = "invalid_kind"
	reasonInvalidShop = "invalid_shop"
	reasonCredential  = "credential_missing"
	reasonShopLookup  = "shop_lookup_failed"
	reasonSnapshot    = "snapshot_failed"
	reasonFetch       = "fetch_failed"
	reasonUpsert      = "upsert_failed"
	reasonDelete      = "delete_failed"
	reasonCount       = "count_failed"
	reasonTracker     = "initial_flag_failed"
	reasonNotFound    = "not_found"
	reasonUpdate      = "update_failed"
	reasonLease       = "lease_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
