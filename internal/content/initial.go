package content

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var errMissingTracker = errors.New("initial sync tracker is required")

// InitialSyncResult summarizes the once-per-shop first synchronization.
type InitialSyncResult struct {
	ShopDomain string
	Skipped    bool
	Results    []SyncResult
	Warnings   []string
}

// InitialSync runs pages then articles for a freshly installed shop.
// Batch write failures are retried and then reported as warnings; the shop is
// marked completed at the end regardless so installs never loop on retries.
func (e *Engine) InitialSync(ctx context.Context, shopDomain string) (InitialSyncResult, error) {
	if e.initialSync == nil {
		return InitialSyncResult{}, newServiceError(opInitialSync, reasonMissingDeps, errMissingTracker)
	}
	result := InitialSyncResult{ShopDomain: shopDomain, Results: make([]SyncResult, 0, len(Kinds())), Warnings: make([]string, 0)}

	completed, err := e.initialSync.InitialSyncCompleted(ctx, shopDomain)
	if err != nil {
		e.logError(opInitialSync, reasonTracker, err, zap.String("shop_domain", shopDomain))
		return InitialSyncResult{}, newServiceError(opInitialSync, reasonTracker, err)
	}
	if completed {
		result.Skipped = true
		return result, nil
	}

	options := passOptions{
		initial:             true,
		writeAttempts:       e.initialWriteAttempts,
		continueOnWriteFail: true,
	}
	for _, kind := range Kinds() {
		passResult, passErr := e.runPass(ctx, opInitialSync, shopDomain, kind, options)
		if passErr != nil {
			if errors.Is(passErr, ErrMissingCredential) || errors.Is(passErr, ErrInvalidShopDomain) {
				return InitialSyncResult{}, passErr
			}
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s sync failed: %v", kind, passErr))
			continue
		}
		result.Results = append(result.Results, passResult)
		result.Warnings = append(result.Warnings, passResult.Warnings...)
	}

	if err := e.initialSync.MarkInitialSyncCompleted(ctx, shopDomain); err != nil {
		e.logError(opInitialSync, reasonTracker, err, zap.String("shop_domain", shopDomain))
		return InitialSyncResult{}, newServiceError(opInitialSync, reasonTracker, err)
	}
	if len(result.Warnings) > 0 {
		e.logger.Warn("initial sync completed with warnings",
			zap.String("shop_domain", shopDomain),
			zap.Strings("warnings", result.Warnings))
	}
	return result, nil
}
