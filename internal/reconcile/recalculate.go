// Package reconcile keeps the materialized tag counts consistent with the
// association tables. Recalculate runs inside the same transaction as a link
// change; the Sweeper re-derives every count from scratch as a periodic
// corrective against drift from bugs, crashes mid-transaction, or migrations.
package reconcile

import (
	"context"
	"fmt"

	"tally/internal/ledger"
)

// Recalculate recomputes and overwrites both materialized counts for the
// given tags from the association tables: published posts and non-deleted
// activities only. Counts are written as absolute values, never deltas,
// which is what keeps concurrent writers from losing updates. Duplicate ids
// are collapsed and an empty input is a no-op, so every mutating path can
// call this unconditionally.
func Recalculate(ctx context.Context, tx ledger.Tx, tagIDs []string) error {
	seen := make(map[string]struct{}, len(tagIDs))
	for _, tagID := range tagIDs {
		if tagID == "" {
			continue
		}
		if _, dup := seen[tagID]; dup {
			continue
		}
		seen[tagID] = struct{}{}

		postsCount, err := tx.LiveOwnerCount(ctx, ledger.OwnerPost, tagID)
		if err != nil {
			return fmt.Errorf("recalculate posts count for %s: %w", tagID, err)
		}
		activitiesCount, err := tx.LiveOwnerCount(ctx, ledger.OwnerActivity, tagID)
		if err != nil {
			return fmt.Errorf("recalculate activities count for %s: %w", tagID, err)
		}

		if err := tx.UpdateTagCounts(ctx, tagID, postsCount, activitiesCount); err != nil {
			return fmt.Errorf("persist counts for %s: %w", tagID, err)
		}
	}
	return nil
}
