package tags

import (
	"context"

	"tally/internal/ledger"
	"tally/internal/reconcile"

	"github.com/google/uuid"
)

// Service implements the sync-tags-for-owner operation: replacing the full
// tag set of one post or activity atomically, creating tags lazily on first
// use and recalculating the affected materialized counts inside the same
// transaction.
type Service struct {
	ledger  ledger.Ledger
	maxTags int
}

// NewService creates a tag service. maxTags caps how many tags one owner may
// carry; zero means no cap.
func NewService(l ledger.Ledger, maxTags int) *Service {
	return &Service{ledger: l, maxTags: maxTags}
}

// SyncTagsForOwner replaces the owner's tag set with desiredNames inside one
// transaction and returns the ids of the desired tags in input order.
// Re-running with the same names is idempotent. An empty (or fully invalid)
// name list removes every existing association; the removed tags are still
// recalculated so their counts drop immediately.
//
// Ordering inside the transaction is fixed: unlink, then link, then
// recalculate, so the recalculation always reflects the post-mutation ledger.
func (s *Service) SyncTagsForOwner(ctx context.Context, kind ledger.OwnerKind, ownerID string, desiredNames []string) ([]string, error) {
	if ownerID == "" {
		return nil, NewValidationError("owner id is required", nil)
	}

	desired := NormalizeNames(desiredNames, s.maxTags)

	var tagIDs []string
	err := s.ledger.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		current, err := tx.TagsForOwner(ctx, kind, ownerID)
		if err != nil {
			return err
		}

		currentBySlug := make(map[string]*ledger.Tag, len(current))
		for _, tag := range current {
			currentBySlug[tag.Slug] = tag
		}

		desiredSlugs := make(map[string]struct{}, len(desired))
		for _, n := range desired {
			desiredSlugs[n.Slug] = struct{}{}
		}

		// Affected ids accumulate removed and desired tags alike; every one
		// of them gets its counts recomputed before commit.
		var affected []string

		var toRemove []string
		for _, tag := range current {
			if _, keep := desiredSlugs[tag.Slug]; !keep {
				toRemove = append(toRemove, tag.ID)
				affected = append(affected, tag.ID)
			}
		}
		if err := tx.Unlink(ctx, kind, ownerID, toRemove); err != nil {
			return err
		}

		tagIDs = make([]string, 0, len(desired))
		for _, n := range desired {
			tag := currentBySlug[n.Slug]
			if tag == nil {
				tag, err = tx.FindTagBySlugOrName(ctx, n.Slug, n.Name)
				if err != nil {
					return err
				}
			}
			if tag == nil {
				tag = &ledger.Tag{
					ID:   uuid.New().String(),
					Name: n.Name,
					Slug: n.Slug,
				}
				if err := tx.CreateTag(ctx, tag); err != nil {
					return err
				}
			}

			if err := tx.Link(ctx, kind, ownerID, tag.ID); err != nil {
				return err
			}
			tagIDs = append(tagIDs, tag.ID)
			affected = append(affected, tag.ID)
		}

		return reconcile.Recalculate(ctx, tx, affected)
	})
	if err != nil {
		if svcErr, ok := err.(*ServiceError); ok {
			return nil, svcErr
		}
		return nil, NewInternalError("failed to sync tags", err)
	}

	return tagIDs, nil
}
