package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/ledger"

	"golang.org/x/time/rate"
)

// Correction records one count field the sweep had to fix.
type Correction struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Field    string `json:"field"` // "posts_count" or "activities_count"
	Previous int    `json:"previous_value"`
	Actual   int    `json:"actual_value"`
}

// Report summarizes one full reconciliation sweep.
type Report struct {
	GeneratedAt     time.Time                  `json:"generated_at"`
	TotalTags       int                        `json:"total_tags"`
	ReconciledCount int                        `json:"reconciled_count"`
	UnchangedCount  int                        `json:"unchanged_count"`
	UpdatedDetails  []Correction               `json:"updated_details"`
	OrphanRelations []ledger.OrphanAssociation `json:"orphan_relations"`
}

// Sweeper re-derives every tag's counts from the association tables and
// fixes the rows that drifted. It is the system's ground truth; the
// incremental path converges to whatever the sweep would compute.
type Sweeper struct {
	ledger         ledger.Ledger
	pace           *rate.Limiter
	driftThreshold int
}

// SweeperOption configures optional sweeper behavior.
type SweeperOption func(*Sweeper)

// WithPace limits the per-tag query rate so an offline sweep over a large
// tag table does not saturate the database.
func WithPace(perSecond int) SweeperOption {
	return func(s *Sweeper) {
		if perSecond > 0 {
			s.pace = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// WithDriftThreshold sets the correction count above which a sweep logs at
// error level. Drift below the threshold is routine and logs at info.
func WithDriftThreshold(threshold int) SweeperOption {
	return func(s *Sweeper) {
		s.driftThreshold = threshold
	}
}

// NewSweeper creates a sweeper over the given ledger.
func NewSweeper(l ledger.Ledger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		ledger:         l,
		pace:           rate.NewLimiter(rate.Inf, 1),
		driftThreshold: 50,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReconcileAll recomputes the true counts for every tag inside a single
// transaction, updates only the rows whose stored values differ, and reports
// orphan association rows without deleting them (that call is an operator's).
func (s *Sweeper) ReconcileAll(ctx context.Context) (*Report, error) {
	report := &Report{
		GeneratedAt:     time.Now().UTC(),
		UpdatedDetails:  []Correction{},
		OrphanRelations: []ledger.OrphanAssociation{},
	}

	err := s.ledger.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		tags, err := tx.Tags(ctx)
		if err != nil {
			return fmt.Errorf("load tags: %w", err)
		}
		report.TotalTags = len(tags)

		for _, tag := range tags {
			if err := s.pace.Wait(ctx); err != nil {
				return err
			}

			postsCount, err := tx.LiveOwnerCount(ctx, ledger.OwnerPost, tag.ID)
			if err != nil {
				return fmt.Errorf("count posts for %s: %w", tag.ID, err)
			}
			activitiesCount, err := tx.LiveOwnerCount(ctx, ledger.OwnerActivity, tag.ID)
			if err != nil {
				return fmt.Errorf("count activities for %s: %w", tag.ID, err)
			}

			if postsCount == tag.PostsCount && activitiesCount == tag.ActivitiesCount {
				report.UnchangedCount++
				continue
			}

			if err := tx.UpdateTagCounts(ctx, tag.ID, postsCount, activitiesCount); err != nil {
				return fmt.Errorf("update counts for %s: %w", tag.ID, err)
			}
			report.ReconciledCount++

			if postsCount != tag.PostsCount {
				report.UpdatedDetails = append(report.UpdatedDetails, Correction{
					ID: tag.ID, Name: tag.Name, Field: "posts_count",
					Previous: tag.PostsCount, Actual: postsCount,
				})
			}
			if activitiesCount != tag.ActivitiesCount {
				report.UpdatedDetails = append(report.UpdatedDetails, Correction{
					ID: tag.ID, Name: tag.Name, Field: "activities_count",
					Previous: tag.ActivitiesCount, Actual: activitiesCount,
				})
			}
		}

		orphans, err := tx.OrphanAssociations(ctx)
		if err != nil {
			return fmt.Errorf("scan orphan associations: %w", err)
		}
		if orphans != nil {
			report.OrphanRelations = orphans
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation sweep: %w", err)
	}

	s.logOutcome(report)
	return report, nil
}

// logOutcome reports drift at info level; crossing the operator threshold
// escalates to error so alerting can pick it up.
func (s *Sweeper) logOutcome(report *Report) {
	attrs := []any{
		"total_tags", report.TotalTags,
		"reconciled", report.ReconciledCount,
		"unchanged", report.UnchangedCount,
		"orphans", len(report.OrphanRelations),
	}
	if report.ReconciledCount > s.driftThreshold {
		slog.Error("reconciliation sweep found excessive drift", attrs...)
		return
	}
	slog.Info("reconciliation sweep complete", attrs...)
}
