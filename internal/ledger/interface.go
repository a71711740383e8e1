// Package ledger owns the many-to-many association tables between taggable
// entities (posts, activities) and tags, plus the tag rows carrying the
// materialized usage counts. The association tables are the source of truth;
// the counts on tag rows are derived and maintained by the reconcile package.
//
// Every mutation runs inside an explicit transaction: callers receive a Tx
// from InTx and thread it through, which keeps the atomicity boundary visible
// in signatures instead of ambient.
package ledger

import (
	"context"
	"time"
)

// OwnerKind selects which association table an operation targets.
type OwnerKind string

const (
	OwnerPost     OwnerKind = "post"
	OwnerActivity OwnerKind = "activity"
)

// Tag is a label shared across posts and activities. PostsCount and
// ActivitiesCount are materialized values derived from the association
// tables, written only by the reconcile package, never incremented in place.
type Tag struct {
	ID              string
	Name            string
	Slug            string
	Color           string
	PostsCount      int
	ActivitiesCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Post is the minimal owner record the ledger needs: only published posts
// contribute to tag counts.
type Post struct {
	ID        string
	Published bool
}

// Activity contributes to counts unless soft-deleted.
type Activity struct {
	ID        string
	DeletedAt *time.Time
}

// OrphanAssociation is an association row whose owner or tag no longer
// exists. The sweep reports these; deleting them is an operator decision.
type OrphanAssociation struct {
	OwnerKind OwnerKind `json:"owner_kind"`
	OwnerID   string    `json:"owner_id"`
	TagID     string    `json:"tag_id"`
	Reason    string    `json:"reason"` // "missing-owner" or "missing-tag"
}

// Tx is one transaction against the ledger. All methods see and produce
// uncommitted state; InTx commits on a nil return and rolls back otherwise.
type Tx interface {
	// TagsForOwner returns the tags currently linked to one owner.
	TagsForOwner(ctx context.Context, kind OwnerKind, ownerID string) ([]*Tag, error)

	// FindTagBySlugOrName looks up an existing tag, matching slug first and
	// name second. Returns (nil, nil) when no tag matches.
	FindTagBySlugOrName(ctx context.Context, slug, name string) (*Tag, error)

	// CreateTag inserts a new tag row.
	CreateTag(ctx context.Context, tag *Tag) error

	// Link creates the association row if it does not already exist.
	// Idempotent: linking an already-linked pair is a no-op.
	Link(ctx context.Context, kind OwnerKind, ownerID, tagID string) error

	// Unlink removes the association rows between one owner and the given
	// tags. Missing rows are ignored.
	Unlink(ctx context.Context, kind OwnerKind, ownerID string, tagIDs []string) error

	// LiveOwnerCount returns the number of live owners linked to a tag:
	// published posts for OwnerPost, non-deleted activities for
	// OwnerActivity.
	LiveOwnerCount(ctx context.Context, kind OwnerKind, tagID string) (int, error)

	// UpdateTagCounts overwrites both materialized counts on a tag row.
	UpdateTagCounts(ctx context.Context, tagID string, postsCount, activitiesCount int) error

	// Tags returns all tag rows.
	Tags(ctx context.Context) ([]*Tag, error)

	// SearchTags returns up to limit tags whose name or slug contains the
	// query, all tags when the query is empty.
	SearchTags(ctx context.Context, query string, limit int) ([]*Tag, error)

	// OrphanAssociations scans both association tables for rows referencing
	// a missing owner or tag.
	OrphanAssociations(ctx context.Context) ([]OrphanAssociation, error)

	// SavePost upserts an owner record for posts.
	SavePost(ctx context.Context, post Post) error

	// SaveActivity upserts an owner record for activities.
	SaveActivity(ctx context.Context, activity Activity) error
}

// Ledger is the transactional store. Implementations must guarantee that a
// transaction either commits completely or leaves no trace: an association
// change is never visible without the count recalculation that followed it
// in the same transaction.
type Ledger interface {
	// InTx runs fn inside one transaction, committing when fn returns nil
	// and rolling back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
