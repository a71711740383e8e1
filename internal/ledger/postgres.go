package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds connection settings for the Postgres ledger.
type Config struct {
	DSN          string
	MaxOpenConns int
	TxTimeout    time.Duration
}

// PostgresLedger implements Ledger on PostgreSQL via pgx. Each InTx call maps
// to one database transaction with a bounded timeout; on timeout or error the
// transaction rolls back and no association or count change survives.
type PostgresLedger struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

// NewPostgresLedger opens a connection pool and verifies connectivity.
func NewPostgresLedger(config Config) (*PostgresLedger, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required for postgres ledger")
	}

	poolCfg, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(config.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	txTimeout := config.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 10 * time.Second
	}

	return &PostgresLedger{pool: pool, txTimeout: txTimeout}, nil
}

// InTx runs fn inside one database transaction under the configured timeout.
func (pl *PostgresLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, pl.txTimeout)
	defer cancel()

	tx, err := pl.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (pl *PostgresLedger) Ping(ctx context.Context) error {
	return pl.pool.Ping(ctx)
}

// Close closes the connection pool.
func (pl *PostgresLedger) Close() error {
	pl.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

// assocTable maps an owner kind to its association table and owner column.
// Table names come from this fixed map, never from caller input.
func assocTable(kind OwnerKind) (table, ownerCol string) {
	switch kind {
	case OwnerActivity:
		return "activity_tags", "activity_id"
	default:
		return "post_tags", "post_id"
	}
}

const tagColumns = "id, name, slug, COALESCE(color, ''), posts_count, activities_count, created_at, updated_at"

func scanTag(row pgx.Row) (*Tag, error) {
	var tag Tag
	err := row.Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.Color,
		&tag.PostsCount, &tag.ActivitiesCount, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func collectTags(rows pgx.Rows) ([]*Tag, error) {
	defer rows.Close()
	var tags []*Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (t *postgresTx) TagsForOwner(ctx context.Context, kind OwnerKind, ownerID string) ([]*Tag, error) {
	table, ownerCol := assocTable(kind)
	query := fmt.Sprintf(
		`SELECT %s FROM tags t JOIN %s a ON a.tag_id = t.id WHERE a.%s = $1 ORDER BY t.slug`,
		tagColumns, table, ownerCol)

	rows, err := t.tx.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner tags: %w", err)
	}
	return collectTags(rows)
}

func (t *postgresTx) FindTagBySlugOrName(ctx context.Context, slug, name string) (*Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags
		WHERE slug = $1 OR name = $2
		ORDER BY (slug = $1) DESC
		LIMIT 1`

	tag, err := scanTag(t.tx.QueryRow(ctx, query, slug, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tag: %w", err)
	}
	return tag, nil
}

func (t *postgresTx) CreateTag(ctx context.Context, tag *Tag) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO tags (id, name, slug, color, posts_count, activities_count, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), 0, 0, now(), now())`,
		tag.ID, tag.Name, tag.Slug, tag.Color)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
	}
	return nil
}

func (t *postgresTx) Link(ctx context.Context, kind OwnerKind, ownerID, tagID string) error {
	table, ownerCol := assocTable(kind)
	query := fmt.Sprintf(
		`INSERT INTO %s (%s, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		table, ownerCol)

	if _, err := t.tx.Exec(ctx, query, ownerID, tagID); err != nil {
		return fmt.Errorf("failed to link tag: %w", err)
	}
	return nil
}

func (t *postgresTx) Unlink(ctx context.Context, kind OwnerKind, ownerID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	table, ownerCol := assocTable(kind)
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s = $1 AND tag_id = ANY($2)`,
		table, ownerCol)

	if _, err := t.tx.Exec(ctx, query, ownerID, tagIDs); err != nil {
		return fmt.Errorf("failed to unlink tags: %w", err)
	}
	return nil
}

func (t *postgresTx) LiveOwnerCount(ctx context.Context, kind OwnerKind, tagID string) (int, error) {
	var query string
	switch kind {
	case OwnerActivity:
		query = `SELECT count(*) FROM activity_tags at
			JOIN activities a ON a.id = at.activity_id
			WHERE at.tag_id = $1 AND a.deleted_at IS NULL`
	default:
		query = `SELECT count(*) FROM post_tags pt
			JOIN posts p ON p.id = pt.post_id
			WHERE pt.tag_id = $1 AND p.published`
	}

	var count int
	if err := t.tx.QueryRow(ctx, query, tagID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count live owners: %w", err)
	}
	return count, nil
}

func (t *postgresTx) UpdateTagCounts(ctx context.Context, tagID string, postsCount, activitiesCount int) error {
	cmd, err := t.tx.Exec(ctx,
		`UPDATE tags SET posts_count = $2, activities_count = $3, updated_at = now() WHERE id = $1`,
		tagID, postsCount, activitiesCount)
	if err != nil {
		return fmt.Errorf("failed to update tag counts: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) Tags(ctx context.Context) ([]*Tag, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	return collectTags(rows)
}

func (t *postgresTx) SearchTags(ctx context.Context, query string, limit int) ([]*Tag, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(ctx,
		`SELECT `+tagColumns+` FROM tags
		 WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR slug ILIKE '%' || $1 || '%'
		 ORDER BY slug LIMIT $2`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search tags: %w", err)
	}
	return collectTags(rows)
}

func (t *postgresTx) OrphanAssociations(ctx context.Context) ([]OrphanAssociation, error) {
	query := `
		SELECT 'post', pt.post_id, pt.tag_id, 'missing-owner'
		FROM post_tags pt LEFT JOIN posts p ON p.id = pt.post_id
		WHERE p.id IS NULL
		UNION ALL
		SELECT 'post', pt.post_id, pt.tag_id, 'missing-tag'
		FROM post_tags pt LEFT JOIN tags t ON t.id = pt.tag_id
		WHERE t.id IS NULL
		UNION ALL
		SELECT 'activity', at.activity_id, at.tag_id, 'missing-owner'
		FROM activity_tags at LEFT JOIN activities a ON a.id = at.activity_id
		WHERE a.id IS NULL
		UNION ALL
		SELECT 'activity', at.activity_id, at.tag_id, 'missing-tag'
		FROM activity_tags at LEFT JOIN tags t ON t.id = at.tag_id
		WHERE t.id IS NULL
		ORDER BY 2, 3`

	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for orphans: %w", err)
	}
	defer rows.Close()

	var orphans []OrphanAssociation
	for rows.Next() {
		var o OrphanAssociation
		var kind string
		if err := rows.Scan(&kind, &o.OwnerID, &o.TagID, &o.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan orphan row: %w", err)
		}
		o.OwnerKind = OwnerKind(kind)
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

func (t *postgresTx) SavePost(ctx context.Context, post Post) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO posts (id, published) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET published = EXCLUDED.published`,
		post.ID, post.Published)
	if err != nil {
		return fmt.Errorf("failed to save post: %w", err)
	}
	return nil
}

func (t *postgresTx) SaveActivity(ctx context.Context, activity Activity) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO activities (id, deleted_at) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET deleted_at = EXCLUDED.deleted_at`,
		activity.ID, activity.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to save activity: %w", err)
	}
	return nil
}
