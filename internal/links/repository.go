package links

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/lorekeep/internal/platform/db"
	"github.com/lorekeep/lorekeep/internal/shared"
)

// Repository is the persistence boundary of the link graph. Backlinks are a
// reverse query over the forward edge set; they are never stored.
type Repository interface {
	PageByID(ctx context.Context, id int64) (*PageRef, error)
	PageByTitle(ctx context.Context, title string) (*PageRef, error)
	PageBySlug(ctx context.Context, slug string) (*PageRef, error)
	ContentPages(ctx context.Context) ([]PageRef, error)

	ReplaceOutgoing(ctx context.Context, sourceID int64, targetIDs []int64) error
	OutgoingIDs(ctx context.Context, sourceID int64) ([]int64, error)
	Backlinks(ctx context.Context, targetID int64) ([]PageRef, error)
	OrphanRoots(ctx context.Context) ([]PageRef, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const refColumns = `id, title, slug, is_folder, content, parent_id`

func scanRef(row pgx.Row) (*PageRef, error) {
	var p PageRef
	if err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.IsFolder, &p.Content, &p.ParentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("links: page: %w", shared.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) PageByID(ctx context.Context, id int64) (*PageRef, error) {
	return scanRef(r.pool.QueryRow(ctx, `SELECT `+refColumns+` FROM pages WHERE id = $1`, id))
}

func (r *repository) PageByTitle(ctx context.Context, title string) (*PageRef, error) {
	return scanRef(r.pool.QueryRow(ctx, `SELECT `+refColumns+` FROM pages WHERE title = $1`, title))
}

func (r *repository) PageBySlug(ctx context.Context, slug string) (*PageRef, error) {
	return scanRef(r.pool.QueryRow(ctx, `SELECT `+refColumns+` FROM pages WHERE slug = $1`, slug))
}

func (r *repository) listRefs(ctx context.Context, query string, args ...interface{}) ([]PageRef, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PageRef
	for rows.Next() {
		var p PageRef
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &p.IsFolder, &p.Content, &p.ParentID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) ContentPages(ctx context.Context) ([]PageRef, error) {
	return r.listRefs(ctx, `SELECT `+refColumns+` FROM pages WHERE NOT is_folder ORDER BY id`)
}

func (r *repository) ReplaceOutgoing(ctx context.Context, sourceID int64, targetIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM page_links WHERE source_id = $1`, sourceID); err != nil {
			return err
		}
		for _, targetID := range targetIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO page_links (source_id, target_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				sourceID, targetID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repository) OutgoingIDs(ctx context.Context, sourceID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT target_id FROM page_links WHERE source_id = $1 ORDER BY target_id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) Backlinks(ctx context.Context, targetID int64) ([]PageRef, error) {
	return r.listRefs(ctx,
		`SELECT p.id, p.title, p.slug, p.is_folder, p.content, p.parent_id
		 FROM pages p
		 JOIN page_links l ON l.source_id = p.id
		 WHERE l.target_id = $1
		 ORDER BY p.id`, targetID)
}

func (r *repository) OrphanRoots(ctx context.Context) ([]PageRef, error) {
	return r.listRefs(ctx,
		`SELECT p.id, p.title, p.slug, p.is_folder, p.content, p.parent_id
		 FROM pages p
		 WHERE p.parent_id IS NULL
		   AND NOT EXISTS (SELECT 1 FROM page_links l WHERE l.target_id = p.id)
		 ORDER BY p.id`)
}
