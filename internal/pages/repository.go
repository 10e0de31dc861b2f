package pages

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/lorekeep/internal/platform/db"
	"github.com/lorekeep/lorekeep/internal/shared"
)

// Repository is the persistence boundary of the page hierarchy. Delete-time
// cleanup of link edges and permission grants lives here too so the whole
// removal runs in one transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	Get(ctx context.Context, id int64) (*Page, error)
	GetByTitle(ctx context.Context, title string) (*Page, error)
	GetBySlug(ctx context.Context, slug string) (*Page, error)
	Create(ctx context.Context, page *Page) (int64, error)
	Update(ctx context.Context, page *Page) error
	SetParent(ctx context.Context, id int64, parentID *int64) error
	SetPublished(ctx context.Context, id int64, published bool, updatedBy string) error
	Delete(ctx context.Context, id int64) error

	Children(ctx context.Context, parentID int64) ([]Page, error)
	Roots(ctx context.Context) ([]Page, error)
	SlugsWithPrefix(ctx context.Context, prefix string) (map[string]bool, error)

	ClearEdgesTouching(ctx context.Context, pageID int64) error
	ClearGrantsForPage(ctx context.Context, pageID int64) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const pageColumns = `id, title, slug, content, is_folder, version, published, parent_id, created_by, updated_by, created_at, updated_at`

func scanPage(row pgx.Row) (*Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Content, &p.IsFolder, &p.Version,
		&p.Published, &p.ParentID, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pages: %w", shared.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Page, error) {
	return scanPage(r.db.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id))
}

func (r *repository) GetByTitle(ctx context.Context, title string) (*Page, error) {
	return scanPage(r.db.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE title = $1`, title))
}

func (r *repository) GetBySlug(ctx context.Context, slug string) (*Page, error) {
	return scanPage(r.db.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE slug = $1`, slug))
}

func (r *repository) Create(ctx context.Context, page *Page) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO pages (title, slug, content, is_folder, version, published, parent_id, created_by, updated_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 RETURNING id`,
		page.Title, page.Slug, page.Content, page.IsFolder, page.Version, page.Published,
		page.ParentID, page.CreatedBy, page.UpdatedBy, page.CreatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Concurrent insert slipped past the pre-check.
			return 0, fmt.Errorf("pages: duplicate title or slug: %w", shared.ErrValidation)
		}
		return 0, err
	}
	return id, nil
}

func (r *repository) Update(ctx context.Context, page *Page) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pages SET title = $2, content = $3, version = $4, updated_by = $5, updated_at = $6 WHERE id = $1`,
		page.ID, page.Title, page.Content, page.Version, page.UpdatedBy, page.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("pages: duplicate title: %w", shared.ErrValidation)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pages: %w", shared.ErrNotFound)
	}
	return nil
}

func (r *repository) SetParent(ctx context.Context, id int64, parentID *int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE pages SET parent_id = $2 WHERE id = $1`, id, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pages: %w", shared.ErrNotFound)
	}
	return nil
}

func (r *repository) SetPublished(ctx context.Context, id int64, published bool, updatedBy string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pages SET published = $2, updated_by = $3, updated_at = now() WHERE id = $1`,
		id, published, updatedBy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pages: %w", shared.ErrNotFound)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pages: %w", shared.ErrNotFound)
	}
	return nil
}

func (r *repository) listPages(ctx context.Context, query string, args ...interface{}) ([]Page, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &p.Content, &p.IsFolder, &p.Version,
			&p.Published, &p.ParentID, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) Children(ctx context.Context, parentID int64) ([]Page, error) {
	return r.listPages(ctx, `SELECT `+pageColumns+` FROM pages WHERE parent_id = $1 ORDER BY id`, parentID)
}

func (r *repository) Roots(ctx context.Context) ([]Page, error) {
	return r.listPages(ctx, `SELECT `+pageColumns+` FROM pages WHERE parent_id IS NULL ORDER BY id`)
}

func (r *repository) SlugsWithPrefix(ctx context.Context, prefix string) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT slug FROM pages WHERE slug LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	taken := make(map[string]bool)
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		taken[slug] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return taken, nil
}

func (r *repository) ClearEdgesTouching(ctx context.Context, pageID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM page_links WHERE source_id = $1 OR target_id = $1`, pageID)
	return err
}

func (r *repository) ClearGrantsForPage(ctx context.Context, pageID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM permission_grants WHERE page_id = $1`, pageID)
	return err
}
