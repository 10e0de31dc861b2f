package access

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence boundary of the access resolver. Reads are
// always served fresh; nothing here caches across calls.
type Repository interface {
	PageExists(ctx context.Context, pageID int64) (bool, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	RoleExists(ctx context.Context, roleID int64) (bool, error)

	GrantCount(ctx context.Context, pageID int64) (int, error)
	GrantsFor(ctx context.Context, pageID, userID int64, roleIDs []int64) ([]Grant, error)
	GrantsForPage(ctx context.Context, pageID int64) ([]Grant, error)

	Upsert(ctx context.Context, grant Grant) error
	Delete(ctx context.Context, pageID int64, subject Subject, perm PermissionType) (bool, error)
	DeleteForPage(ctx context.Context, pageID int64) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) exists(ctx context.Context, query string, id int64) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, query, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *repository) PageExists(ctx context.Context, pageID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM pages WHERE id = $1)`, pageID)
}

func (r *repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID)
}

func (r *repository) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID)
}

func (r *repository) GrantCount(ctx context.Context, pageID int64) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM permission_grants WHERE page_id = $1`, pageID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

const grantColumns = `id, page_id, user_id, role_id, permission, granted, granted_by, created_at`

func (r *repository) listGrants(ctx context.Context, query string, args ...interface{}) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ID, &g.PageID, &g.Subject.UserID, &g.Subject.RoleID,
			&g.Permission, &g.Granted, &g.GrantedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) GrantsFor(ctx context.Context, pageID, userID int64, roleIDs []int64) ([]Grant, error) {
	return r.listGrants(ctx,
		`SELECT `+grantColumns+`
		 FROM permission_grants
		 WHERE page_id = $1 AND (user_id = $2 OR role_id = ANY($3))
		 ORDER BY id`,
		pageID, userID, roleIDs)
}

func (r *repository) GrantsForPage(ctx context.Context, pageID int64) ([]Grant, error) {
	return r.listGrants(ctx, `SELECT `+grantColumns+` FROM permission_grants WHERE page_id = $1 ORDER BY id`, pageID)
}

// Upsert inserts the grant or refreshes an existing row. The partial unique
// indexes on (page_id, user_id, permission) and (page_id, role_id, permission)
// serialize concurrent attempts on the same subject, so the second writer
// updates instead of duplicating.
func (r *repository) Upsert(ctx context.Context, grant Grant) error {
	if grant.Subject.UserID != nil {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO permission_grants (page_id, user_id, permission, granted, granted_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (page_id, user_id, permission) WHERE role_id IS NULL
			 DO UPDATE SET granted = EXCLUDED.granted, granted_by = EXCLUDED.granted_by`,
			grant.PageID, *grant.Subject.UserID, grant.Permission, grant.Granted, grant.GrantedBy)
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO permission_grants (page_id, role_id, permission, granted, granted_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (page_id, role_id, permission) WHERE user_id IS NULL
		 DO UPDATE SET granted = EXCLUDED.granted, granted_by = EXCLUDED.granted_by`,
		grant.PageID, *grant.Subject.RoleID, grant.Permission, grant.Granted, grant.GrantedBy)
	return err
}

func (r *repository) Delete(ctx context.Context, pageID int64, subject Subject, perm PermissionType) (bool, error) {
	var query string
	var subjectID int64
	if subject.UserID != nil {
		query = `DELETE FROM permission_grants WHERE page_id = $1 AND user_id = $2 AND permission = $3`
		subjectID = *subject.UserID
	} else {
		query = `DELETE FROM permission_grants WHERE page_id = $1 AND role_id = $2 AND permission = $3`
		subjectID = *subject.RoleID
	}
	tag, err := r.pool.Exec(ctx, query, pageID, subjectID, perm)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) DeleteForPage(ctx context.Context, pageID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permission_grants WHERE page_id = $1`, pageID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
