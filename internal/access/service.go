package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/lorekeep/lorekeep/internal/identity"
	"github.com/lorekeep/lorekeep/internal/shared"
)

// Identity is the read-only view of the external identity system the
// resolver needs. Implemented by internal/identity.Repository.
type Identity interface {
	UserByUsername(ctx context.Context, username string) (*identity.User, error)
	RoleByName(ctx context.Context, name string) (*identity.Role, error)
}

// Service computes permission decisions and manages explicit grants. Every
// decision is evaluated fresh from the store; nothing is cached across calls,
// since grants can change between them.
type Service struct {
	repo     Repository
	idsrc    Identity
	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(repo Repository, idsrc Identity) *Service {
	return &Service{repo: repo, idsrc: idsrc, validate: validator.New()}
}

// requester resolves the context principal to a live user record. A nil user
// with nil error means the request must be denied (fail closed).
func (s *Service) requester(ctx context.Context) (*identity.User, error) {
	p := shared.PrincipalFromContext(ctx)
	if !p.Authenticated() {
		return nil, nil
	}
	user, err := s.idsrc.UserByUsername(ctx, p.Username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.Active() {
		return nil, nil
	}
	return user, nil
}

// Can decides whether the context principal holds perm on the page.
//
// Precedence: unauthenticated deny; admin grant; missing page deny; pages
// with no grant rows fall back to role defaults (EDITOR implies VIEW+EDIT,
// VIEWER implies VIEW, nothing implies DELETE or MANAGE_PERMISSIONS); pages
// with grant rows suppress role defaults entirely and match explicit grants
// only, direct user grants before role grants.
func (s *Service) Can(ctx context.Context, pageID int64, perm PermissionType) (bool, error) {
	if !perm.Valid() {
		return false, fmt.Errorf("access: unknown permission %q: %w", perm, shared.ErrValidation)
	}

	user, err := s.requester(ctx)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	if user.HasRole(identity.RoleAdmin) {
		return true, nil
	}

	exists, err := s.repo.PageExists(ctx, pageID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	count, err := s.repo.GrantCount(ctx, pageID)
	if err != nil {
		return false, err
	}
	if count == 0 {
		return defaultAllows(user, perm), nil
	}

	grants, err := s.repo.GrantsFor(ctx, pageID, user.ID, user.RoleIDs())
	if err != nil {
		return false, err
	}
	// Only granted=true rows authorize; a stored granted=false row neither
	// authorizes nor overrides a matching role grant (no deny-wins).
	for _, g := range grants {
		if g.Granted && g.Subject.UserID != nil && perm.SatisfiedBy(g.Permission) {
			return true, nil
		}
	}
	for _, g := range grants {
		if g.Granted && g.Subject.RoleID != nil && perm.SatisfiedBy(g.Permission) {
			return true, nil
		}
	}
	return false, nil
}

// defaultAllows applies the role defaults used for non-sensitive pages.
func defaultAllows(user *identity.User, perm PermissionType) bool {
	switch perm {
	case PermissionView:
		return user.HasRole(identity.RoleEditor) || user.HasRole(identity.RoleViewer)
	case PermissionEdit:
		return user.HasRole(identity.RoleEditor)
	default:
		return false
	}
}

// CanManagePermissions reports whether the principal may change grants on the
// page: admins always, otherwise an explicit MANAGE_PERMISSIONS (or
// FULL_ACCESS) grant.
func (s *Service) CanManagePermissions(ctx context.Context, pageID int64) (bool, error) {
	return s.Can(ctx, pageID, PermissionManagePermissions)
}

func (s *Service) requireManage(ctx context.Context, pageID int64) (*identity.User, error) {
	user, err := s.requester(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("access: unauthenticated: %w", shared.ErrAccessDenied)
	}
	if user.HasRole(identity.RoleAdmin) {
		return user, nil
	}
	ok, err := s.Can(ctx, pageID, PermissionManagePermissions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("access: %s may not manage permissions on page %d: %w", user.Username, pageID, shared.ErrAccessDenied)
	}
	return user, nil
}

func (s *Service) requireAdmin(ctx context.Context) (*identity.User, error) {
	user, err := s.requester(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasRole(identity.RoleAdmin) {
		return nil, fmt.Errorf("access: admin role required: %w", shared.ErrAccessDenied)
	}
	return user, nil
}

func (s *Service) checkGrantInput(ctx context.Context, in GrantInput) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("access: grant request: %v: %w", err, shared.ErrValidation)
	}
	if err := in.Subject.Validate(); err != nil {
		return err
	}
	exists, err := s.repo.PageExists(ctx, in.PageID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("access: page %d: %w", in.PageID, shared.ErrNotFound)
	}
	if in.Subject.UserID != nil {
		ok, err := s.repo.UserExists(ctx, *in.Subject.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("access: user %d: %w", *in.Subject.UserID, shared.ErrNotFound)
		}
	}
	if in.Subject.RoleID != nil {
		ok, err := s.repo.RoleExists(ctx, *in.Subject.RoleID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("access: role %d: %w", *in.Subject.RoleID, shared.ErrNotFound)
		}
	}
	return nil
}

// Grant upserts an authorization for one subject on one page. Requires the
// caller to manage permissions on the page or hold the admin role.
func (s *Service) Grant(ctx context.Context, in GrantInput) error {
	user, err := s.requireManage(ctx, in.PageID)
	if err != nil {
		return err
	}
	if err := s.checkGrantInput(ctx, in); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, Grant{
		PageID:     in.PageID,
		Subject:    in.Subject,
		Permission: in.Permission,
		Granted:    true,
		GrantedBy:  user.Username,
	})
}

// Revoke deletes the matching grant row; revoking an absent grant is a no-op.
func (s *Service) Revoke(ctx context.Context, in GrantInput) error {
	if _, err := s.requireManage(ctx, in.PageID); err != nil {
		return err
	}
	if err := s.checkGrantInput(ctx, in); err != nil {
		return err
	}
	_, err := s.repo.Delete(ctx, in.PageID, in.Subject, in.Permission)
	return err
}

// MarkSensitive seeds a FULL_ACCESS grant for the admin role on a page with
// no grants yet, so admins can manage the freshly restricted page. No-op when
// the page already has grants. Admin only.
func (s *Service) MarkSensitive(ctx context.Context, pageID int64) error {
	user, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}
	exists, err := s.repo.PageExists(ctx, pageID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("access: page %d: %w", pageID, shared.ErrNotFound)
	}
	count, err := s.repo.GrantCount(ctx, pageID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	role, err := s.idsrc.RoleByName(ctx, identity.RoleAdmin)
	if err != nil {
		return err
	}
	return s.repo.Upsert(ctx, Grant{
		PageID:     pageID,
		Subject:    RoleSubject(role.ID),
		Permission: PermissionFullAccess,
		Granted:    true,
		GrantedBy:  user.Username,
	})
}

// MarkPublic deletes every grant on the page, reverting it to role-default
// resolution. Admin only.
func (s *Service) MarkPublic(ctx context.Context, pageID int64) error {
	if _, err := s.requireAdmin(ctx); err != nil {
		return err
	}
	exists, err := s.repo.PageExists(ctx, pageID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("access: page %d: %w", pageID, shared.ErrNotFound)
	}
	_, err = s.repo.DeleteForPage(ctx, pageID)
	return err
}

// Grants lists the explicit grants on a page for review tooling. Requires
// manage rights.
func (s *Service) Grants(ctx context.Context, pageID int64) ([]Grant, error) {
	if _, err := s.requireManage(ctx, pageID); err != nil {
		return nil, err
	}
	return s.repo.GrantsForPage(ctx, pageID)
}

// IsSensitive reports whether the page carries at least one grant row.
func (s *Service) IsSensitive(ctx context.Context, pageID int64) (bool, error) {
	exists, err := s.repo.PageExists(ctx, pageID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("access: page %d: %w", pageID, shared.ErrNotFound)
	}
	count, err := s.repo.GrantCount(ctx, pageID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
