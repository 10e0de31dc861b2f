package access

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeep/lorekeep/internal/identity"
	"github.com/lorekeep/lorekeep/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	pages  map[int64]bool
	users  map[int64]bool
	roles  map[int64]bool
	grants []Grant
	nextID int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		pages:  make(map[int64]bool),
		users:  make(map[int64]bool),
		roles:  make(map[int64]bool),
		nextID: 1,
	}
}

func (m *mockRepository) PageExists(ctx context.Context, pageID int64) (bool, error) {
	return m.pages[pageID], nil
}

func (m *mockRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	return m.users[userID], nil
}

func (m *mockRepository) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	return m.roles[roleID], nil
}

func (m *mockRepository) GrantCount(ctx context.Context, pageID int64) (int, error) {
	n := 0
	for _, g := range m.grants {
		if g.PageID == pageID {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) GrantsFor(ctx context.Context, pageID, userID int64, roleIDs []int64) ([]Grant, error) {
	roleSet := make(map[int64]bool, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = true
	}
	var out []Grant
	for _, g := range m.grants {
		if g.PageID != pageID {
			continue
		}
		if g.Subject.UserID != nil && *g.Subject.UserID == userID {
			out = append(out, g)
		} else if g.Subject.RoleID != nil && roleSet[*g.Subject.RoleID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *mockRepository) GrantsForPage(ctx context.Context, pageID int64) ([]Grant, error) {
	var out []Grant
	for _, g := range m.grants {
		if g.PageID == pageID {
			out = append(out, g)
		}
	}
	return out, nil
}

func sameSubject(a, b Subject) bool {
	switch {
	case a.UserID != nil && b.UserID != nil:
		return *a.UserID == *b.UserID
	case a.RoleID != nil && b.RoleID != nil:
		return *a.RoleID == *b.RoleID
	}
	return false
}

func (m *mockRepository) Upsert(ctx context.Context, grant Grant) error {
	for i, g := range m.grants {
		if g.PageID == grant.PageID && g.Permission == grant.Permission && sameSubject(g.Subject, grant.Subject) {
			m.grants[i].Granted = grant.Granted
			m.grants[i].GrantedBy = grant.GrantedBy
			return nil
		}
	}
	grant.ID = m.nextID
	m.nextID++
	m.grants = append(m.grants, grant)
	return nil
}

func (m *mockRepository) Delete(ctx context.Context, pageID int64, subject Subject, perm PermissionType) (bool, error) {
	for i, g := range m.grants {
		if g.PageID == pageID && g.Permission == perm && sameSubject(g.Subject, subject) {
			m.grants = append(m.grants[:i], m.grants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepository) DeleteForPage(ctx context.Context, pageID int64) (int64, error) {
	var kept []Grant
	var removed int64
	for _, g := range m.grants {
		if g.PageID == pageID {
			removed++
			continue
		}
		kept = append(kept, g)
	}
	m.grants = kept
	return removed, nil
}

type mockIdentity struct {
	users map[string]*identity.User
	roles map[string]*identity.Role
}

func newMockIdentity() *mockIdentity {
	return &mockIdentity{
		users: make(map[string]*identity.User),
		roles: make(map[string]*identity.Role),
	}
}

func (m *mockIdentity) UserByUsername(ctx context.Context, username string) (*identity.User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("identity: user %q: %w", username, shared.ErrNotFound)
	}
	return u, nil
}

func (m *mockIdentity) RoleByName(ctx context.Context, name string) (*identity.Role, error) {
	r, ok := m.roles[name]
	if !ok {
		return nil, fmt.Errorf("identity: role %q: %w", name, shared.ErrNotFound)
	}
	return r, nil
}

// ============================================================================
// FIXTURE
// ============================================================================

type fixture struct {
	svc   *Service
	repo  *mockRepository
	idsrc *mockIdentity

	adminRole  *identity.Role
	editorRole *identity.Role
	viewerRole *identity.Role

	nextUserID int64
}

func newFixture() *fixture {
	f := &fixture{
		repo:       newMockRepository(),
		idsrc:      newMockIdentity(),
		nextUserID: 1,
	}
	f.adminRole = f.addRole(identity.RoleAdmin, 1)
	f.editorRole = f.addRole(identity.RoleEditor, 2)
	f.viewerRole = f.addRole(identity.RoleViewer, 3)
	f.svc = NewService(f.repo, f.idsrc)
	return f
}

func (f *fixture) addRole(name string, id int64) *identity.Role {
	role := &identity.Role{ID: id, Name: name}
	f.idsrc.roles[name] = role
	f.repo.roles[id] = true
	return role
}

func (f *fixture) addUser(username string, roles ...*identity.Role) *identity.User {
	u := &identity.User{
		ID:       f.nextUserID,
		Username: username,
		Enabled:  true,
	}
	f.nextUserID++
	for _, r := range roles {
		u.Roles = append(u.Roles, *r)
	}
	f.idsrc.users[username] = u
	f.repo.users[u.ID] = true
	return u
}

func (f *fixture) addPage(id int64) {
	f.repo.pages[id] = true
}

func as(username string) context.Context {
	return shared.ContextWithPrincipal(context.Background(), &shared.Principal{Username: username})
}

func (f *fixture) can(t *testing.T, username string, pageID int64, perm PermissionType) bool {
	t.Helper()
	ok, err := f.svc.Can(as(username), pageID, perm)
	require.NoError(t, err)
	return ok
}

// ============================================================================
// DECISION PRECEDENCE
// ============================================================================

func TestUnauthenticatedDenied(t *testing.T) {
	f := newFixture()
	f.addPage(1)

	ok, err := f.svc.Can(context.Background(), 1, PermissionView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownUserDenied(t *testing.T) {
	f := newFixture()
	f.addPage(1)

	ok, err := f.svc.Can(as("ghost"), 1, PermissionView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisabledOrLockedUserDenied(t *testing.T) {
	f := newFixture()
	f.addPage(1)

	disabled := f.addUser("disabled", f.editorRole)
	disabled.Enabled = false
	locked := f.addUser("locked", f.editorRole)
	locked.Locked = true

	assert.False(t, f.can(t, "disabled", 1, PermissionView))
	assert.False(t, f.can(t, "locked", 1, PermissionView))
}

func TestAdminAlwaysAllowed(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)

	for _, perm := range []PermissionType{PermissionView, PermissionEdit, PermissionDelete, PermissionManagePermissions, PermissionFullAccess} {
		assert.True(t, f.can(t, "root", 1, perm), "admin must hold %s", perm)
	}
}

func TestMissingPageDeniedEvenForEditors(t *testing.T) {
	f := newFixture()
	f.addUser("ed", f.editorRole)

	assert.False(t, f.can(t, "ed", 404, PermissionView))
}

func TestRoleDefaultsOnNonSensitivePage(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("ed", f.editorRole)
	f.addUser("vi", f.viewerRole)
	f.addUser("none")

	assert.True(t, f.can(t, "ed", 1, PermissionView))
	assert.True(t, f.can(t, "ed", 1, PermissionEdit))
	assert.False(t, f.can(t, "ed", 1, PermissionDelete))
	assert.False(t, f.can(t, "ed", 1, PermissionManagePermissions))

	assert.True(t, f.can(t, "vi", 1, PermissionView))
	assert.False(t, f.can(t, "vi", 1, PermissionEdit))

	assert.False(t, f.can(t, "none", 1, PermissionView))
}

// Scenario: a page with zero grants obeys role defaults; the first grant
// makes it sensitive and suppresses defaults for everyone else.
func TestSensitivePageSuppressesRoleDefaults(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	favored := f.addUser("favored", f.viewerRole)
	f.addUser("other", f.viewerRole)

	assert.True(t, f.can(t, "favored", 1, PermissionView))
	assert.True(t, f.can(t, "other", 1, PermissionView))

	require.NoError(t, f.svc.Grant(as("root"), GrantInput{
		PageID:     1,
		Subject:    UserSubject(favored.ID),
		Permission: PermissionView,
	}))

	assert.True(t, f.can(t, "favored", 1, PermissionView))
	assert.False(t, f.can(t, "other", 1, PermissionView), "viewer without explicit grant loses access")
	assert.True(t, f.can(t, "root", 1, PermissionView), "admin is unaffected")
}

func TestExplicitRoleGrantOnSensitivePage(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	f.addUser("vi", f.viewerRole)

	require.NoError(t, f.svc.Grant(as("root"), GrantInput{
		PageID:     1,
		Subject:    RoleSubject(f.viewerRole.ID),
		Permission: PermissionEdit,
	}))

	// EDIT grant implies VIEW; DELETE stays denied.
	assert.True(t, f.can(t, "vi", 1, PermissionView))
	assert.True(t, f.can(t, "vi", 1, PermissionEdit))
	assert.False(t, f.can(t, "vi", 1, PermissionDelete))
}

func TestFullAccessGrantSatisfiesEverything(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	u := f.addUser("user", f.viewerRole)

	require.NoError(t, f.svc.Grant(as("root"), GrantInput{
		PageID:     1,
		Subject:    UserSubject(u.ID),
		Permission: PermissionFullAccess,
	}))

	for _, perm := range []PermissionType{PermissionView, PermissionEdit, PermissionDelete, PermissionManagePermissions} {
		assert.True(t, f.can(t, "user", 1, perm), "FULL_ACCESS must satisfy %s", perm)
	}
}

// A stored granted=false row neither authorizes nor overrides a matching
// role grant. Mirrors observed behavior; see DESIGN.md.
func TestGrantedFalseRowDoesNotOverrideRoleGrant(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	u := f.addUser("user", f.viewerRole)

	require.NoError(t, f.repo.Upsert(context.Background(), Grant{
		PageID:     1,
		Subject:    UserSubject(u.ID),
		Permission: PermissionView,
		Granted:    false,
	}))
	require.NoError(t, f.repo.Upsert(context.Background(), Grant{
		PageID:     1,
		Subject:    RoleSubject(f.viewerRole.ID),
		Permission: PermissionView,
		Granted:    true,
	}))

	assert.True(t, f.can(t, "user", 1, PermissionView))
}

func TestInvalidPermissionRejected(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)

	_, err := f.svc.Can(as("root"), 1, PermissionType("OWN"))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

// ============================================================================
// GRANT / REVOKE
// ============================================================================

func TestGrantRequiresManageRights(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("ed", f.editorRole)
	target := f.addUser("target", f.viewerRole)

	err := f.svc.Grant(as("ed"), GrantInput{
		PageID:     1,
		Subject:    UserSubject(target.ID),
		Permission: PermissionView,
	})
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
}

func TestGrantByManagePermissionsHolder(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	manager := f.addUser("manager", f.editorRole)
	target := f.addUser("target", f.viewerRole)

	require.NoError(t, f.svc.Grant(as("root"), GrantInput{
		PageID:     1,
		Subject:    UserSubject(manager.ID),
		Permission: PermissionManagePermissions,
	}))

	require.NoError(t, f.svc.Grant(as("manager"), GrantInput{
		PageID:     1,
		Subject:    UserSubject(target.ID),
		Permission: PermissionView,
	}))
	assert.True(t, f.can(t, "target", 1, PermissionView))
}

func TestGrantIsIdempotentUpsert(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	f.addUser("root2", f.adminRole)
	target := f.addUser("target", f.viewerRole)

	in := GrantInput{PageID: 1, Subject: UserSubject(target.ID), Permission: PermissionView}
	require.NoError(t, f.svc.Grant(as("root"), in))
	require.NoError(t, f.svc.Grant(as("root2"), in))

	grants, err := f.svc.Grants(as("root"), 1)
	require.NoError(t, err)
	require.Len(t, grants, 1, "second grant must update, not duplicate")
	assert.Equal(t, "root2", grants[0].GrantedBy)
	assert.True(t, grants[0].Granted)
}

func TestGrantMalformedSubject(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	u := f.addUser("u", f.viewerRole)

	err := f.svc.Grant(as("root"), GrantInput{PageID: 1, Permission: PermissionView})
	assert.ErrorIs(t, err, shared.ErrValidation, "neither user nor role")

	err = f.svc.Grant(as("root"), GrantInput{
		PageID:     1,
		Subject:    Subject{UserID: &u.ID, RoleID: &f.viewerRole.ID},
		Permission: PermissionView,
	})
	assert.ErrorIs(t, err, shared.ErrValidation, "both user and role")
}

func TestGrantUnknownReferences(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)

	err := f.svc.Grant(as("root"), GrantInput{PageID: 404, Subject: RoleSubject(f.viewerRole.ID), Permission: PermissionView})
	assert.ErrorIs(t, err, shared.ErrNotFound, "missing page")

	err = f.svc.Grant(as("root"), GrantInput{PageID: 1, Subject: UserSubject(999), Permission: PermissionView})
	assert.ErrorIs(t, err, shared.ErrNotFound, "missing user")

	err = f.svc.Grant(as("root"), GrantInput{PageID: 1, Subject: RoleSubject(999), Permission: PermissionView})
	assert.ErrorIs(t, err, shared.ErrNotFound, "missing role")
}

func TestRevoke(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	target := f.addUser("target", f.viewerRole)

	in := GrantInput{PageID: 1, Subject: UserSubject(target.ID), Permission: PermissionView}
	require.NoError(t, f.svc.Grant(as("root"), in))
	require.NoError(t, f.svc.Revoke(as("root"), in))

	assert.False(t, f.can(t, "target", 1, PermissionView))

	// Revoking an absent grant is a no-op, not an error.
	require.NoError(t, f.svc.Revoke(as("root"), in))
}

// ============================================================================
// SENSITIVITY TOGGLES
// ============================================================================

func TestMarkSensitiveSeedsAdminFullAccess(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	f.addUser("vi", f.viewerRole)

	require.NoError(t, f.svc.MarkSensitive(as("root"), 1))

	sensitive, err := f.svc.IsSensitive(as("root"), 1)
	require.NoError(t, err)
	assert.True(t, sensitive)

	grants, err := f.svc.Grants(as("root"), 1)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, PermissionFullAccess, grants[0].Permission)
	require.NotNil(t, grants[0].Subject.RoleID)
	assert.Equal(t, f.adminRole.ID, *grants[0].Subject.RoleID)

	assert.False(t, f.can(t, "vi", 1, PermissionView), "defaults suppressed after marking sensitive")
}

func TestMarkSensitiveNoOpWhenGrantsExist(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	target := f.addUser("target", f.viewerRole)

	require.NoError(t, f.svc.Grant(as("root"), GrantInput{
		PageID:     1,
		Subject:    UserSubject(target.ID),
		Permission: PermissionView,
	}))
	require.NoError(t, f.svc.MarkSensitive(as("root"), 1))

	grants, err := f.svc.Grants(as("root"), 1)
	require.NoError(t, err)
	assert.Len(t, grants, 1, "existing grants must be left alone")
}

func TestMarkSensitiveAdminOnly(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("ed", f.editorRole)

	err := f.svc.MarkSensitive(as("ed"), 1)
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
}

func TestMarkPublicRestoresDefaults(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("root", f.adminRole)
	f.addUser("vi", f.viewerRole)

	require.NoError(t, f.svc.MarkSensitive(as("root"), 1))
	assert.False(t, f.can(t, "vi", 1, PermissionView))

	require.NoError(t, f.svc.MarkPublic(as("root"), 1))
	assert.True(t, f.can(t, "vi", 1, PermissionView))

	sensitive, err := f.svc.IsSensitive(as("root"), 1)
	require.NoError(t, err)
	assert.False(t, sensitive)
}

func TestMarkPublicAdminOnly(t *testing.T) {
	f := newFixture()
	f.addPage(1)
	f.addUser("vi", f.viewerRole)

	err := f.svc.MarkPublic(as("vi"), 1)
	assert.ErrorIs(t, err, shared.ErrAccessDenied)
}

func TestMarkSensitiveMissingPage(t *testing.T) {
	f := newFixture()
	f.addUser("root", f.adminRole)

	err := f.svc.MarkSensitive(as("root"), 404)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
