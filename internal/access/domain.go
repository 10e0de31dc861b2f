package access

import (
	"fmt"
	"time"

	"github.com/lorekeep/lorekeep/internal/shared"
)

// PermissionType enumerates the grantable permission kinds.
type PermissionType string

const (
	PermissionView              PermissionType = "VIEW"
	PermissionEdit              PermissionType = "EDIT"
	PermissionDelete            PermissionType = "DELETE"
	PermissionManagePermissions PermissionType = "MANAGE_PERMISSIONS"
	PermissionFullAccess        PermissionType = "FULL_ACCESS"
)

// Valid reports whether p is a known permission type.
func (p PermissionType) Valid() bool {
	switch p {
	case PermissionView, PermissionEdit, PermissionDelete, PermissionManagePermissions, PermissionFullAccess:
		return true
	}
	return false
}

// SatisfiedBy reports whether a grant of type g authorizes a request for p.
// EDIT implies VIEW; FULL_ACCESS implies everything; DELETE and
// MANAGE_PERMISSIONS stand alone.
func (p PermissionType) SatisfiedBy(g PermissionType) bool {
	if g == PermissionFullAccess || g == p {
		return true
	}
	return p == PermissionView && g == PermissionEdit
}

// Subject is the grantee of a permission: exactly one of a user or a role.
type Subject struct {
	UserID *int64
	RoleID *int64
}

// UserSubject builds a user-keyed subject.
func UserSubject(userID int64) Subject { return Subject{UserID: &userID} }

// RoleSubject builds a role-keyed subject.
func RoleSubject(roleID int64) Subject { return Subject{RoleID: &roleID} }

// Validate rejects subjects naming both or neither of user and role.
func (s Subject) Validate() error {
	if (s.UserID == nil) == (s.RoleID == nil) {
		return fmt.Errorf("access: grant subject must name exactly one of user or role: %w", shared.ErrValidation)
	}
	return nil
}

// Grant is one stored authorization of a permission type for a subject on a
// page. A page with at least one grant row is sensitive: role defaults stop
// applying to it.
type Grant struct {
	ID         int64
	PageID     int64
	Subject    Subject
	Permission PermissionType
	Granted    bool
	GrantedBy  string
	CreatedAt  time.Time
}

// GrantInput carries the fields accepted by Service.Grant and Service.Revoke.
type GrantInput struct {
	PageID     int64          `validate:"required"`
	Subject    Subject        `validate:"-"`
	Permission PermissionType `validate:"required,oneof=VIEW EDIT DELETE MANAGE_PERMISSIONS FULL_ACCESS"`
}
