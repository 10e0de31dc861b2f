package identity

import "time"

// Predefined role names. Installations may add further roles; these three are
// seeded and carry the default-access semantics in internal/access.
const (
	RoleAdmin  = "ADMIN"
	RoleEditor = "EDITOR"
	RoleViewer = "VIEWER"
)

// Role is a named permission bundle owned by the external identity system.
type Role struct {
	ID          int64
	Name        string
	Description string
}

// User mirrors the identity system's account record. This module reads it to
// resolve permissions and never writes it.
type User struct {
	ID        int64
	Username  string
	Enabled   bool
	Locked    bool
	Roles     []Role
	CreatedAt time.Time
}

// HasRole reports whether the user holds the named role.
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Active reports whether the account may act at all.
func (u *User) Active() bool {
	return u != nil && u.Enabled && !u.Locked
}

// RoleIDs returns the ids of the user's roles.
func (u *User) RoleIDs() []int64 {
	if u == nil {
		return nil
	}
	ids := make([]int64, 0, len(u.Roles))
	for _, r := range u.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}
