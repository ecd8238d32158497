package domain

import "slices"

// Permissions carried in access credentials.
const (
	PermProfileRead      = "profile:read"
	PermInvitationsWrite = "invitations:write"
	PermAuditRead        = "audit:read"
)

// Built-in roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

var rolePermissions = map[string][]string{
	RoleAdmin:  {PermProfileRead, PermInvitationsWrite, PermAuditRead},
	RoleMember: {PermProfileRead},
}

// KnownRole reports whether role is one of the built-in roles.
func KnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// PermissionsFor returns a copy of the permission set granted by role, or
// nil for unknown roles.
func PermissionsFor(role string) []string {
	return slices.Clone(rolePermissions[role])
}
