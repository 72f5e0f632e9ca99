package models

import "strings"

// UserRole is the closed set of roles the attendance API recognises.
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleTeacher UserRole = "TEACHER"
	RoleDean    UserRole = "DEAN"
	// RoleNone marks callers whose metadata carries no recognised role. It is
	// granted nothing.
	RoleNone UserRole = ""
)

// ParseRole maps a raw metadata value onto a known role. Unknown or missing
// values resolve to RoleNone.
func ParseRole(raw interface{}) UserRole {
	s, ok := raw.(string)
	if !ok {
		return RoleNone
	}
	switch role := UserRole(strings.ToUpper(strings.TrimSpace(s))); role {
	case RoleStudent, RoleTeacher, RoleDean:
		return role
	default:
		return RoleNone
	}
}

// Valid reports whether the role is one of the known variants.
func (r UserRole) Valid() bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleDean
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
