package service

import (
	"github.com/noah-isme/edutrack-api/internal/models"
	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
)

// AccessAction names an operation guarded by the attendance policy.
type AccessAction string

const (
	ActionManageSession  AccessAction = "manage_session"
	ActionViewRoster     AccessAction = "view_roster"
	ActionMarkAttendance AccessAction = "mark_attendance"
	ActionViewStats      AccessAction = "view_stats"
	ActionStudentSelf    AccessAction = "student_self"
)

// Authorize checks whether claims may perform action on a resource owned by
// ownerID. Teachers own sessions by teacher id; students own their records.
// Callers without a recognised role are denied everything.
func Authorize(claims *models.JWTClaims, action AccessAction, ownerID string) error {
	if claims == nil || claims.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	if !claims.Role.Valid() {
		return appErrors.Clone(appErrors.ErrForbidden, "account has no recognised role")
	}

	self := ownerID != "" && ownerID == claims.UserID
	switch action {
	case ActionManageSession, ActionViewRoster:
		switch claims.Role {
		case models.RoleDean:
			return nil
		case models.RoleTeacher:
			if self {
				return nil
			}
			return appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
		}
	case ActionMarkAttendance, ActionStudentSelf:
		if claims.Role == models.RoleStudent {
			if self {
				return nil
			}
			return appErrors.Clone(appErrors.ErrForbidden, "students may only act for themselves")
		}
	case ActionViewStats:
		switch claims.Role {
		case models.RoleDean:
			return nil
		case models.RoleStudent:
			if self {
				return nil
			}
			return appErrors.Clone(appErrors.ErrForbidden, "students may only view their own stats")
		}
	}
	return appErrors.ErrForbidden
}
