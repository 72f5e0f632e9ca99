package models

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleTeacher, ParseRole("teacher"))
	assert.Equal(t, RoleDean, ParseRole(" Dean "))
	assert.Equal(t, RoleStudent, ParseRole("STUDENT"))
	assert.Equal(t, RoleNone, ParseRole("admin"))
	assert.Equal(t, RoleNone, ParseRole(nil))
	assert.Equal(t, RoleNone, ParseRole(42))
	assert.False(t, RoleNone.Valid())
}

func TestClaimsResolvePrefersAppMetadata(t *testing.T) {
	claims := &JWTClaims{
		Email:            "jane@example.com",
		AppMetadata:      map[string]interface{}{"role": "teacher"},
		UserMetadata:     map[string]interface{}{"role": "dean", "full_name": "Jane Doe"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "teacher-1"},
	}
	claims.Resolve(true)

	assert.Equal(t, "teacher-1", claims.UserID)
	assert.Equal(t, RoleTeacher, claims.Role)
	assert.Equal(t, "Jane Doe", claims.FullName)
}

func TestClaimsResolveUserMetadataGate(t *testing.T) {
	claims := &JWTClaims{
		Email:            "s1@example.com",
		UserMetadata:     map[string]interface{}{"role": "dean"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "s1"},
	}
	claims.Resolve(false)
	assert.Equal(t, RoleNone, claims.Role)
	assert.Equal(t, "s1@example.com", claims.FullName)

	claims.Resolve(true)
	assert.Equal(t, RoleDean, claims.Role)
}

func TestSessionActiveAtInclusiveBounds(t *testing.T) {
	start := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	s := AttendanceSession{StartTime: start, EndTime: start.Add(time.Hour)}

	assert.True(t, s.ActiveAt(start))
	assert.True(t, s.ActiveAt(start.Add(time.Hour)))
	assert.False(t, s.ActiveAt(start.Add(-time.Nanosecond)))
	assert.False(t, s.ActiveAt(start.Add(time.Hour+time.Nanosecond)))
}
