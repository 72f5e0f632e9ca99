package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the identity provider's access token. Role lives in the
// untyped metadata blobs and is resolved once during validation.
type JWTClaims struct {
	Email        string                 `json:"email"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims

	UserID   string   `json:"-"`
	Role     UserRole `json:"-"`
	FullName string   `json:"-"`
}

// Resolve derives UserID, Role and FullName from the raw claims. User-editable
// metadata is only consulted for the role when trustUserRole is set.
func (c *JWTClaims) Resolve(trustUserRole bool) {
	c.UserID = c.Subject
	c.Role = ParseRole(c.AppMetadata["role"])
	if c.Role == RoleNone && trustUserRole {
		c.Role = ParseRole(c.UserMetadata["role"])
	}
	for _, key := range []string{"full_name", "name"} {
		if name, ok := c.UserMetadata[key].(string); ok && name != "" {
			c.FullName = name
			break
		}
	}
	if c.FullName == "" {
		c.FullName = c.Email
	}
}
