package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edutrack-api/internal/models"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Sessions *AttendanceSessionHandler
	Students *AttendanceStudentHandler
}

// RouteMiddleware carries the cross-cutting middleware route groups need.
type RouteMiddleware struct {
	Auth      gin.HandlerFunc
	Staff     gin.HandlerFunc
	Student   gin.HandlerFunc
	Stats     gin.HandlerFunc
	MarkLimit gin.HandlerFunc
	Audit     func(action string) gin.HandlerFunc
}

// RegisterRoutes mounts the attendance API on group.
func RegisterRoutes(group *gin.RouterGroup, h Handlers, mw RouteMiddleware) {
	audit := mw.Audit
	if audit == nil {
		audit = func(string) gin.HandlerFunc { return passThrough }
	}
	markLimit := orPass(mw.MarkLimit)

	attendance := group.Group("/attendance", orPass(mw.Auth))

	staff := attendance.Group("", orPass(mw.Staff))
	staff.POST("/pin-session", audit(models.AuditActionSessionCreate), h.Sessions.Create)
	staff.GET("/sessions/active", h.Sessions.Active)
	staff.GET("/sessions/history", h.Sessions.History)
	staff.POST("/sessions/:id/end", audit(models.AuditActionSessionEnd), h.Sessions.End)
	staff.POST("/sessions/:id/regenerate", audit(models.AuditActionSessionRegenerate), h.Sessions.Regenerate)
	staff.GET("/sessions/:id/attendees", h.Sessions.Attendees)
	staff.GET("/sessions/:id/attendees/export", h.Sessions.Export)
	staff.GET("/sessions/:id/qr", h.Sessions.QRCode)

	student := attendance.Group("", orPass(mw.Student))
	student.POST("/sessions/:id/mark", markLimit, h.Students.Mark)
	student.GET("/pin/:pin", markLimit, h.Students.LookupPIN)
	student.POST("/pin/mark", markLimit, h.Students.MarkByPIN)
	student.POST("/qr/mark", markLimit, h.Students.MarkByToken)
	student.GET("/students/:id/active", h.Students.Active)
	student.GET("/students/:id/last", h.Students.Last)

	attendance.GET("/students/:id/stats", orPass(mw.Stats), h.Students.Stats)
}

// RateLimitKey identifies the caller for per-user limits, falling back to the
// client address.
func RateLimitKey(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil && claims.UserID != "" {
		return claims.UserID
	}
	return c.ClientIP()
}

func passThrough(c *gin.Context) {
	c.Next()
}

func orPass(h gin.HandlerFunc) gin.HandlerFunc {
	if h == nil {
		return passThrough
	}
	return h
}
