package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edutrack-api/internal/dto"
	"github.com/noah-isme/edutrack-api/internal/models"
	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
	"github.com/noah-isme/edutrack-api/pkg/response"
)

type attendanceMarkService interface {
	MarkAttendance(ctx context.Context, sessionID, studentID string, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error)
	MarkByPIN(ctx context.Context, req dto.MarkByPINRequest, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error)
	MarkByToken(ctx context.Context, req dto.MarkByTokenRequest, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error)
	StudentStats(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.StudentAttendanceStats, error)
	ActiveForStudent(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.ActiveSessionView, error)
	LastForStudent(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.StudentAttendanceEntry, error)
}

type pinLookupService interface {
	LookupByPIN(ctx context.Context, pin string, claims *models.JWTClaims) (*models.SessionLookup, error)
}

// AttendanceStudentHandler serves the student marking and self-view endpoints.
type AttendanceStudentHandler struct {
	records attendanceMarkService
	lookup  pinLookupService
}

// NewAttendanceStudentHandler constructs the handler.
func NewAttendanceStudentHandler(records attendanceMarkService, lookup pinLookupService) *AttendanceStudentHandler {
	return &AttendanceStudentHandler{records: records, lookup: lookup}
}

// Mark godoc
// @Summary Mark the caller present in a session
// @Tags Attendance
// @Produce json
// @Param id path string true "Session ID"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "already marked"
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /attendance/sessions/{id}/mark [post]
func (h *AttendanceStudentHandler) Mark(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.records.MarkAttendance(c.Request.Context(), c.Param("id"), claims.UserID, claims)
	writeMarkResult(c, result, err)
}

// LookupPIN godoc
// @Summary Resolve the active session carrying a PIN
// @Tags Attendance
// @Produce json
// @Param pin path string true "Five digit PIN"
// @Success 200 {object} response.Envelope
// @Router /attendance/pin/{pin} [get]
func (h *AttendanceStudentHandler) LookupPIN(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	lookup, err := h.lookup.LookupByPIN(c.Request.Context(), c.Param("pin"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lookup, nil)
}

// MarkByPIN godoc
// @Summary Mark the caller present using a session PIN
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.MarkByPINRequest true "PIN payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "already marked"
// @Router /attendance/pin/mark [post]
func (h *AttendanceStudentHandler) MarkByPIN(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.MarkByPINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	result, err := h.records.MarkByPIN(c.Request.Context(), req, claims)
	writeMarkResult(c, result, err)
}

// MarkByToken godoc
// @Summary Mark the caller present using a scanned QR join token
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.MarkByTokenRequest true "Token payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "already marked"
// @Router /attendance/qr/mark [post]
func (h *AttendanceStudentHandler) MarkByToken(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.MarkByTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	result, err := h.records.MarkByToken(c.Request.Context(), req, claims)
	writeMarkResult(c, result, err)
}

// Stats godoc
// @Summary Attendance totals, 30 day histogram and per-course breakdown
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{id}/stats [get]
func (h *AttendanceStudentHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.records.StudentStats(c.Request.Context(), studentIDParam(c, claims), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Active godoc
// @Summary Active session the caller already marked
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{id}/active [get]
func (h *AttendanceStudentHandler) Active(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.records.ActiveForStudent(c.Request.Context(), studentIDParam(c, claims), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Last godoc
// @Summary Most recent attendance of the caller
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID or me"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{id}/last [get]
func (h *AttendanceStudentHandler) Last(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entry, err := h.records.LastForStudent(c.Request.Context(), studentIDParam(c, claims), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

func writeMarkResult(c *gin.Context, result *dto.MarkAttendanceResponse, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.AlreadyMarked {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}
