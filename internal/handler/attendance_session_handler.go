package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edutrack-api/internal/dto"
	"github.com/noah-isme/edutrack-api/internal/middleware"
	"github.com/noah-isme/edutrack-api/internal/models"
	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
	"github.com/noah-isme/edutrack-api/pkg/response"
)

type attendanceSessionService interface {
	CreateSession(ctx context.Context, req dto.CreatePINSessionRequest, claims *models.JWTClaims) (*models.AttendanceSession, error)
	EndSession(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EndSessionResponse, error)
	RegeneratePIN(ctx context.Context, id string, claims *models.JWTClaims) (*dto.RegeneratePINResponse, error)
	FindActiveForTeacher(ctx context.Context, teacherID string, claims *models.JWTClaims) (*models.AttendanceSession, error)
	ListHistory(ctx context.Context, req dto.SessionHistoryRequest, claims *models.JWTClaims) ([]models.SessionSummary, *models.Pagination, error)
	SessionQRCode(ctx context.Context, id string, claims *models.JWTClaims) ([]byte, error)
}

type attendanceRosterService interface {
	ListAttendees(ctx context.Context, sessionID string, claims *models.JWTClaims) ([]models.Attendee, error)
	ExportAttendees(ctx context.Context, sessionID string, format dto.ExportFormat, claims *models.JWTClaims) (*dto.ExportFile, error)
}

// AttendanceSessionHandler serves the teacher and dean session endpoints.
type AttendanceSessionHandler struct {
	sessions attendanceSessionService
	roster   attendanceRosterService
}

// NewAttendanceSessionHandler constructs the handler.
func NewAttendanceSessionHandler(sessions attendanceSessionService, roster attendanceRosterService) *AttendanceSessionHandler {
	return &AttendanceSessionHandler{sessions: sessions, roster: roster}
}

// Create godoc
// @Summary Open a PIN attendance session
// @Tags Attendance Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreatePINSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /attendance/pin-session [post]
func (h *AttendanceSessionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreatePINSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, session.ID)
	response.Created(c, session)
}

// Active godoc
// @Summary Active session for a teacher
// @Tags Attendance Sessions
// @Produce json
// @Param teacherId query string false "Teacher ID, defaults to the caller"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/active [get]
func (h *AttendanceSessionHandler) Active(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	session, err := h.sessions.FindActiveForTeacher(c.Request.Context(), c.Query("teacherId"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// History godoc
// @Summary Session history with attendee counts
// @Tags Attendance Sessions
// @Produce json
// @Param teacherId query string false "Teacher ID"
// @Param start query string false "From date (YYYY-MM-DD or RFC3339)"
// @Param end query string false "Upper bound: a YYYY-MM-DD date includes that whole day, an RFC3339 instant is exclusive"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/history [get]
func (h *AttendanceSessionHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	start, err := parseTimeParam(c.Query("start"), false)
	if err != nil {
		response.Error(c, err)
		return
	}
	end, err := parseTimeParam(c.Query("end"), true)
	if err != nil {
		response.Error(c, err)
		return
	}

	rows, pagination, err := h.sessions.ListHistory(c.Request.Context(), dto.SessionHistoryRequest{
		TeacherID: c.Query("teacherId"),
		Start:     start,
		End:       end,
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "limit", 50),
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// End godoc
// @Summary End a session
// @Tags Attendance Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /attendance/sessions/{id}/end [post]
func (h *AttendanceSessionHandler) End(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.sessions.EndSession(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Regenerate godoc
// @Summary Regenerate a session PIN
// @Tags Attendance Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /attendance/sessions/{id}/regenerate [post]
func (h *AttendanceSessionHandler) Regenerate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.sessions.RegeneratePIN(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Attendees godoc
// @Summary Session roster, newest mark first
// @Tags Attendance Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id}/attendees [get]
func (h *AttendanceSessionHandler) Attendees(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	attendees, err := h.roster.ListAttendees(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attendees, nil, map[string]interface{}{"count": len(attendees)})
}

// Export godoc
// @Summary Export the session roster
// @Tags Attendance Sessions
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Session ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /attendance/sessions/{id}/attendees/export [get]
func (h *AttendanceSessionHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	file, err := h.roster.ExportAttendees(c.Request.Context(), c.Param("id"), dto.ExportFormat(c.Query("format")), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.ContentType, file.Filename, file.Body)
}

// QRCode godoc
// @Summary QR code carrying a signed join token
// @Tags Attendance Sessions
// @Produce image/png
// @Param id path string true "Session ID"
// @Success 200 {file} file
// @Router /attendance/sessions/{id}/qr [get]
func (h *AttendanceSessionHandler) QRCode(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	png, err := h.sessions.SessionQRCode(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, "image/png", "", png)
}
