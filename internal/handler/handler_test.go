package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edutrack-api/internal/dto"
	"github.com/noah-isme/edutrack-api/internal/middleware"
	"github.com/noah-isme/edutrack-api/internal/models"
	"github.com/noah-isme/edutrack-api/internal/service"
	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
)

type sessionServiceStub struct {
	created     *models.AttendanceSession
	active      *models.AttendanceSession
	history     []models.SessionSummary
	lastHistory dto.SessionHistoryRequest
	err         error
}

func (s *sessionServiceStub) CreateSession(ctx context.Context, req dto.CreatePINSessionRequest, claims *models.JWTClaims) (*models.AttendanceSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.created, nil
}

func (s *sessionServiceStub) EndSession(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EndSessionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.EndSessionResponse{Success: true, EndTime: time.Now().UTC()}, nil
}

func (s *sessionServiceStub) RegeneratePIN(ctx context.Context, id string, claims *models.JWTClaims) (*dto.RegeneratePINResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dto.RegeneratePINResponse{PIN: "54321"}, nil
}

func (s *sessionServiceStub) FindActiveForTeacher(ctx context.Context, teacherID string, claims *models.JWTClaims) (*models.AttendanceSession, error) {
	return s.active, s.err
}

func (s *sessionServiceStub) ListHistory(ctx context.Context, req dto.SessionHistoryRequest, claims *models.JWTClaims) ([]models.SessionSummary, *models.Pagination, error) {
	s.lastHistory = req
	return s.history, &models.Pagination{Page: req.Page, PageSize: req.PageSize, TotalCount: len(s.history)}, s.err
}

func (s *sessionServiceStub) SessionQRCode(ctx context.Context, id string, claims *models.JWTClaims) ([]byte, error) {
	return []byte("\x89PNG"), s.err
}

type rosterStub struct{}

func (rosterStub) ListAttendees(ctx context.Context, sessionID string, claims *models.JWTClaims) ([]models.Attendee, error) {
	return []models.Attendee{{StudentID: "s1"}}, nil
}

func (rosterStub) ExportAttendees(ctx context.Context, sessionID string, format dto.ExportFormat, claims *models.JWTClaims) (*dto.ExportFile, error) {
	if format == "xlsx" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	return &dto.ExportFile{Filename: "attendance-" + sessionID + ".csv", ContentType: "text/csv; charset=utf-8", Body: []byte("Student ID\ns1\n")}, nil
}

type markServiceStub struct {
	alreadyMarked bool
	lastStudent   string
	err           error
}

func (m *markServiceStub) result(sessionID, studentID string) (*dto.MarkAttendanceResponse, error) {
	m.lastStudent = studentID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.MarkAttendanceResponse{
		Record:        models.AttendanceRecord{ID: "rec-1", SessionID: sessionID, StudentID: studentID},
		AlreadyMarked: m.alreadyMarked,
	}, nil
}

func (m *markServiceStub) MarkAttendance(ctx context.Context, sessionID, studentID string, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error) {
	return m.result(sessionID, studentID)
}

func (m *markServiceStub) MarkByPIN(ctx context.Context, req dto.MarkByPINRequest, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error) {
	return m.result("by-pin", claims.UserID)
}

func (m *markServiceStub) MarkByToken(ctx context.Context, req dto.MarkByTokenRequest, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error) {
	return m.result("by-token", claims.UserID)
}

func (m *markServiceStub) StudentStats(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.StudentAttendanceStats, error) {
	m.lastStudent = studentID
	return &models.StudentAttendanceStats{StudentID: studentID}, nil
}

func (m *markServiceStub) ActiveForStudent(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.ActiveSessionView, error) {
	m.lastStudent = studentID
	return nil, nil
}

func (m *markServiceStub) LastForStudent(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.StudentAttendanceEntry, error) {
	m.lastStudent = studentID
	return nil, nil
}

type lookupStub struct{}

func (lookupStub) LookupByPIN(ctx context.Context, pin string, claims *models.JWTClaims) (*models.SessionLookup, error) {
	return &models.SessionLookup{SessionID: "s-1", CourseID: "Algebra I"}, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func newTestContext(method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

var teacher = &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}

func TestCreateSessionHandler(t *testing.T) {
	session := &models.AttendanceSession{ID: "s-1", CourseID: "Algebra I", PIN: "12345"}
	h := NewAttendanceSessionHandler(&sessionServiceStub{created: session}, rosterStub{})

	c, w := newTestContext(http.MethodPost, "/attendance/pin-session", []byte(`{"courseId":"Algebra I","teacherId":"teacher-1"}`), teacher)
	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s-1", c.GetString("auditResourceID"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	c, w = newTestContext(http.MethodPost, "/attendance/pin-session", []byte(`{"courseId":`), teacher)
	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decode(t, w).Error.Code)

	c, w = newTestContext(http.MethodPost, "/attendance/pin-session", []byte(`{}`), nil)
	h.Create(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestActiveSessionHandlerReturnsNullData(t *testing.T) {
	h := NewAttendanceSessionHandler(&sessionServiceStub{}, rosterStub{})
	c, w := newTestContext(http.MethodGet, "/attendance/sessions/active", nil, teacher)
	h.Active(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(decode(t, w).Data))
}

func TestHistoryHandlerParsesRange(t *testing.T) {
	stub := &sessionServiceStub{history: []models.SessionSummary{{AttendeeCount: 3}}}
	h := NewAttendanceSessionHandler(stub, rosterStub{})

	c, w := newTestContext(http.MethodGet, "/attendance/sessions/history?start=2026-10-01&end=2026-10-18&limit=10", nil, teacher)
	h.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, stub.lastHistory.End)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), *stub.lastHistory.End)
	assert.Equal(t, 10, stub.lastHistory.PageSize)
	assert.Equal(t, 1, decode(t, w).Pagination.TotalCount)

	c, w = newTestContext(http.MethodGet, "/attendance/sessions/history?start=yesterday", nil, teacher)
	h.History(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseTimeParamUpperBounds(t *testing.T) {
	day, err := parseTimeParam("2026-10-18", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), *day)

	instant, err := parseTimeParam("2026-10-18T09:30:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC), instant.UTC())

	lower, err := parseTimeParam("2026-10-18", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), *lower)

	none, err := parseTimeParam("", true)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEndSessionHandlerMapsErrors(t *testing.T) {
	h := NewAttendanceSessionHandler(&sessionServiceStub{err: appErrors.ErrSessionNotFound}, rosterStub{})
	c, w := newTestContext(http.MethodPost, "/attendance/sessions/x/end", nil, teacher)
	c.Params = gin.Params{{Key: "id", Value: "x"}}
	h.End(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decode(t, w).Error.Code)

	h = NewAttendanceSessionHandler(&sessionServiceStub{err: appErrors.ErrSessionClosed}, rosterStub{})
	c, w = newTestContext(http.MethodPost, "/attendance/sessions/x/regenerate", nil, teacher)
	h.Regenerate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "SESSION_CLOSED", decode(t, w).Error.Code)
}

func TestExportAndQRHandlers(t *testing.T) {
	h := NewAttendanceSessionHandler(&sessionServiceStub{}, rosterStub{})

	c, w := newTestContext(http.MethodGet, "/attendance/sessions/s-1/attendees/export?format=csv", nil, teacher)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="attendance-s-1.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))

	c, w = newTestContext(http.MethodGet, "/attendance/sessions/s-1/attendees/export?format=xlsx", nil, teacher)
	h.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodGet, "/attendance/sessions/s-1/qr", nil, teacher)
	h.QRCode(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func TestMarkHandlerStatusReflectsDedup(t *testing.T) {
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}

	stub := &markServiceStub{}
	h := NewAttendanceStudentHandler(stub, lookupStub{})
	c, w := newTestContext(http.MethodPost, "/attendance/sessions/s-1/mark", nil, student)
	c.Params = gin.Params{{Key: "id", Value: "s-1"}}
	h.Mark(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s1", stub.lastStudent)

	stub.alreadyMarked = true
	c, w = newTestContext(http.MethodPost, "/attendance/sessions/s-1/mark", nil, student)
	h.Mark(c)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.MarkAttendanceResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &resp))
	assert.True(t, resp.AlreadyMarked)

	stub.err = appErrors.ErrSessionClosed
	c, w = newTestContext(http.MethodPost, "/attendance/pin/mark", []byte(`{"pin":"12345"}`), student)
	h.MarkByPIN(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPost, "/attendance/qr/mark", []byte(`not json`), student)
	h.MarkByToken(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentRoutesResolveMe(t *testing.T) {
	student := &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}
	stub := &markServiceStub{}
	h := NewAttendanceStudentHandler(stub, lookupStub{})

	c, w := newTestContext(http.MethodGet, "/attendance/students/me/stats", nil, student)
	c.Params = gin.Params{{Key: "id", Value: "me"}}
	h.Stats(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", stub.lastStudent)

	c, w = newTestContext(http.MethodGet, "/attendance/students/me/last", nil, student)
	c.Params = gin.Params{{Key: "id", Value: "me"}}
	h.Last(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(decode(t, w).Data))

	c, _ = newTestContext(http.MethodGet, "/attendance/students/s9/active", nil, student)
	c.Params = gin.Params{{Key: "id", Value: "s9"}}
	h.Active(c)
	assert.Equal(t, "s9", stub.lastStudent)
}

func TestRegisterRoutesEnforcesRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	fakeAuth := func(c *gin.Context) {
		role := models.UserRole(c.GetHeader("X-Test-Role"))
		if role == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: role})
		c.Next()
	}
	RegisterRoutes(r.Group("/api/v1"), Handlers{
		Sessions: NewAttendanceSessionHandler(&sessionServiceStub{created: &models.AttendanceSession{ID: "s-1"}}, rosterStub{}),
		Students: NewAttendanceStudentHandler(&markServiceStub{}, lookupStub{}),
	}, RouteMiddleware{
		Auth:    fakeAuth,
		Staff:   middleware.RequireRoles(models.RoleTeacher, models.RoleDean),
		Student: middleware.RequireRoles(models.RoleStudent),
		Stats:   middleware.RequireRoles(models.RoleStudent, models.RoleDean),
	})

	cases := []struct {
		method, path, role string
		status             int
	}{
		{http.MethodPost, "/api/v1/attendance/pin-session", "STUDENT", http.StatusForbidden},
		{http.MethodPost, "/api/v1/attendance/pin-session", "TEACHER", http.StatusCreated},
		{http.MethodGet, "/api/v1/attendance/sessions/active", "DEAN", http.StatusOK},
		{http.MethodGet, "/api/v1/attendance/sessions/s-1/attendees", "TEACHER", http.StatusOK},
		{http.MethodPost, "/api/v1/attendance/sessions/s-1/mark", "TEACHER", http.StatusForbidden},
		{http.MethodPost, "/api/v1/attendance/sessions/s-1/mark", "STUDENT", http.StatusCreated},
		{http.MethodGet, "/api/v1/attendance/pin/12345", "STUDENT", http.StatusOK},
		{http.MethodGet, "/api/v1/attendance/students/me/stats", "DEAN", http.StatusOK},
		{http.MethodGet, "/api/v1/attendance/students/me/stats", "TEACHER", http.StatusForbidden},
		{http.MethodGet, "/api/v1/attendance/students/me/active", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path+" "+tc.role, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewReader([]byte(`{"courseId":"A","teacherId":"u-1"}`)))
			req.Header.Set("Content-Type", "application/json")
			if tc.role != "" {
				req.Header.Set("X-Test-Role", tc.role)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestReadyReportsFailingDependency(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return assert.AnError },
	})
	c, w := newTestContext(http.MethodGet, "/ready", nil, nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"down"`)

	r := gin.New()
	r.GET("/metrics", h.Prometheus)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "metrics unavailable", w.Body.String())
}

func TestPrometheusServesRegistry(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordSessionCreated()
	h := NewMetricsHandler(metrics, nil)

	r := gin.New()
	r.GET("/metrics", h.Prometheus)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "attendance_sessions_created_total 1")
}
