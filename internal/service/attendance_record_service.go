package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/edutrack-api/internal/dto"
	"github.com/noah-isme/edutrack-api/internal/models"
	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
	"github.com/noah-isme/edutrack-api/pkg/export"
	"github.com/noah-isme/edutrack-api/pkg/signing"
)

const statsWindowDays = 30

type recordStore interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error)
	ListAttendees(ctx context.Context, sessionID string) ([]models.Attendee, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.StudentAttendanceEntry, error)
	LastForStudent(ctx context.Context, studentID string) (*models.StudentAttendanceEntry, error)
}

type recordSessionReader interface {
	sessionReader
	ListOpenForStudent(ctx context.Context, studentID string, now time.Time) ([]models.ActiveSessionView, error)
}

type tableRenderer interface {
	Render(data export.Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// AttendanceRecordService records presence and serves the derived views over
// attendance records.
type AttendanceRecordService struct {
	records   recordStore
	sessions  recordSessionReader
	signer    *signing.JoinTokenSigner
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	statsTTL  time.Duration
	renderers map[dto.ExportFormat]tableRenderer

	now   func() time.Time
	newID func() string
}

// NewAttendanceRecordService constructs the record service.
func NewAttendanceRecordService(
	records recordStore,
	sessions recordSessionReader,
	signer *signing.JoinTokenSigner,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	statsTTL time.Duration,
) *AttendanceRecordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AttendanceRecordService{
		records:   records,
		sessions:  sessions,
		signer:    signer,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		statsTTL:  statsTTL,
		renderers: map[dto.ExportFormat]tableRenderer{
			dto.ExportFormatCSV: export.NewCSVExporter(),
			dto.ExportFormatPDF: export.NewPDFExporter(),
		},
		now:   func() time.Time { return time.Now().UTC() },
		newID: NewRecordID,
	}
}

// MarkAttendance records studentID as present in sessionID. A repeated mark
// returns the original record with AlreadyMarked set instead of a second row.
func (s *AttendanceRecordService) MarkAttendance(ctx context.Context, sessionID, studentID string, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error) {
	if err := Authorize(claims, ActionMarkAttendance, studentID); err != nil {
		return nil, err
	}
	session, err := findSession(ctx, s.sessions, s.logger, sessionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrSessionNotFound) {
			s.metrics.RecordMark(MarkResultNotFound)
		}
		return nil, err
	}
	return s.mark(ctx, session, studentID)
}

// MarkByPIN marks the caller present in the active session carrying pin.
func (s *AttendanceRecordService) MarkByPIN(ctx context.Context, req dto.MarkByPINRequest, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error) {
	if err := Authorize(claims, ActionMarkAttendance, claimsUserID(claims)); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil || !ValidPIN(req.PIN) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pin must be five digits")
	}

	session, err := activeByPIN(ctx, s.sessions, s.logger, req.PIN, s.now())
	if err != nil {
		return nil, err
	}
	if session == nil {
		s.metrics.RecordMark(MarkResultNotFound)
		return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "no active session for this pin")
	}
	return s.mark(ctx, session, claims.UserID)
}

// MarkByToken marks the caller present in the session named by a signed join token.
func (s *AttendanceRecordService) MarkByToken(ctx context.Context, req dto.MarkByTokenRequest, claims *models.JWTClaims) (*dto.MarkAttendanceResponse, error) {
	if err := Authorize(claims, ActionMarkAttendance, claimsUserID(claims)); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "token is required")
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "join tokens are not configured")
	}

	sessionID, err := s.signer.Parse(req.Token, s.now())
	if err != nil {
		if errors.Is(err, signing.ErrExpired) {
			s.metrics.RecordMark(MarkResultClosed)
			return nil, appErrors.ErrSessionClosed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join token")
	}
	return s.MarkAttendance(ctx, sessionID, claims.UserID, claims)
}

func (s *AttendanceRecordService) mark(ctx context.Context, session *models.AttendanceSession, studentID string) (*dto.MarkAttendanceResponse, error) {
	now := s.now()
	if !session.ActiveAt(now) {
		s.metrics.RecordMark(MarkResultClosed)
		return nil, appErrors.ErrSessionClosed
	}

	stored, created, err := s.records.Insert(ctx, &models.AttendanceRecord{
		ID:        s.newID(),
		SessionID: session.ID,
		StudentID: studentID,
		Timestamp: now,
	})
	if err != nil {
		return nil, storeFailure(s.logger, "mark attendance", err)
	}

	if !created {
		s.metrics.RecordMark(MarkResultDuplicate)
		return &dto.MarkAttendanceResponse{Record: *stored, AlreadyMarked: true}, nil
	}
	s.metrics.RecordMark(MarkResultCreated)
	if err := s.cache.Invalidate(ctx, statsCacheKey(studentID)); err != nil {
		// The mark is stored; only the cached stats lag until the TTL expires.
		s.logger.Warn("stats cache not invalidated after mark",
			zap.String("student_id", studentID),
			zap.String("session_id", session.ID),
			zap.Duration("stale_for", s.statsTTL),
			zap.Error(err))
	}
	return &dto.MarkAttendanceResponse{Record: *stored}, nil
}

// ListAttendees returns the session roster newest mark first.
func (s *AttendanceRecordService) ListAttendees(ctx context.Context, sessionID string, claims *models.JWTClaims) ([]models.Attendee, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := findSession(ctx, s.sessions, s.logger, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(claims, ActionViewRoster, session.TeacherID); err != nil {
		return nil, err
	}

	attendees, err := s.records.ListAttendees(ctx, session.ID)
	if err != nil {
		return nil, storeFailure(s.logger, "list attendees", err)
	}
	if attendees == nil {
		attendees = []models.Attendee{}
	}
	return attendees, nil
}

// ExportAttendees renders the roster as CSV or PDF. An empty format means CSV.
func (s *AttendanceRecordService) ExportAttendees(ctx context.Context, sessionID string, format dto.ExportFormat, claims *models.JWTClaims) (*dto.ExportFile, error) {
	if format == "" {
		format = dto.ExportFormatCSV
	}
	renderer, ok := s.renderers[dto.ExportFormat(strings.ToLower(string(format)))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}

	session, err := findSession(ctx, s.sessions, s.logger, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(claims, ActionViewRoster, session.TeacherID); err != nil {
		return nil, err
	}
	attendees, err := s.records.ListAttendees(ctx, session.ID)
	if err != nil {
		return nil, storeFailure(s.logger, "export attendees", err)
	}

	table := export.Table{
		Title:   fmt.Sprintf("%s attendance %s", session.CourseID, session.StartTime.UTC().Format("2006-01-02 15:04")),
		Headers: []string{"Student ID", "Name", "Email", "Marked At"},
		Rows:    make([][]string, 0, len(attendees)),
	}
	for _, a := range attendees {
		table.Rows = append(table.Rows, []string{a.StudentID, a.StudentName, a.StudentEmail, a.MarkedAt.UTC().Format(time.RFC3339)})
	}

	body, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("attendance-%s.%s", session.ID, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

// StudentStats aggregates a student's records into a total, a 30 day daily
// histogram and a per-course breakdown.
func (s *AttendanceRecordService) StudentStats(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.StudentAttendanceStats, error) {
	if err := Authorize(claims, ActionViewStats, studentID); err != nil {
		return nil, err
	}

	value, _, err := s.cache.Fetch(ctx, statsCacheKey(studentID), &models.StudentAttendanceStats{}, s.statsTTL, func(ctx context.Context) (interface{}, error) {
		entries, err := s.records.ListForStudent(ctx, studentID)
		if err != nil {
			return nil, storeFailure(s.logger, "load student attendance", err)
		}
		return buildStudentStats(studentID, entries, s.now()), nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*models.StudentAttendanceStats), nil
}

// ActiveForStudent returns the most recent active session the student has
// already marked, or nil.
func (s *AttendanceRecordService) ActiveForStudent(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.ActiveSessionView, error) {
	if err := Authorize(claims, ActionStudentSelf, studentID); err != nil {
		return nil, err
	}
	now := s.now()
	views, err := s.sessions.ListOpenForStudent(ctx, studentID, now)
	if err != nil {
		return nil, storeFailure(s.logger, "find active student session", err)
	}
	var best *models.ActiveSessionView
	for i := range views {
		view := views[i]
		if now.Before(view.StartTime) || now.After(view.EndTime) {
			continue
		}
		if best == nil || view.StartTime.After(best.StartTime) {
			best = &view
		}
	}
	return best, nil
}

// LastForStudent returns the student's most recent attendance entry, or nil.
func (s *AttendanceRecordService) LastForStudent(ctx context.Context, studentID string, claims *models.JWTClaims) (*models.StudentAttendanceEntry, error) {
	if err := Authorize(claims, ActionStudentSelf, studentID); err != nil {
		return nil, err
	}
	entry, err := s.records.LastForStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeFailure(s.logger, "last student attendance", err)
	}
	return entry, nil
}

func buildStudentStats(studentID string, entries []models.StudentAttendanceEntry, now time.Time) *models.StudentAttendanceStats {
	today := now.UTC().Truncate(24 * time.Hour)
	daily := make([]models.DailyAttendanceCount, statsWindowDays)
	index := make(map[string]int, statsWindowDays)
	for i := 0; i < statsWindowDays; i++ {
		date := today.AddDate(0, 0, i-statsWindowDays+1).Format("2006-01-02")
		daily[i] = models.DailyAttendanceCount{Date: date}
		index[date] = i
	}

	sessions := make(map[string]struct{}, len(entries))
	perCourse := map[string]int{}
	for _, entry := range entries {
		sessions[entry.SessionID] = struct{}{}
		perCourse[entry.CourseID]++
		if i, ok := index[entry.MarkedAt.UTC().Format("2006-01-02")]; ok {
			daily[i].Count++
		}
	}

	courses := make([]models.CourseAttendanceCount, 0, len(perCourse))
	for courseID, count := range perCourse {
		courses = append(courses, models.CourseAttendanceCount{CourseID: courseID, Count: count})
	}
	sort.Slice(courses, func(i, j int) bool {
		if courses[i].Count != courses[j].Count {
			return courses[i].Count > courses[j].Count
		}
		return courses[i].CourseID < courses[j].CourseID
	})

	return &models.StudentAttendanceStats{
		StudentID:     studentID,
		TotalSessions: len(sessions),
		Daily:         daily,
		Courses:       courses,
		GeneratedAt:   now.UTC(),
	}
}

func statsCacheKey(studentID string) string {
	return "attendance:stats:" + studentID
}

func claimsUserID(claims *models.JWTClaims) string {
	if claims == nil {
		return ""
	}
	return claims.UserID
}
