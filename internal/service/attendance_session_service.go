package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/edutrack-api/internal/dto"
	"github.com/noah-isme/edutrack-api/internal/models"
	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
	"github.com/noah-isme/edutrack-api/pkg/export"
	"github.com/noah-isme/edutrack-api/pkg/signing"
)

type sessionReader interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListOpenByPIN(ctx context.Context, pin string, now time.Time) ([]models.AttendanceSession, error)
}

type sessionStore interface {
	sessionReader
	Create(ctx context.Context, session *models.AttendanceSession) error
	CloseAt(ctx context.Context, id string, endTime time.Time) (bool, error)
	UpdatePIN(ctx context.Context, id, pin string, updatedAt time.Time) error
	ListOpenByTeacher(ctx context.Context, teacherID string, now time.Time) ([]models.AttendanceSession, error)
	ListHistory(ctx context.Context, filter models.SessionHistoryFilter) ([]models.SessionSummary, int, error)
}

// SessionConfig tunes session lifecycle.
type SessionConfig struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	PINAttempts     int
	QRSize          int
}

// AttendanceSessionService creates, closes and queries attendance sessions.
type AttendanceSessionService struct {
	store     sessionStore
	signer    *signing.JoinTokenSigner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    SessionConfig

	now    func() time.Time
	newID  func() string
	newPIN func() (string, error)
}

// NewAttendanceSessionService constructs the session service.
func NewAttendanceSessionService(store sessionStore, signer *signing.JoinTokenSigner, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config SessionConfig) *AttendanceSessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = 2 * time.Hour
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = 12 * time.Hour
	}
	if config.DefaultDuration > config.MaxDuration {
		logger.Warn("default session duration exceeds maximum, clamping",
			zap.Duration("default_duration", config.DefaultDuration),
			zap.Duration("max_duration", config.MaxDuration))
		config.DefaultDuration = config.MaxDuration
	}
	if config.PINAttempts <= 0 {
		config.PINAttempts = 5
	}
	return &AttendanceSessionService{
		store:     store,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     NewSessionID,
		newPIN:    NewPIN,
	}
}

// CreateSession opens a session starting now for the requested duration.
func (s *AttendanceSessionService) CreateSession(ctx context.Context, req dto.CreatePINSessionRequest, claims *models.JWTClaims) (*models.AttendanceSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if err := Authorize(claims, ActionManageSession, req.TeacherID); err != nil {
		return nil, err
	}

	duration := s.config.DefaultDuration
	if req.Duration != nil {
		// Bound the minute count before converting; large values overflow time.Duration.
		if *req.Duration <= 0 || *req.Duration > int(s.config.MaxDuration/time.Minute) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duration must be positive and within the maximum session length")
		}
		duration = time.Duration(*req.Duration) * time.Minute
	}

	teacherName := req.TeacherName
	if teacherName == "" {
		if req.TeacherID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "teacherName is required when opening a session for another teacher")
		}
		teacherName = claims.FullName
	}

	now := s.now()
	pin, err := s.allocatePIN(ctx, now, "")
	if err != nil {
		return nil, err
	}

	session := &models.AttendanceSession{
		ID:          s.newID(),
		CourseID:    req.CourseID,
		TeacherID:   req.TeacherID,
		TeacherName: teacherName,
		PIN:         pin,
		StartTime:   now,
		EndTime:     now.Add(duration),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, storeFailure(s.logger, "create attendance session", err)
	}
	s.metrics.RecordSessionCreated()
	s.logger.Info("attendance session opened",
		zap.String("session_id", session.ID),
		zap.String("teacher_id", session.TeacherID),
		zap.Time("end_time", session.EndTime))
	return session, nil
}

// EndSession closes the session at now. Ending a session that already ended
// succeeds without moving its end time.
func (s *AttendanceSessionService) EndSession(ctx context.Context, id string, claims *models.JWTClaims) (*dto.EndSessionResponse, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := findSession(ctx, s.store, s.logger, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(claims, ActionManageSession, session.TeacherID); err != nil {
		return nil, err
	}

	now := s.now()
	if !session.EndTime.After(now) {
		return &dto.EndSessionResponse{Success: true, EndTime: session.EndTime}, nil
	}

	changed, err := s.store.CloseAt(ctx, session.ID, now)
	if err != nil {
		return nil, storeFailure(s.logger, "end attendance session", err)
	}
	if !changed {
		// A concurrent end won the race; report the stored value.
		current, err := findSession(ctx, s.store, s.logger, id)
		if err != nil {
			return nil, err
		}
		return &dto.EndSessionResponse{Success: true, EndTime: current.EndTime}, nil
	}
	return &dto.EndSessionResponse{Success: true, EndTime: now}, nil
}

// RegeneratePIN draws a new PIN for an active session, leaving its window unchanged.
func (s *AttendanceSessionService) RegeneratePIN(ctx context.Context, id string, claims *models.JWTClaims) (*dto.RegeneratePINResponse, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := findSession(ctx, s.store, s.logger, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(claims, ActionManageSession, session.TeacherID); err != nil {
		return nil, err
	}

	now := s.now()
	if !session.ActiveAt(now) {
		return nil, appErrors.ErrSessionClosed
	}

	pin, err := s.allocatePIN(ctx, now, session.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdatePIN(ctx, session.ID, pin, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, storeFailure(s.logger, "regenerate session pin", err)
	}
	return &dto.RegeneratePINResponse{PIN: pin}, nil
}

// FindActiveForTeacher returns the most recently started session of teacherID
// whose window contains now, or nil. An empty teacherID means the caller.
func (s *AttendanceSessionService) FindActiveForTeacher(ctx context.Context, teacherID string, claims *models.JWTClaims) (*models.AttendanceSession, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if teacherID == "" {
		teacherID = claims.UserID
	}
	if err := Authorize(claims, ActionViewRoster, teacherID); err != nil {
		return nil, err
	}

	now := s.now()
	sessions, err := s.store.ListOpenByTeacher(ctx, teacherID, now)
	if err != nil {
		return nil, storeFailure(s.logger, "find active teacher session", err)
	}
	return latestActive(sessions, now), nil
}

// ListHistory returns sessions newest first with attendee counts. Deans may
// leave TeacherID empty to see every teacher's sessions.
func (s *AttendanceSessionService) ListHistory(ctx context.Context, req dto.SessionHistoryRequest, claims *models.JWTClaims) ([]models.SessionSummary, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	teacherID := req.TeacherID
	if teacherID == "" && claims.Role != models.RoleDean {
		teacherID = claims.UserID
	}
	if err := Authorize(claims, ActionViewRoster, teacherID); err != nil {
		return nil, nil, err
	}
	if req.Start != nil && req.End != nil && req.End.Before(*req.Start) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "end must not be before start")
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 50
	}
	if size > 200 {
		size = 200
	}

	rows, total, err := s.store.ListHistory(ctx, models.SessionHistoryFilter{
		TeacherID: teacherID,
		From:      req.Start,
		To:        req.End,
		Page:      page,
		PageSize:  size,
	})
	if err != nil {
		return nil, nil, storeFailure(s.logger, "list session history", err)
	}
	if rows == nil {
		rows = []models.SessionSummary{}
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// LookupByPIN resolves the active session a student may mark with pin. It
// returns nil when no active session carries the PIN.
func (s *AttendanceSessionService) LookupByPIN(ctx context.Context, pin string, claims *models.JWTClaims) (*models.SessionLookup, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := Authorize(claims, ActionMarkAttendance, claims.UserID); err != nil {
		return nil, err
	}
	if !ValidPIN(pin) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pin must be five digits")
	}

	session, err := activeByPIN(ctx, s.store, s.logger, pin, s.now())
	if err != nil || session == nil {
		return nil, err
	}
	return &models.SessionLookup{
		SessionID:   session.ID,
		CourseID:    session.CourseID,
		TeacherName: session.TeacherName,
		StartTime:   session.StartTime,
		EndTime:     session.EndTime,
	}, nil
}

// SessionQRCode renders a PNG QR code carrying a join token that expires with
// the session.
func (s *AttendanceSessionService) SessionQRCode(ctx context.Context, id string, claims *models.JWTClaims) ([]byte, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	session, err := findSession(ctx, s.store, s.logger, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(claims, ActionManageSession, session.TeacherID); err != nil {
		return nil, err
	}
	if !session.ActiveAt(s.now()) {
		return nil, appErrors.ErrSessionClosed
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "join tokens are not configured")
	}

	token, err := s.signer.Generate(session.ID, session.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign join token")
	}
	png, err := export.QRPNG(token, s.config.QRSize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return png, nil
}

// allocatePIN draws PINs until one is not held by another active session.
func (s *AttendanceSessionService) allocatePIN(ctx context.Context, now time.Time, sessionID string) (string, error) {
	for attempt := 0; attempt < s.config.PINAttempts; attempt++ {
		pin, err := s.newPIN()
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate pin")
		}
		open, err := s.store.ListOpenByPIN(ctx, pin, now)
		if err != nil {
			return "", storeFailure(s.logger, "check pin collision", err)
		}
		if !heldByOther(open, now, sessionID) {
			return pin, nil
		}
		s.metrics.RecordPINCollision()
		s.logger.Debug("pin collision", zap.Int("attempt", attempt+1))
	}
	return "", appErrors.Clone(appErrors.ErrConflict, "unable to allocate a unique session pin")
}

func heldByOther(sessions []models.AttendanceSession, now time.Time, sessionID string) bool {
	for _, session := range sessions {
		if session.ID != sessionID && session.ActiveAt(now) {
			return true
		}
	}
	return false
}

// latestActive picks the session with the latest start whose window contains now.
func latestActive(sessions []models.AttendanceSession, now time.Time) *models.AttendanceSession {
	var best *models.AttendanceSession
	for i := range sessions {
		session := sessions[i]
		if !session.ActiveAt(now) {
			continue
		}
		if best == nil || session.StartTime.After(best.StartTime) {
			best = &session
		}
	}
	return best
}

// findSession loads a session, mapping unknown or malformed ids to SESSION_NOT_FOUND.
func findSession(ctx context.Context, store sessionReader, logger *zap.Logger, id string) (*models.AttendanceSession, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.ErrSessionNotFound
	}
	session, err := store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, storeFailure(logger, "load attendance session", err)
	}
	return session, nil
}

func activeByPIN(ctx context.Context, store sessionReader, logger *zap.Logger, pin string, now time.Time) (*models.AttendanceSession, error) {
	sessions, err := store.ListOpenByPIN(ctx, pin, now)
	if err != nil {
		return nil, storeFailure(logger, "find session by pin", err)
	}
	return latestActive(sessions, now), nil
}

func storeFailure(logger *zap.Logger, op string, err error) error {
	logger.Error("store request failed", zap.String("op", op), zap.Error(err))
	return appErrors.Store(err, "")
}
