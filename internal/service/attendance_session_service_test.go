package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edutrack-api/internal/dto"
	"github.com/noah-isme/edutrack-api/internal/models"
	appErrors "github.com/noah-isme/edutrack-api/pkg/errors"
	"github.com/noah-isme/edutrack-api/pkg/signing"
)

var pinPattern = regexp.MustCompile(`^\d{5}$`)

var t0 = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func newSessionServiceForTest(store *memoryStore, clk *clock) *AttendanceSessionService {
	svc := NewAttendanceSessionService(store, signing.NewJoinTokenSigner("test-secret"), nil, nil, nil, SessionConfig{QRSize: 128})
	svc.now = clk.Now
	return svc
}

func intPtr(v int) *int { return &v }

func TestCreateSessionAndFindActive(t *testing.T) {
	store := newMemoryStore()
	clk := &clock{t: t0}
	svc := newSessionServiceForTest(store, clk)
	teacher := teacherClaims("teacher-1")

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{
		CourseID: "Algebra I", TeacherID: "teacher-1", TeacherName: "Jane Doe", Duration: intPtr(60),
	}, teacher)
	require.NoError(t, err)
	assert.Equal(t, t0, session.StartTime)
	assert.Equal(t, t0.Add(60*time.Minute), session.EndTime)
	assert.Regexp(t, pinPattern, session.PIN)

	clk.Advance(30 * time.Minute)
	active, err := svc.FindActiveForTeacher(context.Background(), "teacher-1", teacher)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)

	clk.t = t0.Add(61 * time.Minute)
	active, err = svc.FindActiveForTeacher(context.Background(), "teacher-1", teacher)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCreateSessionDefaultsDurationAndName(t *testing.T) {
	store := newMemoryStore()
	svc := newSessionServiceForTest(store, &clock{t: t0})

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "Physics", TeacherID: "teacher-1"}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Minute, session.EndTime.Sub(session.StartTime))
	assert.Equal(t, "Jane Doe", session.TeacherName)
}

func TestCreateSessionValidation(t *testing.T) {
	svc := newSessionServiceForTest(newMemoryStore(), &clock{t: t0})
	teacher := teacherClaims("teacher-1")

	cases := map[string]dto.CreatePINSessionRequest{
		"missing course":  {TeacherID: "teacher-1"},
		"missing teacher": {CourseID: "Algebra I"},
		"zero duration":   {CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(0)},
		"too long":        {CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(13 * 60)},
		"overflowing":     {CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(307445735)},
		"negative":        {CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(-5)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSession(context.Background(), req, teacher)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestCreateSessionAcceptsConfiguredMaximum(t *testing.T) {
	svc := newSessionServiceForTest(newMemoryStore(), &clock{t: t0})

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{
		CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(12 * 60),
	}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, session.EndTime.Sub(session.StartTime))
}

func TestSessionConfigClampsDefaultToMaximum(t *testing.T) {
	svc := NewAttendanceSessionService(newMemoryStore(), nil, nil, nil, nil, SessionConfig{
		DefaultDuration: 3 * time.Hour,
		MaxDuration:     time.Hour,
	})
	assert.Equal(t, time.Hour, svc.config.MaxDuration)
	assert.Equal(t, time.Hour, svc.config.DefaultDuration)

	svc = NewAttendanceSessionService(newMemoryStore(), nil, nil, nil, nil, SessionConfig{})
	assert.Equal(t, 2*time.Hour, svc.config.DefaultDuration)
	assert.Equal(t, 12*time.Hour, svc.config.MaxDuration)
}

func TestCreateSessionAuthorization(t *testing.T) {
	svc := newSessionServiceForTest(newMemoryStore(), &clock{t: t0})
	req := dto.CreatePINSessionRequest{CourseID: "Algebra I", TeacherID: "teacher-1", TeacherName: "Jane Doe"}

	_, err := svc.CreateSession(context.Background(), req, studentClaims("s1"))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateSession(context.Background(), req, teacherClaims("teacher-2"))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateSession(context.Background(), req, &models.JWTClaims{UserID: "u-1", Role: models.RoleNone})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateSession(context.Background(), req, nil)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	session, err := svc.CreateSession(context.Background(), req, deanClaims("dean-1"))
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", session.TeacherID)
}

func TestCreateSessionStoreFailure(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection reset")
	svc := newSessionServiceForTest(store, &clock{t: t0})

	_, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "Algebra I", TeacherID: "teacher-1"}, teacherClaims("teacher-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUpstreamStore.Code, appErr.Code)
	assert.NotContains(t, appErr.Message, "connection reset")
}

func TestEndSessionIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	clk := &clock{t: t0}
	svc := newSessionServiceForTest(store, clk)
	teacher := teacherClaims("teacher-1")

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "Algebra I", TeacherID: "teacher-1"}, teacher)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	first, err := svc.EndSession(context.Background(), session.ID, teacher)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, t0.Add(10*time.Minute), first.EndTime)

	clk.Advance(5 * time.Minute)
	second, err := svc.EndSession(context.Background(), session.ID, teacher)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, first.EndTime, second.EndTime)

	stored, _ := store.FindByID(context.Background(), session.ID)
	assert.Equal(t, first.EndTime, stored.EndTime)
}

func TestEndSessionUnknownAndForeign(t *testing.T) {
	store := newMemoryStore()
	svc := newSessionServiceForTest(store, &clock{t: t0})

	_, err := svc.EndSession(context.Background(), "not-a-uuid", teacherClaims("teacher-1"))
	assert.Equal(t, appErrors.ErrSessionNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.EndSession(context.Background(), "7d0f4c0e-2f7a-4a53-9b7e-4a1d2b3c4d5e", teacherClaims("teacher-1"))
	assert.Equal(t, appErrors.ErrSessionNotFound.Code, appErrors.FromError(err).Code)

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "Algebra I", TeacherID: "teacher-1"}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	_, err = svc.EndSession(context.Background(), session.ID, teacherClaims("teacher-2"))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRegeneratePIN(t *testing.T) {
	store := newMemoryStore()
	clk := &clock{t: t0}
	svc := newSessionServiceForTest(store, clk)
	teacher := teacherClaims("teacher-1")

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(60)}, teacher)
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	resp, err := svc.RegeneratePIN(context.Background(), session.ID, teacher)
	require.NoError(t, err)
	assert.Regexp(t, pinPattern, resp.PIN)

	stored, _ := store.FindByID(context.Background(), session.ID)
	assert.Equal(t, resp.PIN, stored.PIN)
	assert.Equal(t, session.StartTime, stored.StartTime)
	assert.Equal(t, session.EndTime, stored.EndTime)

	clk.Advance(2 * time.Hour)
	_, err = svc.RegeneratePIN(context.Background(), session.ID, teacher)
	assert.Equal(t, appErrors.ErrSessionClosed.Code, appErrors.FromError(err).Code)
}

func TestPINAllocationAvoidsActiveCollision(t *testing.T) {
	store := newMemoryStore()
	svc := newSessionServiceForTest(store, &clock{t: t0})
	draws := []string{"11111", "11111", "22222"}
	svc.newPIN = func() (string, error) {
		pin := draws[0]
		draws = draws[1:]
		return pin, nil
	}

	first, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "A", TeacherID: "teacher-1"}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	second, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "B", TeacherID: "teacher-2"}, teacherClaims("teacher-2"))
	require.NoError(t, err)

	assert.Equal(t, "11111", first.PIN)
	assert.Equal(t, "22222", second.PIN)
}

func TestPINAllocationExhausted(t *testing.T) {
	store := newMemoryStore()
	svc := newSessionServiceForTest(store, &clock{t: t0})
	svc.newPIN = func() (string, error) { return "11111", nil }

	_, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "A", TeacherID: "teacher-1"}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	_, err = svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "B", TeacherID: "teacher-2"}, teacherClaims("teacher-2"))
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestFindActiveForTeacherPrefersLatestStart(t *testing.T) {
	store := newMemoryStore()
	clk := &clock{t: t0}
	svc := newSessionServiceForTest(store, clk)
	teacher := teacherClaims("teacher-1")

	_, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "A", TeacherID: "teacher-1"}, teacher)
	require.NoError(t, err)
	clk.Advance(10 * time.Minute)
	later, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "B", TeacherID: "teacher-1"}, teacher)
	require.NoError(t, err)

	active, err := svc.FindActiveForTeacher(context.Background(), "", teacher)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, later.ID, active.ID)
}

func TestListHistoryScopes(t *testing.T) {
	store := newMemoryStore()
	clk := &clock{t: t0}
	svc := newSessionServiceForTest(store, clk)

	for i, teacher := range []string{"teacher-1", "teacher-2", "teacher-1"} {
		clk.t = t0.Add(time.Duration(i) * time.Hour)
		_, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: fmt.Sprintf("C%d", i), TeacherID: teacher}, teacherClaims(teacher))
		require.NoError(t, err)
	}

	rows, page, err := svc.ListHistory(context.Background(), dto.SessionHistoryRequest{}, teacherClaims("teacher-1"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "C2", rows[0].CourseID)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 50, page.PageSize)

	rows, _, err = svc.ListHistory(context.Background(), dto.SessionHistoryRequest{}, deanClaims("dean-1"))
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, _, err = svc.ListHistory(context.Background(), dto.SessionHistoryRequest{TeacherID: "teacher-2"}, teacherClaims("teacher-1"))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	start := t0.Add(2 * time.Hour)
	end := t0
	_, _, err = svc.ListHistory(context.Background(), dto.SessionHistoryRequest{Start: &start, End: &end}, deanClaims("dean-1"))
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLookupByPIN(t *testing.T) {
	store := newMemoryStore()
	clk := &clock{t: t0}
	svc := newSessionServiceForTest(store, clk)

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(30)}, teacherClaims("teacher-1"))
	require.NoError(t, err)

	lookup, err := svc.LookupByPIN(context.Background(), session.PIN, studentClaims("s1"))
	require.NoError(t, err)
	require.NotNil(t, lookup)
	assert.Equal(t, session.ID, lookup.SessionID)

	_, err = svc.LookupByPIN(context.Background(), "12a45", studentClaims("s1"))
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.LookupByPIN(context.Background(), session.PIN, teacherClaims("teacher-1"))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	clk.Advance(31 * time.Minute)
	lookup, err = svc.LookupByPIN(context.Background(), session.PIN, studentClaims("s1"))
	require.NoError(t, err)
	assert.Nil(t, lookup)
}

func TestSessionQRCode(t *testing.T) {
	store := newMemoryStore()
	clk := &clock{t: t0}
	svc := newSessionServiceForTest(store, clk)
	teacher := teacherClaims("teacher-1")

	session, err := svc.CreateSession(context.Background(), dto.CreatePINSessionRequest{CourseID: "Algebra I", TeacherID: "teacher-1", Duration: intPtr(30)}, teacher)
	require.NoError(t, err)

	png, err := svc.SessionQRCode(context.Background(), session.ID, teacher)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	clk.Advance(time.Hour)
	_, err = svc.SessionQRCode(context.Background(), session.ID, teacher)
	assert.Equal(t, appErrors.ErrSessionClosed.Code, appErrors.FromError(err).Code)
}
