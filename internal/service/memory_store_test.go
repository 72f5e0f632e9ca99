package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/edutrack-api/internal/models"
)

// memoryStore backs both services in tests with the same semantics the SQL
// repositories provide, including the (session, student) uniqueness.
type studentProfile struct {
	FullName string
	Email    string
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.AttendanceSession
	records  []models.AttendanceRecord
	profiles map[string]studentProfile
	err      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[string]models.AttendanceSession{}, profiles: map[string]studentProfile{}}
}

func (m *memoryStore) Create(ctx context.Context, session *models.AttendanceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *memoryStore) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	session, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (m *memoryStore) CloseAt(ctx context.Context, id string, endTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || !session.EndTime.After(endTime) {
		return false, nil
	}
	session.EndTime = endTime
	session.UpdatedAt = endTime
	m.sessions[id] = session
	return true, nil
}

func (m *memoryStore) UpdatePIN(ctx context.Context, id, pin string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	session.PIN = pin
	session.UpdatedAt = updatedAt
	m.sessions[id] = session
	return nil
}

func (m *memoryStore) open(now time.Time, match func(models.AttendanceSession) bool) []models.AttendanceSession {
	var rows []models.AttendanceSession
	for _, session := range m.sessions {
		if !session.EndTime.Before(now) && match(session) {
			rows = append(rows, session)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StartTime.After(rows[j].StartTime) })
	return rows
}

func (m *memoryStore) ListOpenByTeacher(ctx context.Context, teacherID string, now time.Time) ([]models.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.open(now, func(s models.AttendanceSession) bool { return s.TeacherID == teacherID }), nil
}

func (m *memoryStore) ListOpenByPIN(ctx context.Context, pin string, now time.Time) ([]models.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.open(now, func(s models.AttendanceSession) bool { return s.PIN == pin }), nil
}

func (m *memoryStore) ListOpenForStudent(ctx context.Context, studentID string, now time.Time) ([]models.ActiveSessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var views []models.ActiveSessionView
	for _, rec := range m.records {
		if rec.StudentID != studentID {
			continue
		}
		session := m.sessions[rec.SessionID]
		if session.EndTime.Before(now) {
			continue
		}
		views = append(views, models.ActiveSessionView{
			SessionID:     session.ID,
			CourseID:      session.CourseID,
			TeacherName:   session.TeacherName,
			StartTime:     session.StartTime,
			EndTime:       session.EndTime,
			MarkedAt:      rec.Timestamp,
			AttendeeCount: m.countLocked(session.ID),
		})
	}
	return views, nil
}

func (m *memoryStore) ListHistory(ctx context.Context, filter models.SessionHistoryFilter) ([]models.SessionSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var rows []models.SessionSummary
	for _, session := range m.sessions {
		if filter.TeacherID != "" && session.TeacherID != filter.TeacherID {
			continue
		}
		if filter.From != nil && session.StartTime.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !session.StartTime.Before(*filter.To) {
			continue
		}
		rows = append(rows, models.SessionSummary{AttendanceSession: session, AttendeeCount: m.countLocked(session.ID)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StartTime.After(rows[j].StartTime) })
	return rows, len(rows), nil
}

func (m *memoryStore) countLocked(sessionID string) int {
	n := 0
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			n++
		}
	}
	return n
}

func (m *memoryStore) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	for _, rec := range m.records {
		if rec.SessionID == record.SessionID && rec.StudentID == record.StudentID {
			existing := rec
			return &existing, false, nil
		}
	}
	m.records = append(m.records, *record)
	stored := *record
	return &stored, true, nil
}

func (m *memoryStore) ListAttendees(ctx context.Context, sessionID string) ([]models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	attendees := []models.Attendee{}
	for _, rec := range m.records {
		if rec.SessionID != sessionID {
			continue
		}
		profile := m.profiles[rec.StudentID]
		attendees = append(attendees, models.Attendee{StudentID: rec.StudentID, StudentName: profile.FullName, StudentEmail: profile.Email, MarkedAt: rec.Timestamp})
	}
	sort.SliceStable(attendees, func(i, j int) bool { return attendees[i].MarkedAt.After(attendees[j].MarkedAt) })
	return attendees, nil
}

func (m *memoryStore) ListForStudent(ctx context.Context, studentID string) ([]models.StudentAttendanceEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	entries := []models.StudentAttendanceEntry{}
	for _, rec := range m.records {
		if rec.StudentID != studentID {
			continue
		}
		session := m.sessions[rec.SessionID]
		entries = append(entries, models.StudentAttendanceEntry{
			RecordID: rec.ID, SessionID: rec.SessionID, CourseID: session.CourseID, TeacherName: session.TeacherName,
			StartTime: session.StartTime, EndTime: session.EndTime, MarkedAt: rec.Timestamp,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].MarkedAt.After(entries[j].MarkedAt) })
	return entries, nil
}

func (m *memoryStore) LastForStudent(ctx context.Context, studentID string) (*models.StudentAttendanceEntry, error) {
	entries, err := m.ListForStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sql.ErrNoRows
	}
	return &entries[0], nil
}

// clock is a settable time source shared by both services in a test.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher, FullName: "Jane Doe"}
}

func deanClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleDean, FullName: "Dean"}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}
