package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/edutrack-api/internal/models"
	"github.com/noah-isme/edutrack-api/pkg/database"
)

const sessionColumns = `s.id, s.course_id, s.teacher_id, s.teacher_name, s.pin, s.start_time, s.end_time, s.created_at, s.updated_at`

// AttendanceSessionRepository persists attendance sessions. Reads go through
// the client-tier pool and writes through the service-tier pool.
type AttendanceSessionRepository struct {
	db database.Pools
}

// NewAttendanceSessionRepository constructs the repository.
func NewAttendanceSessionRepository(db database.Pools) *AttendanceSessionRepository {
	return &AttendanceSessionRepository{db: db}
}

// Create inserts a new session row.
func (r *AttendanceSessionRepository) Create(ctx context.Context, session *models.AttendanceSession) error {
	const query = `INSERT INTO attendance_sessions (id, course_id, teacher_id, teacher_name, pin, start_time, end_time, created_at, updated_at)
VALUES (:id, :course_id, :teacher_id, :teacher_name, :pin, :start_time, :end_time, :created_at, :updated_at)`
	if _, err := r.db.Writer.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create attendance session: %w", err)
	}
	return nil
}

// FindByID returns a session by identifier. sql.ErrNoRows is returned as-is.
func (r *AttendanceSessionRepository) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions s WHERE s.id = $1`
	var session models.AttendanceSession
	if err := r.db.Reader.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance session: %w", err)
	}
	return &session, nil
}

// CloseAt moves end_time back to endTime. It reports false when the session
// already ended at or before endTime, leaving the row untouched.
func (r *AttendanceSessionRepository) CloseAt(ctx context.Context, id string, endTime time.Time) (bool, error) {
	const query = `UPDATE attendance_sessions SET end_time = $2, updated_at = $2 WHERE id = $1 AND end_time > $2`
	res, err := r.db.Writer.ExecContext(ctx, query, id, endTime)
	if err != nil {
		return false, fmt.Errorf("close attendance session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close attendance session rows: %w", err)
	}
	return affected > 0, nil
}

// UpdatePIN overwrites the session PIN without touching its window.
func (r *AttendanceSessionRepository) UpdatePIN(ctx context.Context, id, pin string, updatedAt time.Time) error {
	const query = `UPDATE attendance_sessions SET pin = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.Writer.ExecContext(ctx, query, id, pin, updatedAt)
	if err != nil {
		return fmt.Errorf("update attendance session pin: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListOpenByTeacher returns the teacher's sessions that have not ended by now,
// newest start first. Whether each one has started is left to the caller.
func (r *AttendanceSessionRepository) ListOpenByTeacher(ctx context.Context, teacherID string, now time.Time) ([]models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions s
WHERE s.teacher_id = $1 AND s.end_time >= $2
ORDER BY s.start_time DESC
LIMIT 50`
	var rows []models.AttendanceSession
	if err := r.db.Reader.SelectContext(ctx, &rows, query, teacherID, now); err != nil {
		return nil, fmt.Errorf("list open sessions by teacher: %w", err)
	}
	return rows, nil
}

// ListOpenByPIN returns sessions carrying pin that have not ended by now,
// newest start first.
func (r *AttendanceSessionRepository) ListOpenByPIN(ctx context.Context, pin string, now time.Time) ([]models.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions s
WHERE s.pin = $1 AND s.end_time >= $2
ORDER BY s.start_time DESC
LIMIT 50`
	var rows []models.AttendanceSession
	if err := r.db.Reader.SelectContext(ctx, &rows, query, pin, now); err != nil {
		return nil, fmt.Errorf("list open sessions by pin: %w", err)
	}
	return rows, nil
}

// ListOpenForStudent returns not-yet-ended sessions the student has marked,
// with live attendee counts, newest start first.
func (r *AttendanceSessionRepository) ListOpenForStudent(ctx context.Context, studentID string, now time.Time) ([]models.ActiveSessionView, error) {
	const query = `SELECT s.id AS session_id, s.course_id, s.teacher_name, s.start_time, s.end_time,
        r.timestamp AS marked_at,
        (SELECT COUNT(*) FROM session_attendance_records c WHERE c.session_id = s.id) AS attendee_count
FROM session_attendance_records r
JOIN attendance_sessions s ON s.id = r.session_id
WHERE r.student_id = $1 AND s.end_time >= $2
ORDER BY s.start_time DESC
LIMIT 50`
	var rows []models.ActiveSessionView
	if err := r.db.Reader.SelectContext(ctx, &rows, query, studentID, now); err != nil {
		return nil, fmt.Errorf("list open sessions for student: %w", err)
	}
	return rows, nil
}

// ListHistory returns sessions newest first with attendee counts. An empty
// TeacherID lists every teacher's sessions.
func (r *AttendanceSessionRepository) ListHistory(ctx context.Context, filter models.SessionHistoryFilter) ([]models.SessionSummary, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.TeacherID != "" {
		where = append(where, fmt.Sprintf("s.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("s.start_time >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("s.start_time < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, COUNT(r.id) AS attendee_count
FROM attendance_sessions s
LEFT JOIN session_attendance_records r ON r.session_id = s.id
WHERE %s
GROUP BY s.id
ORDER BY s.start_time DESC
LIMIT %d OFFSET %d`, sessionColumns, whereClause, size, offset)

	var rows []models.SessionSummary
	if err := r.db.Reader.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list session history: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_sessions s WHERE %s", whereClause)
	var total int
	if err := r.db.Reader.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count session history: %w", err)
	}
	return rows, total, nil
}
