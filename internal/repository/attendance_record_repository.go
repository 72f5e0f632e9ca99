package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/edutrack-api/internal/models"
	"github.com/noah-isme/edutrack-api/pkg/database"
)

// AttendanceRecordRepository persists attendance records.
type AttendanceRecordRepository struct {
	db database.Pools
}

// NewAttendanceRecordRepository constructs the repository.
func NewAttendanceRecordRepository(db database.Pools) *AttendanceRecordRepository {
	return &AttendanceRecordRepository{db: db}
}

// Insert stores the record unless one already exists for the same session and
// student, in which case the existing row is returned with created=false.
func (r *AttendanceRecordRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	const insert = `INSERT INTO session_attendance_records (id, session_id, student_id, timestamp)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, student_id) DO NOTHING
RETURNING id, session_id, student_id, timestamp`
	var stored models.AttendanceRecord
	err := r.db.Writer.GetContext(ctx, &stored, insert, record.ID, record.SessionID, record.StudentID, record.Timestamp)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert attendance record: %w", err)
	}

	const existing = `SELECT id, session_id, student_id, timestamp FROM session_attendance_records WHERE session_id = $1 AND student_id = $2`
	if err := r.db.Writer.GetContext(ctx, &stored, existing, record.SessionID, record.StudentID); err != nil {
		return nil, false, fmt.Errorf("load existing attendance record: %w", err)
	}
	return &stored, false, nil
}

// ListAttendees returns a session's attendees newest mark first.
func (r *AttendanceRecordRepository) ListAttendees(ctx context.Context, sessionID string) ([]models.Attendee, error) {
	const query = `SELECT r.student_id, COALESCE(p.full_name, '') AS student_name, COALESCE(p.email, '') AS student_email, r.timestamp AS marked_at
FROM session_attendance_records r
LEFT JOIN profiles p ON p.id = r.student_id
WHERE r.session_id = $1
ORDER BY r.timestamp DESC, r.id DESC`
	rows := []models.Attendee{}
	if err := r.db.Reader.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	return rows, nil
}

const studentEntrySelect = `SELECT r.id AS record_id, r.session_id, s.course_id, s.teacher_name, s.start_time, s.end_time, r.timestamp AS marked_at
FROM session_attendance_records r
JOIN attendance_sessions s ON s.id = r.session_id
WHERE r.student_id = $1
ORDER BY r.timestamp DESC`

// ListForStudent returns every record of the student joined with its session.
func (r *AttendanceRecordRepository) ListForStudent(ctx context.Context, studentID string) ([]models.StudentAttendanceEntry, error) {
	rows := []models.StudentAttendanceEntry{}
	if err := r.db.Reader.SelectContext(ctx, &rows, studentEntrySelect, studentID); err != nil {
		return nil, fmt.Errorf("list student attendance: %w", err)
	}
	return rows, nil
}

// LastForStudent returns the student's most recent record. sql.ErrNoRows is
// returned as-is.
func (r *AttendanceRecordRepository) LastForStudent(ctx context.Context, studentID string) (*models.StudentAttendanceEntry, error) {
	var entry models.StudentAttendanceEntry
	if err := r.db.Reader.GetContext(ctx, &entry, studentEntrySelect+` LIMIT 1`, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("last student attendance: %w", err)
	}
	return &entry, nil
}
