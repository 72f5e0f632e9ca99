package models

import "time"

// AttendanceSession is a bounded window during which students may mark
// presence for a course meeting.
type AttendanceSession struct {
	ID          string    `db:"id" json:"id"`
	CourseID    string    `db:"course_id" json:"courseId"`
	TeacherID   string    `db:"teacher_id" json:"teacherId"`
	TeacherName string    `db:"teacher_name" json:"teacherName"`
	PIN         string    `db:"pin" json:"pin"`
	StartTime   time.Time `db:"start_time" json:"startTime"`
	EndTime     time.Time `db:"end_time" json:"endTime"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// ActiveAt reports whether t lies inside [StartTime, EndTime].
func (s AttendanceSession) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartTime) && !t.After(s.EndTime)
}

// SessionSummary annotates a session with its attendee count.
type SessionSummary struct {
	AttendanceSession
	AttendeeCount int `db:"attendee_count" json:"attendeeCount"`
}

// ActiveSessionView is the student-facing view of an active session the
// student already marked.
type ActiveSessionView struct {
	SessionID     string    `db:"session_id" json:"sessionId"`
	CourseID      string    `db:"course_id" json:"courseId"`
	TeacherName   string    `db:"teacher_name" json:"teacherName"`
	StartTime     time.Time `db:"start_time" json:"startTime"`
	EndTime       time.Time `db:"end_time" json:"endTime"`
	MarkedAt      time.Time `db:"marked_at" json:"markedAt"`
	AttendeeCount int       `db:"attendee_count" json:"attendeeCount"`
}

// SessionLookup is what a student sees when resolving a PIN.
type SessionLookup struct {
	SessionID   string    `json:"sessionId"`
	CourseID    string    `json:"courseId"`
	TeacherName string    `json:"teacherName"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

// AttendanceRecord is a single fact that one student was present in one
// session. At most one exists per (SessionID, StudentID).
type AttendanceRecord struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"sessionId"`
	StudentID string    `db:"student_id" json:"studentId"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Attendee is an attendance record joined with the student's profile.
type Attendee struct {
	StudentID    string    `db:"student_id" json:"studentId"`
	StudentName  string    `db:"student_name" json:"studentName"`
	StudentEmail string    `db:"student_email" json:"studentEmail"`
	MarkedAt     time.Time `db:"marked_at" json:"markedAt"`
}

// StudentAttendanceEntry is a record joined with the session it references.
type StudentAttendanceEntry struct {
	RecordID    string    `db:"record_id" json:"recordId"`
	SessionID   string    `db:"session_id" json:"sessionId"`
	CourseID    string    `db:"course_id" json:"courseId"`
	TeacherName string    `db:"teacher_name" json:"teacherName"`
	StartTime   time.Time `db:"start_time" json:"startTime"`
	EndTime     time.Time `db:"end_time" json:"endTime"`
	MarkedAt    time.Time `db:"marked_at" json:"markedAt"`
}

// DailyAttendanceCount is one bucket of the per-day histogram.
type DailyAttendanceCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CourseAttendanceCount is one row of the per-course breakdown.
type CourseAttendanceCount struct {
	CourseID string `json:"courseId"`
	Count    int    `json:"count"`
}

// StudentAttendanceStats aggregates a student's attendance records.
type StudentAttendanceStats struct {
	StudentID     string                  `json:"studentId"`
	TotalSessions int                     `json:"totalSessions"`
	Daily         []DailyAttendanceCount  `json:"daily"`
	Courses       []CourseAttendanceCount `json:"courses"`
	GeneratedAt   time.Time               `json:"generatedAt"`
}

// SessionHistoryFilter scopes history listing.
type SessionHistoryFilter struct {
	TeacherID string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}
