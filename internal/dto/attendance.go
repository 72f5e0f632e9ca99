package dto

import (
	"time"

	"github.com/noah-isme/edutrack-api/internal/models"
)

// CreatePINSessionRequest is the body of POST /attendance/pin-session.
// Duration is in minutes; omitted means the configured default. The service
// applies the configured maximum, max=43200 (30 days) is a hard ceiling.
type CreatePINSessionRequest struct {
	CourseID    string `json:"courseId" validate:"required,max=200"`
	TeacherID   string `json:"teacherId" validate:"required,max=128"`
	TeacherName string `json:"teacherName" validate:"max=200"`
	Duration    *int   `json:"duration" validate:"omitempty,min=1,max=43200"`
}

// SessionHistoryRequest captures query parameters for session history.
type SessionHistoryRequest struct {
	TeacherID string
	Start     *time.Time
	End       *time.Time
	Page      int
	PageSize  int
}

// EndSessionResponse acknowledges an end-session call.
type EndSessionResponse struct {
	Success bool      `json:"success"`
	EndTime time.Time `json:"endTime"`
}

// RegeneratePINResponse carries the freshly drawn PIN.
type RegeneratePINResponse struct {
	PIN string `json:"pin"`
}

// MarkByPINRequest is the body of POST /attendance/pin/mark.
type MarkByPINRequest struct {
	PIN string `json:"pin" validate:"required,len=5,numeric"`
}

// MarkByTokenRequest is the body of POST /attendance/qr/mark.
type MarkByTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// MarkAttendanceResponse reports the stored record and whether this call
// created it.
type MarkAttendanceResponse struct {
	Record        models.AttendanceRecord `json:"record"`
	AlreadyMarked bool                    `json:"alreadyMarked"`
}

// ExportFormat names a supported attendee export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportFile is a rendered export ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}
