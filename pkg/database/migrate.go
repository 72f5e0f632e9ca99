package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the attendance schema. Statements are idempotent so Migrate can
// run on every start. profiles is normally owned by the identity provider and
// is only created here for local stacks.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	full_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS attendance_sessions (
	id            UUID PRIMARY KEY,
	course_id     TEXT NOT NULL,
	teacher_id    TEXT NOT NULL,
	teacher_name  TEXT NOT NULL DEFAULT '',
	pin           CHAR(5) NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (end_time >= start_time)
);

CREATE INDEX IF NOT EXISTS idx_attendance_sessions_teacher ON attendance_sessions (teacher_id, end_time);
CREATE INDEX IF NOT EXISTS idx_attendance_sessions_pin ON attendance_sessions (pin, end_time);
CREATE INDEX IF NOT EXISTS idx_attendance_sessions_start ON attendance_sessions (start_time DESC);

CREATE TABLE IF NOT EXISTS session_attendance_records (
	id          TEXT PRIMARY KEY,
	session_id  UUID NOT NULL REFERENCES attendance_sessions (id) ON DELETE CASCADE,
	student_id  TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, student_id)
);

CREATE INDEX IF NOT EXISTS idx_session_attendance_student ON session_attendance_records (student_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS audit_logs (
	id           TEXT PRIMARY KEY,
	user_id      TEXT,
	action       TEXT NOT NULL,
	resource     TEXT NOT NULL,
	resource_id  TEXT,
	new_values   JSONB,
	ip_address   TEXT NOT NULL DEFAULT '',
	user_agent   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate applies Schema through db, which must hold the service-tier credential.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply attendance schema: %w", err)
	}
	return nil
}
