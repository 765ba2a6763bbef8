package domain

import "time"

type AuditAction string

const (
	AuditJoinInterview  AuditAction = "join_interview"
	AuditStartRecording AuditAction = "start_recording"
	AuditStopRecording  AuditAction = "stop_recording"
	AuditGrantConsent   AuditAction = "grant_consent"
	AuditDenyConsent    AuditAction = "deny_consent"
)

// AuditEntry is an immutable record of an in-call action.
type AuditEntry struct {
	ID           string      `db:"id"`
	UserID       string      `db:"user_id"`
	Action       AuditAction `db:"action"`
	ResourceType string      `db:"resource_type"`
	ResourceID   *string     `db:"resource_id"`
	Details      *string     `db:"details"`
	IPAddress    *string     `db:"ip_address"`
	CreatedAt    time.Time   `db:"created_at"`
}
