package models

import "time"

// Audit action constants.
const (
	AuditActionStatusAdvance  = "STATUS_ADVANCE"
	AuditActionStatusOverride = "STATUS_OVERRIDE"
	AuditActionAssignWorker   = "ASSIGN_WORKER"
	AuditActionAddComment     = "ADD_COMMENT"
	AuditActionWorkerLeave    = "WORKER_LEAVE"
)

// AuditLog captures who did what to which resource.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Actor      string    `db:"actor" json:"actor"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID string    `db:"resource_id" json:"resourceId"`
	Details    []byte    `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
