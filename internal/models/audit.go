package models

import "gorm.io/gorm"

// AuditKind classifies an audited remote operation.
type AuditKind string

const (
	AuditKindSmart AuditKind = "smart"
	AuditKindShell AuditKind = "shell"
)

// AuditRecord stores one remote operation started from the dashboard: a SMART
// diagnosis or an interactive shell session.
type AuditRecord struct {
	gorm.Model

	Kind   AuditKind `gorm:"index;not null" json:"kind"`
	Target string    `gorm:"index" json:"target"` // disk name or host
	User   string    `json:"user"`
	// Method is the access method that answered (SMART only).
	Method     string `json:"method"`
	Outcome    string `gorm:"index" json:"outcome"` // ok, raw, auth_failed, unsupported, error
	Detail     string `json:"detail"`
	DurationMS int64  `json:"duration_ms"`
}
