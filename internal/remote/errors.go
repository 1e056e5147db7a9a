package remote

import (
	"errors"
	"fmt"
	"strings"
)

// SessionAuthError reports that the host rejected the credentials, either at
// the SSH handshake or at the sudo prompt.
type SessionAuthError struct {
	Host string
	Err  error
}

func (e *SessionAuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Host, e.Err)
}

func (e *SessionAuthError) Unwrap() error { return e.Err }

// SessionError reports that no command could be run on the host: dial,
// handshake, session setup or the execution timeout.
type SessionError struct {
	Host string
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Op, e.Host, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// DiagnosticUnsupported reports that the host ran smartctl but no access
// method produced any usable output for the disk.
type DiagnosticUnsupported struct {
	Disk    string
	Methods []string
}

func (e *DiagnosticUnsupported) Error() string {
	return fmt.Sprintf("no SMART data for %s (tried %s)", e.Disk, strings.Join(e.Methods, ", "))
}

// Outcome classifies a Diagnose error for the audit trail: auth_failed,
// unsupported, invalid or error.
func Outcome(err error) string {
	var authErr *SessionAuthError
	var unsupported *DiagnosticUnsupported
	switch {
	case errors.As(err, &authErr):
		return "auth_failed"
	case errors.As(err, &unsupported):
		return "unsupported"
	case errors.Is(err, ErrInvalidDisk), errors.Is(err, ErrInvalidMethod):
		return "invalid"
	default:
		return "error"
	}
}
