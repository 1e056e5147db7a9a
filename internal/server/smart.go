package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/remote"
)

// smartRequest is the optional POST body of the SMART route. Empty fields
// keep the configured SSH defaults. The host is always the configured
// appliance.
type smartRequest struct {
	Type         string `json:"type"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	PrivateKey   string `json:"private_key"`
	SudoPassword string `json:"sudo_password"`
}

// merge overlays the non-empty request fields on base.
func (r smartRequest) merge(base remote.Credentials) remote.Credentials {
	if r.Port > 0 {
		base.Port = r.Port
	}
	if r.User != "" {
		base.User = r.User
	}
	if r.Password != "" {
		base.Password = r.Password
	}
	if r.PrivateKey != "" {
		base.PrivateKeyPEM = r.PrivateKey
	}
	if r.SudoPassword != "" {
		base.SudoPassword = r.SudoPassword
	}
	return base
}

// handleSmart runs a SMART diagnosis on one appliance disk.
//
//	GET  /api/disks/:name/smart?type=sat
//	POST /api/disks/:name/smart   Body: { "type": "sat", "user": "...", "password": "..." }
func (s *Server) handleSmart(c *gin.Context) {
	if s.deps.Diagnoser == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SMART diagnostics not configured"})
		return
	}
	disk := c.Param("name")

	var req smartRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	if req.Type == "" {
		req.Type = c.Query("type")
	}
	creds := req.merge(s.deps.Credentials)

	ctx := c.Request.Context()
	done := s.deps.Audit.Track(models.AuditKindSmart, disk, username(c))
	diag, err := s.deps.Diagnoser.Diagnose(ctx, disk, creds, req.Type)
	if err != nil {
		outcome := remote.Outcome(err)
		done(ctx, req.Type, outcome, err.Error())
		s.logger.Warn("smart diagnosis failed",
			zap.String("disk", disk),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		s.smartError(c, err)
		return
	}
	done(ctx, diag.Method, diag.Kind(), "")

	if diag.Kind() == "smart" {
		c.JSON(http.StatusOK, gin.H{
			"type":     "smart",
			"method":   diag.Method,
			"data":     diag.Record,
			"attempts": diag.Attempts,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"type":     "raw",
		"method":   diag.Method,
		"data":     diag.Raw,
		"attempts": diag.Attempts,
	})
}

func (s *Server) smartError(c *gin.Context, err error) {
	var (
		authErr     *remote.SessionAuthError
		sessErr     *remote.SessionError
		unsupported *remote.DiagnosticUnsupported
	)
	switch {
	case errors.Is(err, remote.ErrInvalidDisk), errors.Is(err, remote.ErrInvalidMethod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"auth_failed": true, "error": err.Error()})
	case errors.As(err, &unsupported):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "methods": unsupported.Methods})
	case errors.As(err, &sessErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to reach host", "details": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unexpected error", "details": err.Error()})
	}
}
