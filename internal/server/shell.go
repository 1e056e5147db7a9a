package server

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/relay"
	"github.com/vesaa/nasdash/internal/remote"
)

// ShellOpener starts an interactive shell on the appliance.
type ShellOpener interface {
	OpenShell(ctx context.Context, creds remote.Credentials, cols, rows int) (relay.Terminal, error)
}

// SSHShells opens shells through an SSH executor.
type SSHShells struct {
	Exec *remote.SSHExecutor
}

// OpenShell implements ShellOpener.
func (s SSHShells) OpenShell(ctx context.Context, creds remote.Credentials, cols, rows int) (relay.Terminal, error) {
	sh, err := s.Exec.OpenShell(ctx, creds, cols, rows)
	if err != nil {
		return nil, err
	}
	return sh, nil
}

// handleShell upgrades to a websocket and relays it to a fresh login shell
// on the appliance. Every connection gets its own SSH session.
//
//	GET /ws/ssh?token=<jwt>&cols=120&rows=40
func (s *Server) handleShell(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "relay ended")

	ctx := c.Request.Context()
	if s.deps.Shells == nil {
		_ = relay.SendError(ctx, conn, "remote shell not configured")
		_ = conn.Close(websocket.StatusPolicyViolation, "shell disabled")
		return
	}

	cols, _ := strconv.Atoi(c.Query("cols"))
	rows, _ := strconv.Atoi(c.Query("rows"))
	creds := s.deps.Credentials

	done := s.deps.Audit.Track(models.AuditKindShell, creds.Host, username(c))
	term, err := s.deps.Shells.OpenShell(ctx, creds, cols, rows)
	if err != nil {
		done(ctx, "", remote.Outcome(err), err.Error())
		s.logger.Warn("shell open failed", zap.String("host", creds.Host), zap.Error(err))
		_ = relay.SendError(ctx, conn, err.Error())
		_ = conn.Close(websocket.StatusNormalClosure, "shell unavailable")
		return
	}
	s.logger.Info("shell session started", zap.String("host", creds.Host), zap.String("user", username(c)))

	if err := relay.Run(ctx, conn, term, s.logger); err != nil {
		done(ctx, "", "error", err.Error())
		s.logger.Warn("shell session ended with error", zap.Error(err))
		return
	}
	done(ctx, "", "ok", "")
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
