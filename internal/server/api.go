// Package server provides the nasdash Gin-based REST API.
// Routes are split into two groups:
//   - Public: dashboard telemetry, appliance stats, app catalogue, login.
//   - JWT-protected: SMART diagnosis, audit trail, the SSH relay and MCP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/audit"
	"github.com/vesaa/nasdash/internal/catalog"
	"github.com/vesaa/nasdash/internal/hostinfo"
	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/remote"
	"github.com/vesaa/nasdash/internal/upstream"
)

// Metrics-daemon endpoints forwarded by the passthrough routes.
const (
	netdataChartsPath   = "/api/v1/charts"
	netdataContextsPath = "/api/v3/contexts"
)

// Aggregator produces the dashboard snapshot and the appliance overview.
type Aggregator interface {
	ProduceSnapshot(ctx context.Context) (*models.Snapshot, error)
	Stats(ctx context.Context) (*models.ApplianceStats, error)
}

// Passthrough forwards raw metrics-daemon reads.
type Passthrough interface {
	Get(ctx context.Context, path string, params map[string]string) (any, bool)
}

// Diagnoser reads SMART data from a disk on the appliance.
type Diagnoser interface {
	Diagnose(ctx context.Context, disk string, creds remote.Credentials, override string) (*remote.Diagnosis, error)
}

// Deps are the collaborators behind the routes. Everything except
// Aggregator and Auth may be nil; the matching routes then answer 503 or
// are not mounted.
type Deps struct {
	Aggregator  Aggregator
	Netdata     Passthrough
	Diagnoser   Diagnoser
	Shells      ShellOpener
	Credentials remote.Credentials
	Catalog     *catalog.Catalog
	CatalogHost string
	Audit       *audit.Store
	Auth        *Auth
	MCP         http.Handler
	Version     string
	Logger      *zap.Logger
}

// Server holds the route dependencies.
type Server struct {
	deps    Deps
	logger  *zap.Logger
	started time.Time
}

// New returns a Server.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Catalog == nil {
		d.Catalog = catalog.Default()
	}
	return &Server{
		deps:    d,
		logger:  d.Logger.With(zap.String("component", "server")),
		started: time.Now(),
	}
}

// CORSMiddleware allows the dashboard to be served from another origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RegisterRoutes wires up the API on the given engine.
//
//	Public:    /api/metrics, /api/stats, /api/netdata/*, /api/apps, /api/health, POST /api/login
//	Protected: /api/disks/:name/smart, /api/audit, /ws/ssh, /mcp
func (s *Server) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// ── Public endpoints ──────────────────────────────────────────────────────
	api.POST("/login", s.deps.Auth.handleLogin)
	api.GET("/health", s.handleHealth)
	api.GET("/metrics", s.handleMetrics)
	api.GET("/stats", s.handleStats)
	api.GET("/netdata/charts", s.handlePassthrough(netdataChartsPath))
	api.GET("/netdata/contexts", s.handlePassthrough(netdataContextsPath))
	api.GET("/apps", s.handleApps)

	// ── JWT-protected endpoints ───────────────────────────────────────────────
	jwtAuth := s.deps.Auth.JWTMiddleware()
	auth := api.Group("/", jwtAuth)
	{
		auth.GET("/disks/:name/smart", s.handleSmart)
		auth.POST("/disks/:name/smart", s.handleSmart)
		auth.GET("/audit", s.handleAudit)
	}

	r.GET("/ws/ssh", jwtAuth, s.handleShell)

	if s.deps.MCP != nil {
		r.Any("/mcp", jwtAuth, gin.WrapH(s.deps.MCP))
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

// handleMetrics returns one dashboard snapshot. A missing appliance host is
// reported as 500 with the empty snapshot as body.
func (s *Server) handleMetrics(c *gin.Context) {
	snap, err := s.deps.Aggregator.ProduceSnapshot(c.Request.Context())
	if err != nil {
		s.logger.Warn("snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, snap)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleStats returns the appliance overview.
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.deps.Aggregator.Stats(c.Request.Context())
	if err != nil {
		s.logger.Warn("stats failed", zap.Error(err))
		var upErr *upstream.UpstreamError
		switch {
		case upstream.IsConfiguration(err):
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		case errors.As(err, &upErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to reach TrueNAS", "details": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Unexpected error", "details": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handlePassthrough forwards a metrics-daemon endpoint; an absent answer is
// an empty object.
func (s *Server) handlePassthrough(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Netdata == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		data, ok := s.deps.Netdata.Get(c.Request.Context(), path, nil)
		if !ok || data == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, data)
	}
}

// handleApps returns the app launcher catalogue with links resolved
// against the appliance address.
func (s *Server) handleApps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": s.deps.Catalog.Resolve(s.deps.CatalogHost)})
}

// handleHealth reports the dashboard process and its host.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.deps.Version,
		"time":    time.Now().UTC(),
		"uptime":  int64(time.Since(s.started).Seconds()),
		"host":    hostinfo.Collect(c.Request.Context()),
	})
}

// handleAudit lists recent remote operations.
//
//	GET /api/audit?kind=smart&target=sda&limit=20
func (s *Server) handleAudit(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit trail disabled"})
		return
	}
	f := audit.Filter{
		Kind:   models.AuditKind(c.Query("kind")),
		Target: c.Query("target"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}
	recs, err := s.deps.Audit.Recent(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}
