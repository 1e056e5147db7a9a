// Package mcptools exposes the dashboard snapshot, the appliance overview
// and SMART diagnosis as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/audit"
	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/remote"
)

const (
	toolNameSnapshot = "dashboard_snapshot"
	toolNameStats    = "appliance_stats"
	toolNameSmart    = "disk_smart"

	auditUser = "mcp"
)

// Aggregator produces the dashboard data.
type Aggregator interface {
	ProduceSnapshot(ctx context.Context) (*models.Snapshot, error)
	Stats(ctx context.Context) (*models.ApplianceStats, error)
}

// Diagnoser reads SMART data from a disk on the appliance.
type Diagnoser interface {
	Diagnose(ctx context.Context, disk string, creds remote.Credentials, override string) (*remote.Diagnosis, error)
}

// Deps are the collaborators the tools call. Diagnoser and Audit may be nil.
type Deps struct {
	Aggregator  Aggregator
	Diagnoser   Diagnoser
	Credentials remote.Credentials
	Audit       *audit.Store
	Logger      *zap.Logger
}

// Registration pairs an MCP tool definition with its handler.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// Tools returns every tool registration. disk_smart is only offered when a
// diagnoser is configured.
func Tools(d Deps) []Registration {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	regs := []Registration{
		snapshotTool(d),
		statsTool(d),
	}
	if d.Diagnoser != nil {
		regs = append(regs, smartTool(d))
	}
	return regs
}

// NewServer builds an MCP server with every tool registered.
func NewServer(d Deps, version string) *server.MCPServer {
	s := server.NewMCPServer("nasdash", version, server.WithToolCapabilities(false))
	for _, r := range Tools(d) {
		s.AddTool(r.Tool, r.Handler)
	}
	return s
}

func snapshotTool(d Deps) Registration {
	tool := mcp.NewTool(toolNameSnapshot,
		mcp.WithDescription("Current dashboard telemetry: CPU usage and temperature, memory breakdown, dataset capacity, network throughput and GPU counters. Missing sources are reported as null."),
	)
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap, err := d.Aggregator.ProduceSnapshot(ctx)
		if err != nil {
			d.Logger.Warn("mcp snapshot failed", zap.Error(err))
			return errorResult(err.Error()), nil
		}
		return jsonResult(snap), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func statsTool(d Deps) Registration {
	tool := mcp.NewTool(toolNameStats,
		mcp.WithDescription("Storage appliance overview: uptime, load average, pool health and the disk inventory with temperatures."),
	)
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := d.Aggregator.Stats(ctx)
		if err != nil {
			d.Logger.Warn("mcp stats failed", zap.Error(err))
			return errorResult(err.Error()), nil
		}
		return jsonResult(stats), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func smartTool(d Deps) Registration {
	tool := mcp.NewTool(toolNameSmart,
		mcp.WithDescription("Read SMART health for one disk on the appliance over SSH. The access method is detected automatically unless type is given."),
		mcp.WithString("disk",
			mcp.Required(),
			mcp.Description("Device name under /dev, e.g. sda or nvme0n1"),
		),
		mcp.WithString("type",
			mcp.Description("smartctl -d access method to force, e.g. sat"),
		),
	)
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		disk := req.GetString("disk", "")
		method := req.GetString("type", "")
		if disk == "" {
			return errorResult("disk is required"), nil
		}

		done := d.Audit.Track(models.AuditKindSmart, disk, auditUser)
		diag, err := d.Diagnoser.Diagnose(ctx, disk, d.Credentials, method)
		if err != nil {
			done(ctx, method, remote.Outcome(err), err.Error())
			return errorResult(err.Error()), nil
		}
		done(ctx, diag.Method, diag.Kind(), "")

		if diag.Kind() == "smart" {
			return jsonResult(map[string]any{"type": "smart", "data": diag.Record}), nil
		}
		return jsonResult(map[string]any{"type": "raw", "data": diag.Raw}), nil
	}
	return Registration{Tool: tool, Handler: handler}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("error marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

func errorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultText(fmt.Sprintf("error: %s", msg))
}
