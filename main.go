// nasdash — Home-server dashboard for TrueNAS + Netdata.
// Author: vesaa | License: MIT | https://github.com/vesaa/nasdash
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/aggregator"
	"github.com/vesaa/nasdash/internal/audit"
	"github.com/vesaa/nasdash/internal/cache"
	"github.com/vesaa/nasdash/internal/catalog"
	"github.com/vesaa/nasdash/internal/config"
	"github.com/vesaa/nasdash/internal/hostinfo"
	"github.com/vesaa/nasdash/internal/logging"
	"github.com/vesaa/nasdash/internal/mcptools"
	"github.com/vesaa/nasdash/internal/remote"
	"github.com/vesaa/nasdash/internal/server"
	"github.com/vesaa/nasdash/internal/upstream"
)

const asciiLogo = `
 ███╗   ██╗ █████╗ ███████╗██████╗  █████╗ ███████╗██╗  ██╗
 ████╗  ██║██╔══██╗██╔════╝██╔══██╗██╔══██╗██╔════╝██║  ██║
 ██╔██╗ ██║███████║███████╗██║  ██║███████║███████╗███████║
 ██║╚██╗██║██╔══██║╚════██║██║  ██║██╔══██║╚════██║██╔══██║
 ██║ ╚████║██║  ██║███████║██████╔╝██║  ██║███████║██║  ██║
 ╚═╝  ╚═══╝╚═╝  ╚═╝╚══════╝╚═════╝ ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Print(asciiLogo)
	fmt.Printf("  ► nasdash %s  |  Author: vesaa  |  Mode: %s\n\n", version, mode)
}

// app holds the components shared by every subcommand.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	metricsd   *upstream.MetricsClient
	exec       *remote.SSHExecutor
	creds      remote.Credentials
	aggregator *aggregator.Orchestrator
	diagnoser  *remote.Diagnoser
}

// loadConfig honours --config when given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// buildApp wires the upstream clients, cache, orchestrator and diagnoser.
func buildApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	appliance := upstream.NewApplianceClient(upstream.ApplianceConfig{
		Host:      cfg.TrueNASHost,
		Port:      cfg.TrueNASPort,
		Scheme:    cfg.TrueNASScheme,
		APIKey:    cfg.TrueNASAPIKey,
		VerifySSL: cfg.TrueNASVerifySSL,
	}, logger)
	metricsd := upstream.NewMetricsClient(upstream.MetricsConfig{
		URL:          cfg.NetdataURL,
		Host:         cfg.NetdataHost,
		Port:         cfg.NetdataPort,
		Scheme:       cfg.NetdataScheme,
		BasePath:     cfg.NetdataBasePath,
		BearerToken:  cfg.NetdataBearerToken,
		VerifySSL:    cfg.NetdataVerifySSL,
		DataEndpoint: cfg.NetdataDataEndpoint,
	}, logger)

	key, err := cfg.SSHPrivateKey()
	if err != nil {
		return nil, err
	}
	creds := remote.Credentials{
		Host:          cfg.SSHHost,
		Port:          cfg.SSHPort,
		User:          cfg.SSHUser,
		Password:      cfg.SSHPassword,
		PrivateKeyPEM: key,
		SudoPassword:  cfg.SSHSudoPassword,
	}
	exec := remote.NewSSHExecutor(cfg.SSHDialTimeout, cfg.SSHExecTimeout, logger)

	opts := aggregator.FromConfig(cfg)
	opts.Appliance = appliance
	opts.Metrics = metricsd
	opts.Cache = cache.New(cfg.CacheMaxEntries, logger)
	opts.SystemIP = hostinfo.SystemIP(cfg.TrueNASDisplayIP)
	opts.Logger = logger
	if cfg.GPUEnabled {
		opts.GPU = remote.NewGPUProbe(exec, creds, logger)
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		metricsd:   metricsd,
		exec:       exec,
		creds:      creds,
		aggregator: aggregator.New(opts),
		diagnoser:  remote.NewDiagnoser(exec, cfg.SmartctlPath, logger),
	}, nil
}

// openAudit opens the audit store; a failure disables the trail.
func (a *app) openAudit() *audit.Store {
	store, err := audit.Open(a.cfg.DBPath, a.logger)
	if err != nil {
		a.logger.Warn("audit trail disabled", zap.Error(err))
		return nil
	}
	return store
}

func (a *app) mcpDeps(store *audit.Store) mcptools.Deps {
	return mcptools.Deps{
		Aggregator:  a.aggregator,
		Diagnoser:   a.diagnoser,
		Credentials: a.creds,
		Audit:       store,
		Logger:      a.logger,
	}
}

// pruneLoop deletes expired audit entries every hour until ctx ends.
func pruneLoop(ctx context.Context, store *audit.Store, retention time.Duration) {
	if store == nil || retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		_, _ = store.Prune(ctx, time.Now().Add(-retention))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	root := &cobra.Command{
		Use:   "nasdash",
		Short: "nasdash — home-server dashboard for TrueNAS + Netdata",
		Long: `nasdash is a single-binary dashboard for a home NAS. It aggregates CPU,
memory, storage, network, GPU and SMART disk health from the TrueNAS API,
Netdata and SSH, and degrades gracefully when any source is missing.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to config.yaml (default ./config.yaml or ~/.nasdash/config.yaml)")

	// ── serve subcommand ──────────────────────────────────────────────────────
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVE")

			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			store := a.openAudit()
			if store != nil {
				defer store.Close()
			}
			apps, err := catalog.Load(a.cfg.AppsFile)
			if err != nil {
				return fmt.Errorf("loading apps: %w", err)
			}

			mcpSrv := mcptools.NewServer(a.mcpDeps(store), version)
			srv := server.New(server.Deps{
				Aggregator:  a.aggregator,
				Netdata:     a.metricsd,
				Diagnoser:   a.diagnoser,
				Shells:      server.SSHShells{Exec: a.exec},
				Credentials: a.creds,
				Catalog:     apps,
				CatalogHost: a.cfg.TrueNASDisplayIP,
				Audit:       store,
				Auth:        server.NewAuth(a.cfg.JWTSecret, a.cfg.AdminUser, a.cfg.AdminPass),
				MCP:         mcpserver.NewStreamableHTTPServer(mcpSrv),
				Version:     version,
				Logger:      a.logger,
			})

			gin.SetMode(gin.ReleaseMode)
			engine := gin.New()
			engine.Use(gin.Recovery(), server.CORSMiddleware())
			srv.RegisterRoutes(engine)
			server.RegisterStaticFiles(engine)

			addr := fmt.Sprintf("%s:%d", a.cfg.ServerHost, a.cfg.Port)
			fmt.Printf("  ✓ Dashboard      → http://%s\n", addr)
			fmt.Printf("  ✓ TrueNAS        → %s\n", orUnset(a.cfg.TrueNASHost))
			fmt.Printf("  ✓ Netdata        → %s\n", orUnset(a.metricsd.BaseURL()))
			fmt.Printf("  ✓ MCP endpoint   → http://%s/mcp\n\n", addr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go pruneLoop(ctx, store, a.cfg.AuditRetention)

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           engine,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				fmt.Println("\n  → Shutting down gracefully…")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}

	// ── snapshot subcommand ───────────────────────────────────────────────────
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print one dashboard snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			snap, err := a.aggregator.ProduceSnapshot(cmd.Context())
			if perr := printJSON(snap); perr != nil {
				return perr
			}
			return err
		},
	}

	// ── smart subcommand ──────────────────────────────────────────────────────
	smartCmd := &cobra.Command{
		Use:   "smart <disk>",
		Short: "Read SMART health for one appliance disk over SSH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			method, _ := cmd.Flags().GetString("type")
			diag, err := a.diagnoser.Diagnose(cmd.Context(), args[0], a.creds, method)
			if err != nil {
				return err
			}
			if diag.Kind() == "smart" {
				return printJSON(map[string]any{"type": "smart", "data": diag.Record})
			}
			return printJSON(map[string]any{"type": "raw", "data": diag.Raw})
		},
	}
	smartCmd.Flags().String("type", "", "smartctl -d access method to force, e.g. sat")

	// ── mcp subcommand ────────────────────────────────────────────────────────
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			store := a.openAudit()
			if store != nil {
				defer store.Close()
			}
			return mcpserver.ServeStdio(mcptools.NewServer(a.mcpDeps(store), version))
		},
	}

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print nasdash version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nasdash %s  |  Author: vesaa\n", version)
		},
	}

	root.AddCommand(serveCmd, snapshotCmd, smartCmd, mcpCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}
