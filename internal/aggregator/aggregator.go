// Package aggregator builds the dashboard snapshot by querying every
// upstream concurrently and keeping whatever answers in time.
package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/cache"
	"github.com/vesaa/nasdash/internal/config"
	"github.com/vesaa/nasdash/internal/metrics"
	"github.com/vesaa/nasdash/internal/models"
)

const (
	DefaultWorkers     = 10
	DefaultTaskTimeout = 2500 * time.Millisecond

	defaultTTLDatasets = 60 * time.Second
	defaultTTLDisks    = 300 * time.Second
	defaultTTLNet      = 3 * time.Second
)

// Appliance is the subset of upstream.ApplianceClient the orchestrator uses.
type Appliance interface {
	BaseURL() (string, error)
	Datasets(ctx context.Context, mountpoint string) (any, error)
	Disks(ctx context.Context) ([]any, error)
	DiskTemperatures(ctx context.Context) (map[string]float64, error)
	SystemInfo(ctx context.Context) (map[string]any, error)
	Pools(ctx context.Context) ([]any, error)
	InterfaceStats(ctx context.Context, identifier string) (metrics.Sample, error)
}

// MetricsDaemon is the subset of upstream.MetricsClient the orchestrator uses.
type MetricsDaemon interface {
	Latest(ctx context.Context, chart string) (metrics.Sample, bool)
}

// GPUReader is an optional one-shot GPU read.
type GPUReader interface {
	Read(ctx context.Context) (*models.GPU, bool)
}

// Charts names the metrics-daemon charts read every cycle.
type Charts struct {
	CPU     string
	RAM     string
	CPUTemp string
}

// Options configures an Orchestrator. Zero durations and counts select the
// defaults.
type Options struct {
	Appliance  Appliance
	Metrics    MetricsDaemon
	GPU        GPUReader
	Cache      *cache.Cache
	Charts     Charts
	Datasets   []config.Dataset
	Interfaces []config.Interface
	SystemIP   string

	TTLDatasets time.Duration
	TTLDisks    time.Duration
	TTLNet      time.Duration
	Workers     int
	TaskTimeout time.Duration

	Logger *zap.Logger
}

// Orchestrator produces snapshots and appliance stats.
type Orchestrator struct {
	opts   Options
	cache  *cache.Cache
	logger *zap.Logger
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.DefaultMaxEntries, opts.Logger)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	if opts.TTLDatasets <= 0 {
		opts.TTLDatasets = defaultTTLDatasets
	}
	if opts.TTLDisks <= 0 {
		opts.TTLDisks = defaultTTLDisks
	}
	if opts.TTLNet <= 0 {
		opts.TTLNet = defaultTTLNet
	}
	return &Orchestrator{
		opts:   opts,
		cache:  opts.Cache,
		logger: opts.Logger.With(zap.String("component", "aggregator")),
	}
}

// FromConfig maps the runtime configuration onto Options.
func FromConfig(cfg *config.Config) Options {
	return Options{
		Charts: Charts{
			CPU:     cfg.NetdataChartCPU,
			RAM:     cfg.NetdataChartRAM,
			CPUTemp: cfg.NetdataChartCPUTemp,
		},
		Datasets:    cfg.Datasets,
		Interfaces:  cfg.Interfaces,
		SystemIP:    cfg.TrueNASDisplayIP,
		TTLDatasets: cfg.CacheTTLDatasets,
		TTLDisks:    cfg.CacheTTLDisks,
		TTLNet:      cfg.CacheTTLNet,
		Workers:     cfg.Workers,
		TaskTimeout: cfg.TaskTimeout,
	}
}
