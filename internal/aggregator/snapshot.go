package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/cache"
	"github.com/vesaa/nasdash/internal/cascade"
	"github.com/vesaa/nasdash/internal/metrics"
	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/upstream"
)

// Net source tiers, in preference order.
const (
	tierChart     = "chart"
	tierIface     = "iface"
	tierReporting = "reporting"
)

var (
	errAbsent     = errors.New("no answer")
	errIncomplete = errors.New("incomplete sample")
)

type sampleFuture = future[metrics.Sample]

type netTasks struct {
	label string
	tiers []*sampleFuture
	names []string
}

// ProduceSnapshot runs one aggregation cycle. It returns an error only when
// the appliance is not configured or the cycle itself failed; the snapshot
// is well-formed in every case.
func (o *Orchestrator) ProduceSnapshot(ctx context.Context) (snap *models.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("snapshot cycle panicked", zap.String("panic", fmt.Sprint(r)))
			snap = models.EmptySnapshot(o.opts.SystemIP)
			snap.Error = fmt.Sprintf("unexpected error: %v", r)
			err = fmt.Errorf("snapshot: %v", r)
		}
	}()

	if _, err := o.opts.Appliance.BaseURL(); err != nil {
		empty := models.EmptySnapshot(o.opts.SystemIP)
		empty.Error = err.Error()
		return empty, err
	}

	start := time.Now()
	p := newPool(ctx, o.opts.Workers, o.opts.TaskTimeout, o.logger)

	cpuF := o.chart(p, o.opts.Charts.CPU)
	ramF := o.chart(p, o.opts.Charts.RAM)
	tempF := o.chart(p, o.opts.Charts.CPUTemp)

	nets := make([]netTasks, 0, len(o.opts.Interfaces))
	for _, iface := range o.opts.Interfaces {
		nt := netTasks{label: iface.Label}
		if iface.Chart != "" {
			nt.tiers = append(nt.tiers, o.chart(p, iface.Chart))
			nt.names = append(nt.names, tierChart)
		}
		if iface.Name != "" {
			nt.tiers = append(nt.tiers, o.chart(p, "net."+iface.Name))
			nt.names = append(nt.names, tierIface)
			nt.tiers = append(nt.tiers, o.reporting(p, iface.Name))
			nt.names = append(nt.names, tierReporting)
		}
		nets = append(nets, nt)
	}

	diskFs := make([]*future[*models.DiskUsage], 0, len(o.opts.Datasets))
	for _, ds := range o.opts.Datasets {
		diskFs = append(diskFs, o.dataset(p, ds.Mountpoint, ds.Label))
	}

	var gpuF *future[*models.GPU]
	if o.opts.GPU != nil {
		gpuF = submit(p, "gpu", o.opts.GPU.Read)
	}

	snap = models.EmptySnapshot(o.opts.SystemIP)

	if s, ok := cpuF.await(ctx, o.logger); ok {
		if v, ok := metrics.CPUUsage(s); ok {
			snap.CPUUsage = &v
		}
	}
	if s, ok := ramF.await(ctx, o.logger); ok {
		if m, ok := metrics.Memory(s); ok {
			snap.Memory = m
		}
	}
	if s, ok := tempF.await(ctx, o.logger); ok {
		if v, ok := metrics.CPUTemp(s); ok {
			snap.CPUTemp = &v
		}
	}

	for _, f := range diskFs {
		if d, ok := f.await(ctx, o.logger); ok && d != nil {
			snap.Disks = append(snap.Disks, *d)
		}
	}

	for _, nt := range nets {
		out, err := cascade.First(ctx, o.netCandidates(nt), nil)
		if err != nil {
			o.logger.Debug("no net source", zap.String("label", nt.label), zap.Error(err))
			continue
		}
		o.logger.Debug("net source selected", zap.String("label", nt.label), zap.String("tier", out.Winner))
		snap.Nets = append(snap.Nets, *out.Value)
	}

	if g, ok := gpuF.await(ctx, o.logger); ok && g != nil {
		snap.GPU = g
	}

	o.logger.Debug("snapshot produced",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("disks", len(snap.Disks)),
		zap.Int("nets", len(snap.Nets)),
	)
	return snap, nil
}

// netCandidates awaits the tiers of one interface in preference order.
// Tiers after the first usable one are never awaited.
func (o *Orchestrator) netCandidates(nt netTasks) []cascade.Candidate[*models.NetIO] {
	candidates := make([]cascade.Candidate[*models.NetIO], 0, len(nt.tiers))
	for i, f := range nt.tiers {
		candidates = append(candidates, cascade.Candidate[*models.NetIO]{
			Name: nt.names[i],
			Try: func(ctx context.Context) (*models.NetIO, error) {
				s, ok := f.await(ctx, o.logger)
				if !ok {
					return nil, errAbsent
				}
				n, ok := metrics.NetIO(s, nt.label)
				if !ok {
					return nil, errIncomplete
				}
				return n, nil
			},
		})
	}
	return candidates
}

// chart submits a metrics-daemon read. An empty chart name yields no task.
func (o *Orchestrator) chart(p *pool, chart string) *sampleFuture {
	if chart == "" || o.opts.Metrics == nil {
		return nil
	}
	return submit(p, "chart:"+chart, func(ctx context.Context) (metrics.Sample, bool) {
		return o.opts.Metrics.Latest(ctx, chart)
	})
}

// reporting submits the appliance's own interface graph query, cached for
// the net lifetime.
func (o *Orchestrator) reporting(p *pool, iface string) *sampleFuture {
	key := cache.Key(upstream.PathReportingData, map[string]string{"identifier": iface})
	return submit(p, "reporting:"+iface, func(ctx context.Context) (metrics.Sample, bool) {
		s, err := cache.GetOrFetch(ctx, o.cache, key, o.opts.TTLNet, func(ctx context.Context) (metrics.Sample, error) {
			return o.opts.Appliance.InterfaceStats(ctx, iface)
		})
		if err != nil {
			o.logger.Debug("interface reporting unavailable", zap.String("iface", iface), zap.Error(err))
			return nil, false
		}
		return s, true
	})
}

// dataset submits a cached capacity lookup.
func (o *Orchestrator) dataset(p *pool, mountpoint, label string) *future[*models.DiskUsage] {
	key := cache.Key(upstream.PathDataset, upstream.DatasetParams(mountpoint))
	return submit(p, "dataset:"+mountpoint, func(ctx context.Context) (*models.DiskUsage, bool) {
		raw, err := cache.GetOrFetch(ctx, o.cache, key, o.opts.TTLDatasets, func(ctx context.Context) (any, error) {
			return o.opts.Appliance.Datasets(ctx, mountpoint)
		})
		if err != nil {
			o.logger.Warn("dataset lookup failed", zap.String("mountpoint", mountpoint), zap.Error(err))
			return nil, false
		}
		return metrics.DatasetUsage(raw, mountpoint, label)
	})
}
