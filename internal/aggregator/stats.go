package aggregator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vesaa/nasdash/internal/cache"
	"github.com/vesaa/nasdash/internal/metrics"
	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/upstream"
)

// Stats returns the appliance overview. System info and pools are required;
// a failure of either is returned. The disk inventory is best effort.
func (o *Orchestrator) Stats(ctx context.Context) (*models.ApplianceStats, error) {
	if _, err := o.opts.Appliance.BaseURL(); err != nil {
		return nil, err
	}

	var (
		info  map[string]any
		pools []any
		disks []models.DiskInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = o.opts.Appliance.SystemInfo(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		pools, err = o.opts.Appliance.Pools(gctx)
		return err
	})
	g.Go(func() error {
		disks = o.DiskInventory(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.ApplianceStats{
		Uptime: firstValue(info, "uptime", "uptime_seconds"),
		Load:   firstValue(info, "loadavg", "load_avg", "load"),
		Pools:  PoolStatuses(pools),
		Disks:  disks,
	}, nil
}

// DiskInventory lists the appliance disks with their current temperature.
// The inventory is cached for the disk lifetime; temperatures are fetched
// every call and tolerated missing. It returns nil when the inventory is
// unavailable.
func (o *Orchestrator) DiskInventory(ctx context.Context) []models.DiskInfo {
	key := cache.Key(upstream.PathDisk, upstream.DiskParams())
	raw, err := cache.GetOrFetch(ctx, o.cache, key, o.opts.TTLDisks, o.opts.Appliance.Disks)
	if err != nil {
		o.logger.Warn("disk inventory unavailable", zap.Error(err))
		return nil
	}
	temps, err := o.opts.Appliance.DiskTemperatures(ctx)
	if err != nil {
		o.logger.Warn("disk temperatures unavailable", zap.Error(err))
		temps = nil
	}

	out := make([]models.DiskInfo, 0, len(raw))
	for _, item := range raw {
		d, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(d, "name")
		if name == "" {
			continue
		}
		model := stringField(d, "model")
		if model == "" {
			model = "Unknown Model"
		}
		size, _ := metrics.ToFloat(d["size"])
		info := models.DiskInfo{
			Name:        name,
			Model:       model,
			Serial:      stringField(d, "serial"),
			Size:        int64(size),
			Type:        DiskType(name, model, stringField(d, "type")),
			Description: stringField(d, "description"),
		}
		if t, ok := temps[name]; ok {
			info.Temp = &t
		}
		out = append(out, info)
	}
	return out
}

// DiskType classifies a disk as SSD, NVMe or HDD from the appliance's type
// field, the model string and the device name.
func DiskType(name, model, apiType string) string {
	lname, lmodel := strings.ToLower(name), strings.ToLower(model)
	switch {
	case apiType == "SSD" || strings.Contains(lmodel, "ssd"):
		return "SSD"
	case strings.Contains(lname, "nvme") || strings.Contains(lname, "nvd") || strings.Contains(lmodel, "nvme"):
		return "NVMe"
	default:
		return "HDD"
	}
}

// PoolStatuses normalises the appliance pool list. A boolean health flag
// maps to ONLINE/OFFLINE; anything else is upper-cased.
func PoolStatuses(pools []any) []models.PoolStatus {
	out := make([]models.PoolStatus, 0, len(pools))
	for _, item := range pools {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := firstValue(p, "name", "pool_name")
		if name == nil {
			name = "Unknown"
		}
		status := firstValue(p, "status", "healthy", "status_description")
		var text string
		switch v := status.(type) {
		case nil:
			text = "UNKNOWN"
		case bool:
			text = "OFFLINE"
			if v {
				text = "ONLINE"
			}
		default:
			text = strings.ToUpper(fmt.Sprint(v))
		}
		out = append(out, models.PoolStatus{Name: fmt.Sprint(name), Status: text})
	}
	return out
}

// firstValue returns the first present, non-empty field. A false boolean is
// returned only when no later field has a value.
func firstValue(m map[string]any, keys ...string) any {
	var lastBool any
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
		case bool:
			if !t {
				lastBool = t
				continue
			}
		}
		return v
	}
	return lastBool
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
