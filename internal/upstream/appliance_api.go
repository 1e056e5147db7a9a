package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vesaa/nasdash/internal/metrics"
)

// TrueNAS REST v2.0 endpoints used by the dashboard.
const (
	PathDataset          = "/api/v2.0/pool/dataset"
	PathDisk             = "/api/v2.0/disk"
	PathDiskTemperatures = "/api/v2.0/disk/temperatures"
	PathSystemInfo       = "/api/v2.0/system/info"
	PathPool             = "/api/v2.0/pool"
	PathReportingData    = "/api/v2.0/reporting/get_data"
)

// ErrNoData is returned when an upstream answered but carried nothing usable.
var ErrNoData = errors.New("no usable data")

// DatasetParams returns the query used to look up the dataset at mountpoint.
func DatasetParams(mountpoint string) map[string]string {
	return map[string]string{"mountpoint": mountpoint}
}

// DiskParams returns the query used to list every disk.
func DiskParams() map[string]string {
	return map[string]string{"limit": "0"}
}

// Datasets lists the datasets mounted at mountpoint.
func (c *ApplianceClient) Datasets(ctx context.Context, mountpoint string) (any, error) {
	return c.Get(ctx, PathDataset, DatasetParams(mountpoint))
}

// Disks lists the disk inventory.
func (c *ApplianceClient) Disks(ctx context.Context) ([]any, error) {
	raw, err := c.Get(ctx, PathDisk, DiskParams())
	if err != nil {
		return nil, err
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("truenas %s: %w", PathDisk, ErrNoData)
	}
	return list, nil
}

// DiskTemperatures returns the current temperature per disk name.
func (c *ApplianceClient) DiskTemperatures(ctx context.Context) (map[string]float64, error) {
	raw, err := c.Post(ctx, PathDiskTemperatures, map[string]any{})
	if err != nil {
		return nil, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("truenas %s: %w", PathDiskTemperatures, ErrNoData)
	}
	temps := make(map[string]float64, len(obj))
	for name, v := range obj {
		if f, ok := metrics.ToFloat(v); ok {
			temps[name] = f
		}
	}
	return temps, nil
}

// SystemInfo returns the raw system/info object.
func (c *ApplianceClient) SystemInfo(ctx context.Context) (map[string]any, error) {
	raw, err := c.Get(ctx, PathSystemInfo, nil)
	if err != nil {
		return nil, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("truenas %s: %w", PathSystemInfo, ErrNoData)
	}
	return obj, nil
}

// Pools returns the raw pool list.
func (c *ApplianceClient) Pools(ctx context.Context) ([]any, error) {
	raw, err := c.Get(ctx, PathPool, nil)
	if err != nil {
		return nil, err
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("truenas %s: %w", PathPool, ErrNoData)
	}
	return list, nil
}

// InterfaceStats queries the appliance's own reporting graph for one network
// interface and returns the latest {rx, tx} sample in the graph's units
// (kilobits per second).
func (c *ApplianceClient) InterfaceStats(ctx context.Context, identifier string) (metrics.Sample, error) {
	body := map[string]any{
		"graphs": []map[string]any{{"name": "interface", "identifier": identifier}},
	}
	raw, err := c.postSlow(ctx, PathReportingData, body)
	if err != nil {
		return nil, err
	}
	sample, ok := parseInterfaceGraph(raw)
	if !ok {
		return nil, fmt.Errorf("truenas reporting %s: %w", identifier, ErrNoData)
	}
	return sample, nil
}

// parseInterfaceGraph locates the rx and tx columns by legend name and reads
// the most recent row carrying a value for each.
func parseInterfaceGraph(raw any) (metrics.Sample, bool) {
	graphs, ok := raw.([]any)
	if !ok || len(graphs) == 0 {
		return nil, false
	}
	graph, ok := graphs[0].(map[string]any)
	if !ok {
		return nil, false
	}
	legend, _ := graph["legend"].([]any)
	rows, _ := graph["data"].([]any)
	if len(legend) == 0 || len(rows) == 0 {
		return nil, false
	}

	rxIdx, txIdx := -1, -1
	for i, l := range legend {
		name, _ := l.(string)
		name = strings.ToLower(name)
		switch {
		case strings.Contains(name, "rx") || strings.Contains(name, "received"):
			rxIdx = i
		case strings.Contains(name, "tx") || strings.Contains(name, "sent"):
			txIdx = i
		}
	}
	if rxIdx == -1 && txIdx == -1 && len(legend) == 2 {
		rxIdx, txIdx = 0, 1
	}
	if rxIdx == -1 || txIdx == -1 {
		return nil, false
	}

	rx, okR := latestColumn(rows, rxIdx)
	tx, okT := latestColumn(rows, txIdx)
	if !okR || !okT {
		return nil, false
	}
	return metrics.Sample{"rx": rx, "tx": tx}, true
}

// latestColumn scans rows newest-first for a non-null value in column idx.
func latestColumn(rows []any, idx int) (float64, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		row, ok := rows[i].([]any)
		if !ok || idx >= len(row) {
			continue
		}
		if v, ok := metrics.ToFloat(row[idx]); ok {
			return v, true
		}
	}
	return 0, false
}
