// Package metrics turns raw labeled samples from the metrics daemon or the
// storage appliance into canonical dashboard metrics. Every function is pure
// and reports a missing input as absent (ok == false) rather than an error.
package metrics

import (
	"math"
	"strconv"

	"github.com/vesaa/nasdash/internal/models"
)

// Sample maps a dimension label (used, idle, rx, ...) to its value at one
// sampling instant.
type Sample map[string]float64

// firstOf returns the first label present in s, trying names in order.
func firstOf(s Sample, names ...string) (float64, bool) {
	for _, n := range names {
		if v, ok := s[n]; ok {
			return v, true
		}
	}
	return 0, false
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// CPUUsage prefers 100 - idle, then user + system.
func CPUUsage(s Sample) (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	if idle, ok := s["idle"]; ok {
		return clampPercent(100 - idle), true
	}
	user, okU := s["user"]
	system, okS := s["system"]
	if okU && okS {
		return clampPercent(user + system), true
	}
	return 0, false
}

// CPUTemp passes the "input" dimension through unchanged.
func CPUTemp(s Sample) (float64, bool) {
	v, ok := s["input"]
	return v, ok
}

// Memory builds the RAM breakdown. "used" (or "used_ram") is required.
// The total is the sum of used, free, cached and buffers; the used figure is
// total - free when free is known, so it includes cache and buffers.
func Memory(s Sample) (*models.Memory, bool) {
	used, ok := firstOf(s, "used", "used_ram")
	if !ok {
		return nil, false
	}
	free, hasFree := s["free"]
	cached := s["cached"]
	buffers := s["buffers"]

	total := used + cached + buffers
	if hasFree {
		total += free
	}
	if total <= 0 {
		total = used
	}

	calcUsed := used
	if hasFree {
		calcUsed = total - free
	}
	cache := cached + buffers

	m := &models.Memory{
		Used:  nonNegative(calcUsed),
		Total: nonNegative(total),
		Apps:  nonNegative(used),
		Cache: nonNegative(cache),
	}
	if total > 0 {
		pct := clampPercent(calcUsed / total * 100)
		m.UsedPercent = &pct
		m.AppsPercent = clampPercent(used / total * 100)
		m.CachePercent = clampPercent(cache / total * 100)
	}
	return m, true
}

// DiskUsage needs "used" and one of "avail" or "free".
func DiskUsage(s Sample, label string) (*models.DiskUsage, bool) {
	used, okU := s["used"]
	avail, okA := firstOf(s, "avail", "free")
	if !okU || !okA {
		return nil, false
	}
	return diskUsage(label, used, avail), true
}

func diskUsage(label string, used, avail float64) *models.DiskUsage {
	total := used + avail
	d := &models.DiskUsage{
		Label: label,
		Used:  nonNegative(used),
		Total: nonNegative(total),
	}
	if total > 0 {
		d.UsedPercent = clampPercent(used / total * 100)
	}
	return d
}

// NetIO accepts received/sent or rx/tx in kilobits per second and converts
// to bytes per second. Counters may report signed deltas, so the magnitude
// is used.
func NetIO(s Sample, label string) (*models.NetIO, bool) {
	rx, okR := firstOf(s, "received", "rx")
	tx, okT := firstOf(s, "sent", "tx")
	if !okR || !okT {
		return nil, false
	}
	return &models.NetIO{
		Label: label,
		RX:    kilobitsToBytes(rx),
		TX:    kilobitsToBytes(tx),
	}, true
}

func kilobitsToBytes(v float64) float64 {
	return math.Abs(v) * 1000 / 8
}

// DatasetUsage finds the dataset mounted at mountpoint in an appliance
// dataset listing and reports its capacity in bytes. used and available may
// be plain numbers or {"parsed": n, "value": "n"} objects.
func DatasetUsage(raw any, mountpoint, label string) (*models.DiskUsage, bool) {
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	for _, item := range list {
		ds, ok := item.(map[string]any)
		if !ok || ds["mountpoint"] != mountpoint {
			continue
		}
		used, okU := propertyValue(ds["used"])
		avail, okA := propertyValue(ds["available"])
		if !okU || !okA {
			return nil, false
		}
		return diskUsage(label, used, avail), true
	}
	return nil, false
}

// propertyValue resolves an appliance property that may be wrapped in an
// object carrying "parsed" and "value" (or "rawvalue") forms.
func propertyValue(v any) (float64, bool) {
	if obj, ok := v.(map[string]any); ok {
		for _, k := range []string{"parsed", "value", "rawvalue"} {
			if f, ok := ToFloat(obj[k]); ok {
				return f, true
			}
		}
		return 0, false
	}
	return ToFloat(v)
}

// ToFloat converts decoded JSON numbers and numeric strings.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
