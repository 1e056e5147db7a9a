// Package models defines the canonical JSON shapes served by nasdash and the
// GORM model behind the audit trail.
package models

// Snapshot is one dashboard refresh. Every field is always present in the
// JSON encoding; values may be null and lists may be empty.
type Snapshot struct {
	SystemIP string      `json:"system_ip"`
	GPU      *GPU        `json:"gpu"`
	CPUUsage *float64    `json:"cpu_usage"`
	CPUTemp  *float64    `json:"cpu_temp"`
	Memory   *Memory     `json:"memory"`
	Disks    []DiskUsage `json:"disks"`
	Nets     []NetIO     `json:"nets"`
	Error    string      `json:"error,omitempty"`
}

// EmptySnapshot returns a well-formed snapshot with no data.
func EmptySnapshot(systemIP string) *Snapshot {
	return &Snapshot{
		SystemIP: systemIP,
		Disks:    []DiskUsage{},
		Nets:     []NetIO{},
	}
}

// Memory is the RAM breakdown. UsedPercent is nil when the total is unknown.
type Memory struct {
	Used         float64  `json:"used"`
	Total        float64  `json:"total"`
	UsedPercent  *float64 `json:"used_percent"`
	Apps         float64  `json:"apps"`
	Cache        float64  `json:"cache"`
	AppsPercent  float64  `json:"apps_percent"`
	CachePercent float64  `json:"cache_percent"`
}

// DiskUsage is the capacity of one dataset or filesystem.
type DiskUsage struct {
	Label       string  `json:"label"`
	Used        float64 `json:"used"`  // bytes
	Total       float64 `json:"total"` // bytes
	UsedPercent float64 `json:"used_percent"`
}

// NetIO is the current throughput of one interface in bytes per second.
type NetIO struct {
	Label string  `json:"label"`
	RX    float64 `json:"rx"`
	TX    float64 `json:"tx"`
}

// GPU is a one-shot read of the first GPU's counters.
type GPU struct {
	Utilization float64 `json:"utilization"`  // percent 0-100
	Temperature float64 `json:"temperature"`  // °C
	MemoryUsed  float64 `json:"memory_used"`  // MiB
	MemoryTotal float64 `json:"memory_total"` // MiB
}
