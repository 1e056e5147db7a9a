package models

// ApplianceStats is the storage appliance overview: uptime, load, pool
// health and the disk inventory.
type ApplianceStats struct {
	Uptime any          `json:"uptime"`
	Load   any          `json:"load"`
	Pools  []PoolStatus `json:"pools"`
	Disks  []DiskInfo   `json:"disks"`
}

// PoolStatus is the health of one storage pool.
type PoolStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// DiskInfo is one entry of the appliance disk inventory.
type DiskInfo struct {
	Name        string   `json:"name"`
	Model       string   `json:"model"`
	Serial      string   `json:"serial"`
	Size        int64    `json:"size"`
	Temp        *float64 `json:"temp"`
	Type        string   `json:"type"` // HDD, SSD, NVMe
	Description string   `json:"description"`
}
