package models

// SmartRecord is the canonical SMART health record of one disk, built from
// either the ATA attribute table or the NVMe health-information log.
type SmartRecord struct {
	Disk          string `json:"disk"`
	Model         string `json:"model"`
	Serial        string `json:"serial"`
	Firmware      string `json:"firmware"`
	Capacity      string `json:"capacity"`
	CapacityBytes int64  `json:"capacity_bytes"`
	Interface     string `json:"interface"`
	MediaType     string `json:"media_type"`

	// Passed is nil when the device gave no verdict.
	Passed      *bool    `json:"passed"`
	Temperature *float64 `json:"temperature"`

	PowerOnHours  *int64 `json:"power_on_hours"`
	PowerCycles   *int64 `json:"power_cycles"`
	ErrorLogCount *int64 `json:"error_log_count"`

	Attributes []SmartAttribute `json:"attributes"`
	SelfTest   *SelfTest        `json:"self_test"`

	// DeviceTypeHint names the access method that produced this record.
	DeviceTypeHint string `json:"device_type_hint,omitempty"`
}

// SmartAttribute is one named health value. ATA table entries carry their
// numeric ID and thresholds; NVMe log fields only carry Raw.
type SmartAttribute struct {
	ID        int    `json:"id,omitempty"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	Value     *int   `json:"value,omitempty"`
	Worst     *int   `json:"worst,omitempty"`
	Threshold *int   `json:"threshold,omitempty"`
	Raw       int64  `json:"raw"`
	Failed    bool   `json:"failed"`
}

// SelfTest is the most recent self-test log entry.
type SelfTest struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	Passed        *bool  `json:"passed"`
	LifetimeHours int64  `json:"lifetime_hours"`
}

// RawDiagnostic is returned when only plain-text smartctl output was usable.
type RawDiagnostic struct {
	Disk   string `json:"disk"`
	Model  string `json:"model,omitempty"`
	Serial string `json:"serial,omitempty"`
	Passed *bool  `json:"passed"`
	Output string `json:"output"`
}
