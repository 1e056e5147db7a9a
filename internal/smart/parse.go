// Package smart interprets smartctl output. It judges whether a JSON
// document is worth keeping and turns it into a models.SmartRecord.
package smart

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/vesaa/nasdash/internal/models"
)

// exitOpenFailed is the smartctl exit-status bit set when the device could
// not be opened or did not answer the identify command.
const exitOpenFailed = 1 << 1

// nvmeKelvinOffset converts a Kelvin reading to Celsius.
const nvmeKelvinOffset = 273

// attributeNames is the allow-list of ATA attribute IDs reported to clients.
var attributeNames = map[int]struct{ key, name string }{
	1:   {"read_error_rate", "Raw Read Error Rate"},
	5:   {"reallocated_sectors", "Reallocated Sector Count"},
	9:   {"power_on_hours", "Power-On Hours"},
	177: {"wear_leveling_count", "Wear Leveling Count"},
	194: {"temperature", "Temperature"},
	197: {"pending_sectors", "Current Pending Sectors"},
	198: {"offline_uncorrectable", "Offline Uncorrectable"},
	199: {"udma_crc_errors", "UDMA CRC Error Count"},
	231: {"life_remaining", "SSD Life Remaining"},
	241: {"total_lbas_written", "Total Host Writes"},
	242: {"total_lbas_read", "Total Host Reads"},
}

// nvmeFields lists the NVMe health-log fields reported as attributes, in
// display order.
var nvmeFields = []struct{ key, name string }{
	{"critical_warning", "Critical Warning"},
	{"temperature", "Temperature"},
	{"available_spare", "Available Spare"},
	{"available_spare_threshold", "Available Spare Threshold"},
	{"percentage_used", "Percentage Used"},
	{"data_units_read", "Data Units Read"},
	{"data_units_written", "Data Units Written"},
	{"power_cycles", "Power Cycles"},
	{"power_on_hours", "Power-On Hours"},
	{"unsafe_shutdowns", "Unsafe Shutdowns"},
	{"media_errors", "Media Errors"},
	{"num_err_log_entries", "Error Log Entries"},
}

// Decode parses smartctl -j output.
func Decode(stdout string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return nil, fmt.Errorf("decode smartctl json: %w", err)
	}
	return doc, nil
}

// IsUseful reports whether doc carries real health data. smartctl exits
// successfully with an empty document for disks behind some USB bridges, so
// the exit code alone is not enough.
func IsUseful(doc map[string]any) bool {
	if doc == nil {
		return false
	}
	if status, ok := num(mapAt(doc, "smartctl"), "exit_status"); ok && int64(status)&exitOpenFailed != 0 {
		return false
	}
	if support := mapAt(doc, "smart_support"); support != nil {
		if available, ok := support["available"].(bool); ok && !available {
			return false
		}
	}
	if status := mapAt(doc, "smart_status"); status != nil {
		if _, ok := status["passed"].(bool); ok {
			return true
		}
	}
	if len(ataTable(doc)) > 0 {
		return true
	}
	return mapAt(doc, "nvme_smart_health_information_log") != nil
}

// Parse builds the canonical record for disk from a smartctl JSON document.
func Parse(doc map[string]any, disk string) models.SmartRecord {
	rec := models.SmartRecord{
		Disk:       disk,
		Model:      str(doc, "model_name"),
		Serial:     str(doc, "serial_number"),
		Firmware:   str(doc, "firmware_version"),
		Interface:  str(mapAt(doc, "device"), "protocol"),
		Attributes: []models.SmartAttribute{},
	}
	if rec.Model == "" {
		rec.Model = str(doc, "model_family")
	}

	rec.CapacityBytes = capacityBytes(doc)
	rec.Capacity = FormatCapacity(rec.CapacityBytes)
	rec.MediaType = MediaType(doc, disk)

	nvme := mapAt(doc, "nvme_smart_health_information_log")
	table := ataTable(doc)

	rec.Passed = verdict(doc, nvme)
	rec.Temperature = temperature(doc, table, nvme)

	if v, ok := num(mapAt(doc, "power_on_time"), "hours"); ok {
		rec.PowerOnHours = int64Ptr(v)
	} else if v, ok := num(nvme, "power_on_hours"); ok {
		rec.PowerOnHours = int64Ptr(v)
	}
	if v, ok := num(doc, "power_cycle_count"); ok {
		rec.PowerCycles = int64Ptr(v)
	} else if v, ok := num(nvme, "power_cycles"); ok {
		rec.PowerCycles = int64Ptr(v)
	}
	rec.ErrorLogCount = errorLogCount(doc, nvme)

	rec.Attributes = append(rec.Attributes, ataAttributes(table)...)
	rec.Attributes = append(rec.Attributes, nvmeAttributes(nvme)...)
	rec.SelfTest = latestSelfTest(doc)
	return rec
}

// FormatCapacity renders bytes in decimal units: one decimal of TB from
// 0.9 TB upwards, whole GB below.
func FormatCapacity(bytes int64) string {
	if bytes <= 0 {
		return ""
	}
	tb := float64(bytes) / 1e12
	if tb >= 0.9 {
		return fmt.Sprintf("%.1f TB", tb)
	}
	return fmt.Sprintf("%d GB", int64(math.Round(float64(bytes)/1e9)))
}

// MediaType classifies the device from its rotation rate, falling back to
// the device name.
func MediaType(doc map[string]any, disk string) string {
	if rpm, ok := num(doc, "rotation_rate"); ok {
		switch {
		case rpm == 0:
			return "SSD"
		case rpm > 0:
			return fmt.Sprintf("HDD (%d RPM)", int64(rpm))
		}
	}
	if strings.Contains(strings.ToLower(disk), "nvme") {
		return "NVMe"
	}
	return "Unknown"
}

func verdict(doc, nvme map[string]any) *bool {
	if status := mapAt(doc, "smart_status"); status != nil {
		if passed, ok := status["passed"].(bool); ok {
			return &passed
		}
	}
	if warn, ok := num(nvme, "critical_warning"); ok {
		passed := warn == 0
		return &passed
	}
	return nil
}

// temperature prefers attribute 194 (low byte of the raw value, when it lies
// in (0,100)), then temperature.current. Without an attribute table the NVMe
// health-log temperature is used, and 273 is subtracted only when the
// reading is above 273.
func temperature(doc map[string]any, table []map[string]any, nvme map[string]any) *float64 {
	if len(table) > 0 {
		for _, attr := range table {
			id, _ := num(attr, "id")
			if int(id) != 194 {
				continue
			}
			if raw, ok := num(mapAt(attr, "raw"), "value"); ok {
				masked := float64(int64(raw) & 0xFF)
				if masked > 0 && masked < 100 {
					return &masked
				}
			}
			break
		}
		return current(doc)
	}
	if t, ok := num(nvme, "temperature"); ok {
		if t > nvmeKelvinOffset {
			t -= nvmeKelvinOffset
		}
		return &t
	}
	return current(doc)
}

func current(doc map[string]any) *float64 {
	if t, ok := num(mapAt(doc, "temperature"), "current"); ok {
		return &t
	}
	return nil
}

func capacityBytes(doc map[string]any) int64 {
	if b, ok := num(mapAt(doc, "user_capacity"), "bytes"); ok && b > 0 {
		return int64(b)
	}
	if b, ok := num(doc, "nvme_total_capacity"); ok {
		return int64(b)
	}
	return 0
}

func errorLogCount(doc, nvme map[string]any) *int64 {
	errLog := mapAt(doc, "ata_smart_error_log")
	for _, section := range []string{"extended", "summary"} {
		if v, ok := num(mapAt(errLog, section), "count"); ok {
			return int64Ptr(v)
		}
	}
	if v, ok := num(nvme, "num_err_log_entries"); ok {
		return int64Ptr(v)
	}
	return nil
}

func ataTable(doc map[string]any) []map[string]any {
	rows, _ := mapAt(doc, "ata_smart_attributes")["table"].([]any)
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func ataAttributes(table []map[string]any) []models.SmartAttribute {
	var out []models.SmartAttribute
	for _, attr := range table {
		idf, ok := num(attr, "id")
		if !ok {
			continue
		}
		id := int(idf)
		known, ok := attributeNames[id]
		if !ok {
			continue
		}
		raw, _ := num(mapAt(attr, "raw"), "value")
		whenFailed := str(attr, "when_failed")
		out = append(out, models.SmartAttribute{
			ID:        id,
			Key:       known.key,
			Name:      known.name,
			Value:     intPtr(attr, "value"),
			Worst:     intPtr(attr, "worst"),
			Threshold: intPtr(attr, "thresh"),
			Raw:       int64(raw),
			Failed:    whenFailed != "" && whenFailed != "-",
		})
	}
	return out
}

func nvmeAttributes(nvme map[string]any) []models.SmartAttribute {
	if nvme == nil {
		return nil
	}
	var out []models.SmartAttribute
	for _, f := range nvmeFields {
		v, ok := num(nvme, f.key)
		if !ok {
			continue
		}
		attr := models.SmartAttribute{Key: f.key, Name: f.name, Raw: int64(v)}
		if f.key == "critical_warning" {
			attr.Failed = v != 0
		}
		out = append(out, attr)
	}
	return out
}

func latestSelfTest(doc map[string]any) *models.SelfTest {
	standard := mapAt(mapAt(doc, "ata_smart_self_test_log"), "standard")
	if rows, _ := standard["table"].([]any); len(rows) > 0 {
		if entry, ok := rows[0].(map[string]any); ok {
			st := &models.SelfTest{
				Type:   str(mapAt(entry, "type"), "string"),
				Status: str(mapAt(entry, "status"), "string"),
			}
			if passed, ok := mapAt(entry, "status")["passed"].(bool); ok {
				st.Passed = &passed
			}
			if h, ok := num(entry, "lifetime_hours"); ok {
				st.LifetimeHours = int64(h)
			}
			return st
		}
	}

	nvmeLog := mapAt(doc, "nvme_self_test_log")
	if rows, _ := nvmeLog["table"].([]any); len(rows) > 0 {
		if entry, ok := rows[0].(map[string]any); ok {
			result := mapAt(entry, "self_test_result")
			st := &models.SelfTest{
				Type:   str(mapAt(entry, "self_test_code"), "string"),
				Status: str(result, "string"),
			}
			if code, ok := num(result, "value"); ok {
				passed := code == 0
				st.Passed = &passed
			}
			if h, ok := num(entry, "power_on_hours"); ok {
				st.LifetimeHours = int64(h)
			}
			return st
		}
	}
	return nil
}

// ── JSON helpers ────────────────────────────────────────────────────────────

func mapAt(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func num(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func intPtr(m map[string]any, key string) *int {
	v, ok := num(m, key)
	if !ok {
		return nil
	}
	i := int(v)
	return &i
}

func int64Ptr(v float64) *int64 {
	i := int64(v)
	return &i
}
