package smart

import (
	"regexp"
	"strings"

	"github.com/vesaa/nasdash/internal/models"
)

var (
	reModel  = regexp.MustCompile(`(?m)^(?:Device Model|Model Number|Product):\s+(.+)$`)
	reSerial = regexp.MustCompile(`(?m)^Serial [Nn]umber:\s+(.+)$`)
	reHealth = regexp.MustCompile(`(?m)^(?:SMART overall-health self-assessment test result|SMART Health Status):\s+(\S+)`)
)

// ParseText extracts what it can from plain-text smartctl -a output. The
// full text is always kept in Output.
func ParseText(out, disk string) models.RawDiagnostic {
	raw := models.RawDiagnostic{Disk: disk, Output: out}
	if m := reModel.FindStringSubmatch(out); m != nil {
		raw.Model = strings.TrimSpace(m[1])
	}
	if m := reSerial.FindStringSubmatch(out); m != nil {
		raw.Serial = strings.TrimSpace(m[1])
	}
	if m := reHealth.FindStringSubmatch(out); m != nil {
		switch strings.ToUpper(m[1]) {
		case "PASSED", "OK":
			passed := true
			raw.Passed = &passed
		case "FAILED!", "FAILED":
			passed := false
			raw.Passed = &passed
		}
	}
	return raw
}
