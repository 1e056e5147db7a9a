// Package hostinfo reports facts about the machine nasdash itself runs on.
// It uses gopsutil for cross-platform system telemetry.
package hostinfo

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Facts is the server self-report served by /api/health.
type Facts struct {
	Hostname    string    `json:"hostname"`
	OS          string    `json:"os"`
	LocalIP     string    `json:"local_ip"`
	UptimeSecs  uint64    `json:"uptime_seconds"`
	CPUPercent  *float64  `json:"cpu_percent"`
	MemPercent  *float64  `json:"mem_percent"`
	Load1       *float64  `json:"load1"`
	Goroutines  int       `json:"goroutines"`
	GoVersion   string    `json:"go_version"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collect gathers the current facts. Individual probes that fail are left
// nil; Collect itself never fails.
func Collect(ctx context.Context) *Facts {
	f := &Facts{
		OS:          detailedOS(ctx),
		LocalIP:     LocalIP(),
		Goroutines:  runtime.NumGoroutine(),
		GoVersion:   runtime.Version(),
		CollectedAt: time.Now(),
	}
	if h, err := os.Hostname(); err == nil {
		f.Hostname = h
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		f.UptimeSecs = up
	}
	// interval 0 compares against the previous call, so the first read is 0
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		f.CPUPercent = &pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		f.MemPercent = &vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		f.Load1 = &avg.Load1
	}
	return f
}

// detailedOS returns a descriptive OS version string, or runtime.GOOS as fallback.
func detailedOS(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err == nil && info.Platform != "" {
		if info.PlatformVersion != "" {
			return fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		}
		return info.Platform
	}
	return runtime.GOOS
}

// LocalIP returns the first non-loopback IPv4 address, or "".
func LocalIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		if ip := firstIPv4(addrs); ip != "" {
			return ip
		}
	}
	return ""
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			return ip.String()
		}
	}
	return ""
}

// SystemIP picks the address shown on the dashboard: the configured one,
// else this machine's own address.
func SystemIP(configured string) string {
	if configured != "" {
		return configured
	}
	return LocalIP()
}
