// Package config provides dynamic configuration management for nasdash.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dataset names one appliance dataset whose capacity is shown on the dashboard.
type Dataset struct {
	Mountpoint string `mapstructure:"mountpoint"`
	Label      string `mapstructure:"label"`
}

// Interface names one network interface shown on the dashboard.
// Chart is the preferred metrics-daemon chart; Name is the interface name used
// for the "net.<name>" chart and the appliance reporting fallback.
type Interface struct {
	Label string `mapstructure:"label"`
	Chart string `mapstructure:"chart"`
	Name  string `mapstructure:"name"`
}

// Config holds all runtime configuration for nasdash.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	Port       int    `mapstructure:"port"`
	DBPath     string `mapstructure:"db_path"`
	AppsFile   string `mapstructure:"apps_file"`
	LogLevel   string `mapstructure:"log_level"`

	// AuditRetention: audit entries older than this are pruned hourly; 0 keeps everything.
	AuditRetention time.Duration `mapstructure:"audit_retention"`

	// ── Security ──────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for dashboard tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	// ── Storage appliance (TrueNAS) ──────────────────────────────────────────
	TrueNASHost      string `mapstructure:"truenas_host"`
	TrueNASAPIKey    string `mapstructure:"truenas_api_key"`
	TrueNASScheme    string `mapstructure:"truenas_scheme"`
	TrueNASPort      string `mapstructure:"truenas_port"`
	TrueNASVerifySSL bool   `mapstructure:"truenas_verify_ssl"`
	// TrueNASDisplayIP is reported as system_ip; defaults to TrueNASHost.
	TrueNASDisplayIP string `mapstructure:"truenas_display_ip"`

	// ── Metrics daemon (Netdata) ──────────────────────────────────────────────
	NetdataHost         string `mapstructure:"netdata_host"`
	NetdataPort         string `mapstructure:"netdata_port"`
	NetdataURL          string `mapstructure:"netdata_url"`
	NetdataScheme       string `mapstructure:"netdata_scheme"`
	NetdataVerifySSL    bool   `mapstructure:"netdata_verify_ssl"`
	NetdataBasePath     string `mapstructure:"netdata_base_path"`
	NetdataBearerToken  string `mapstructure:"netdata_bearer_token"`
	NetdataDataEndpoint string `mapstructure:"netdata_data_endpoint"`
	NetdataChartCPU     string `mapstructure:"netdata_chart_cpu"`
	NetdataChartRAM     string `mapstructure:"netdata_chart_ram"`
	NetdataChartCPUTemp string `mapstructure:"netdata_chart_cpu_temp"`

	Datasets   []Dataset   `mapstructure:"datasets"`
	Interfaces []Interface `mapstructure:"interfaces"`

	// ── Aggregation ──────────────────────────────────────────────────────────
	CacheTTLDatasets time.Duration `mapstructure:"cache_ttl_datasets"`
	CacheTTLDisks    time.Duration `mapstructure:"cache_ttl_disks"`
	CacheTTLNet      time.Duration `mapstructure:"cache_ttl_net"`
	CacheMaxEntries  int           `mapstructure:"cache_max_entries"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	Workers          int           `mapstructure:"workers"`

	// ── SSH defaults ──────────────────────────────────────────────────────────
	// SSHHost defaults to TrueNASHost.
	SSHHost          string        `mapstructure:"ssh_host"`
	SSHPort          int           `mapstructure:"ssh_port"`
	SSHUser          string        `mapstructure:"ssh_user"`
	SSHPassword      string        `mapstructure:"ssh_password"`
	SSHPrivateKeyB64 string        `mapstructure:"ssh_private_key_b64"`
	SSHSudoPassword  string        `mapstructure:"ssh_sudo_password"`
	SSHDialTimeout   time.Duration `mapstructure:"ssh_dial_timeout"`
	SSHExecTimeout   time.Duration `mapstructure:"ssh_exec_timeout"`
	SmartctlPath     string        `mapstructure:"smartctl_path"`

	// ── GPU ──────────────────────────────────────────────────────────────────
	GPUEnabled bool `mapstructure:"gpu_enabled"`
}

// Load reads config from file (./config.yaml or ~/.nasdash/config.yaml)
// and falls back to smart defaults. Environment variables with prefix NASDASH_
// override file values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.nasdash")
	return load(v)
}

// LoadFile reads config from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("NASDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("port", 5003)
	v.SetDefault("db_path", "nasdash.db")
	v.SetDefault("apps_file", "apps.yaml")
	v.SetDefault("log_level", "info")
	v.SetDefault("audit_retention", 30*24*time.Hour)

	// MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "nd$Q8v!pL3@xR7^kT2&wZ9")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("truenas_host", "")
	v.SetDefault("truenas_api_key", "")
	v.SetDefault("truenas_scheme", "https")
	v.SetDefault("truenas_port", "")
	v.SetDefault("truenas_verify_ssl", true)
	v.SetDefault("truenas_display_ip", "")

	v.SetDefault("netdata_host", "")
	v.SetDefault("netdata_port", "19999")
	v.SetDefault("netdata_url", "")
	v.SetDefault("netdata_scheme", "http")
	v.SetDefault("netdata_verify_ssl", true)
	v.SetDefault("netdata_base_path", "")
	v.SetDefault("netdata_bearer_token", "")
	v.SetDefault("netdata_data_endpoint", "/api/v1/data")
	v.SetDefault("netdata_chart_cpu", "system.cpu")
	v.SetDefault("netdata_chart_ram", "system.ram")
	v.SetDefault("netdata_chart_cpu_temp", "sensors.temperature_coretemp-isa-0000_temp1_Package_id_0_input")

	v.SetDefault("datasets", []map[string]any{
		{"mountpoint": "/mnt/storage", "label": "storage (/mnt/storage)"},
		{"mountpoint": "/mnt/Apps", "label": "Apps (/mnt/Apps)"},
	})
	v.SetDefault("interfaces", []map[string]any{
		{"label": "NIC 1", "chart": "", "name": "eno1"},
		{"label": "NIC 2", "chart": "", "name": "enp3s0"},
	})

	v.SetDefault("cache_ttl_datasets", 60*time.Second)
	v.SetDefault("cache_ttl_disks", 300*time.Second)
	v.SetDefault("cache_ttl_net", 3*time.Second)
	v.SetDefault("cache_max_entries", 100)
	v.SetDefault("task_timeout", 2500*time.Millisecond)
	v.SetDefault("workers", 10)

	v.SetDefault("ssh_host", "")
	v.SetDefault("ssh_port", 22)
	v.SetDefault("ssh_user", "root")
	v.SetDefault("ssh_password", "")
	v.SetDefault("ssh_private_key_b64", "")
	v.SetDefault("ssh_sudo_password", "")
	v.SetDefault("ssh_dial_timeout", 10*time.Second)
	v.SetDefault("ssh_exec_timeout", 30*time.Second)
	v.SetDefault("smartctl_path", "smartctl")

	v.SetDefault("gpu_enabled", false)
}

// normalize fills derived fields and trims user input.
func (c *Config) normalize() {
	c.TrueNASHost = strings.TrimSpace(c.TrueNASHost)
	c.TrueNASAPIKey = strings.TrimSpace(c.TrueNASAPIKey)
	if c.TrueNASScheme == "" {
		c.TrueNASScheme = "https"
	}
	if c.TrueNASDisplayIP == "" {
		c.TrueNASDisplayIP = c.TrueNASHost
	}
	if c.NetdataScheme == "" {
		c.NetdataScheme = "http"
	}
	if c.NetdataPort == "" {
		c.NetdataPort = "19999"
	}
	if c.SSHHost == "" {
		c.SSHHost = c.TrueNASHost
	}
	for i := range c.Interfaces {
		if c.Interfaces[i].Label == "" {
			c.Interfaces[i].Label = fmt.Sprintf("NIC %d", i+1)
		}
	}
	for i := range c.Datasets {
		if c.Datasets[i].Label == "" {
			c.Datasets[i].Label = c.Datasets[i].Mountpoint
		}
	}
}

// SSHPrivateKey decodes the base64-encoded private key, if configured.
func (c *Config) SSHPrivateKey() (string, error) {
	if c.SSHPrivateKeyB64 == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.SSHPrivateKeyB64))
	if err != nil {
		return "", fmt.Errorf("decoding ssh_private_key_b64: %w", err)
	}
	return string(raw), nil
}
