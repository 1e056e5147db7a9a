// Package catalog loads the app launcher shown on the dashboard: the
// self-hosted services running on the appliance, grouped by category.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// App is one launcher tile. URL, when empty, is derived from the appliance
// host and Port.
type App struct {
	Name   string `yaml:"name" json:"name"`
	Port   int    `yaml:"port" json:"port"`
	Icon   string `yaml:"icon" json:"icon"`
	Scheme string `yaml:"scheme,omitempty" json:"-"`
	Path   string `yaml:"path,omitempty" json:"-"`
	URL    string `yaml:"url,omitempty" json:"url"`
}

// Category groups apps under one heading.
type Category struct {
	Category string `yaml:"category" json:"category"`
	Icon     string `yaml:"icon" json:"icon"`
	Color    string `yaml:"color" json:"color"`
	Apps     []App  `yaml:"apps" json:"apps"`
}

// Catalog is the ordered list of categories.
type Catalog struct {
	Categories []Category `yaml:"categories" json:"categories"`
}

// Load reads the catalogue from path. A missing file yields Default().
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read apps file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalogue and validates it.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal apps file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every app has a name and either a URL or a usable port.
func (c *Catalog) Validate() error {
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat.Category) == "" {
			return errors.New("apps file: category without a name")
		}
		for _, app := range cat.Apps {
			if strings.TrimSpace(app.Name) == "" {
				return fmt.Errorf("apps file: unnamed app in %q", cat.Category)
			}
			if app.URL == "" && (app.Port <= 0 || app.Port > 65535) {
				return fmt.Errorf("apps file: %s/%s needs a url or a port in 1-65535", cat.Category, app.Name)
			}
		}
	}
	return nil
}

// Resolve returns a copy of the catalogue with every URL filled in for host.
func (c *Catalog) Resolve(host string) []Category {
	out := make([]Category, 0, len(c.Categories))
	for _, cat := range c.Categories {
		apps := make([]App, 0, len(cat.Apps))
		for _, app := range cat.Apps {
			if app.URL == "" && host != "" {
				app.URL = app.link(host)
			}
			apps = append(apps, app)
		}
		cat.Apps = apps
		out = append(out, cat)
	}
	return out
}

func (a App) link(host string) string {
	scheme := a.Scheme
	if scheme == "" {
		scheme = "http"
	}
	u := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(a.Port))
	if a.Path != "" {
		if !strings.HasPrefix(a.Path, "/") {
			u += "/"
		}
		u += a.Path
	}
	return u
}

// Default is the catalogue used when no apps file exists.
func Default() *Catalog {
	return &Catalog{Categories: []Category{
		{
			Category: "Media",
			Icon:     "fa-play",
			Color:    "text-pink-400 group-hover:text-pink-300",
			Apps: []App{
				{Name: "Jellyfin", Port: 8096, Icon: "jellyfin.png"},
				{Name: "Jellyseerr", Port: 5055, Icon: "jellyseerr.png"},
				{Name: "Navidrome", Port: 4533, Icon: "navidrome.png"},
				{Name: "MusicTag", Port: 8002, Icon: "musictag.png"},
			},
		},
		{
			Category: "Arr Stack",
			Icon:     "fa-layer-group",
			Color:    "text-cyan-400 group-hover:text-cyan-300",
			Apps: []App{
				{Name: "Sonarr", Port: 8989, Icon: "sonarr.png"},
				{Name: "Radarr", Port: 7878, Icon: "radarr.png"},
				{Name: "Bazarr", Port: 6767, Icon: "bazarr.png"},
				{Name: "Prowlarr", Port: 9696, Icon: "prowlarr.png"},
				{Name: "Tidarr", Port: 8484, Icon: "tidarr.png"},
			},
		},
		{
			Category: "Downloads",
			Icon:     "fa-download",
			Color:    "text-emerald-400 group-hover:text-emerald-300",
			Apps: []App{
				{Name: "Real Debrid", Port: 6500, Icon: "realtime-debrid.png"},
				{Name: "Slskd", Port: 5030, Icon: "slskd.png"},
			},
		},
		{
			Category: "System",
			Icon:     "fa-toolbox",
			Color:    "text-amber-400 group-hover:text-amber-300",
			Apps: []App{
				{Name: "AdGuard", Port: 30004, Icon: "adguard.png"},
				{Name: "Netdata", Port: 20489, Icon: "netdata.png"},
				{Name: "Syncthing", Port: 20910, Icon: "syncthing.png"},
				{Name: "Obsidian", Port: 9080, Icon: "obsidian.png"},
				{Name: "FileBrowser", Port: 30051, Icon: "filebrowser.png"},
				{Name: "Uptime Kuma", Port: 31050, Icon: "uptime-kuma.png"},
			},
		},
	}}
}
