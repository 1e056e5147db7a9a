package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func Test_Load_Cases(t *testing.T) {
	tests := []struct {
		name      string
		path      func(t *testing.T) string
		wantErr   bool
		wantCats  int
		firstName string
	}{
		{
			name:      "missing file gives defaults",
			path:      func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			wantCats:  4,
			firstName: "Media",
		},
		{
			name: "custom file",
			path: func(t *testing.T) string {
				return writeTempFile(t, "apps.yaml", `
categories:
  - category: Home
    icon: fa-house
    apps:
      - name: Home Assistant
        port: 8123
        icon: ha.png
      - name: Router
        url: https://router.lan
`)
			},
			wantCats:  1,
			firstName: "Home",
		},
		{
			name:    "malformed yaml",
			path:    func(t *testing.T) string { return writeTempFile(t, "bad.yaml", "categories: [") },
			wantErr: true,
		},
		{
			name: "app without port or url",
			path: func(t *testing.T) string {
				return writeTempFile(t, "noport.yaml", "categories:\n  - category: X\n    apps:\n      - name: Y\n")
			},
			wantErr: true,
		},
		{
			name: "unnamed category",
			path: func(t *testing.T) string {
				return writeTempFile(t, "nocat.yaml", "categories:\n  - apps: []\n")
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(tt.path(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(c.Categories) != tt.wantCats || c.Categories[0].Category != tt.firstName {
				t.Errorf("categories = %+v", c.Categories)
			}
		})
	}
}

func Test_Resolve_FillsURLs(t *testing.T) {
	c := &Catalog{Categories: []Category{{
		Category: "Tools",
		Apps: []App{
			{Name: "Plain", Port: 8080},
			{Name: "TLS", Port: 8443, Scheme: "https", Path: "ui"},
			{Name: "Fixed", URL: "https://fixed.example"},
		},
	}}}

	got := c.Resolve("192.168.1.10")
	apps := got[0].Apps
	if apps[0].URL != "http://192.168.1.10:8080" {
		t.Errorf("Plain URL = %q", apps[0].URL)
	}
	if apps[1].URL != "https://192.168.1.10:8443/ui" {
		t.Errorf("TLS URL = %q", apps[1].URL)
	}
	if apps[2].URL != "https://fixed.example" {
		t.Errorf("Fixed URL = %q", apps[2].URL)
	}
	if c.Categories[0].Apps[0].URL != "" {
		t.Error("Resolve must not modify the catalogue")
	}
}

func Test_Default_IsValid(t *testing.T) {
	d := Default()
	if err := d.Validate(); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
	if Default() == d {
		t.Error("Default() should return a fresh catalogue each call")
	}
}
