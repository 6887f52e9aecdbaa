package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
		ok   bool
	}{
		{"#FF5733", color.RGBA{255, 87, 51, 255}, true},
		{"#000000", color.RGBA{0, 0, 0, 255}, true},
		{"#ffffff", color.RGBA{255, 255, 255, 255}, true},
		{"#C70039", color.RGBA{199, 0, 57, 255}, true},
		{"FF5733", color.RGBA{}, false},
		{"#FF573", color.RGBA{}, false},
		{"#GG5733", color.RGBA{}, false},
		{"", color.RGBA{}, false},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("ParseColor(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyPreset(t *testing.T) {
	tests := []struct {
		preset        string
		width, height int
	}{
		{"16:9", 1280, 720},
		{"9:16", 720, 1280},
		{"4:5", 1080, 1350},
	}
	for _, tt := range tests {
		c := Default()
		c.Preset = tt.preset
		c.ApplyPreset()
		if c.Width != tt.width || c.Height != tt.height {
			t.Errorf("preset %s: got %dx%d, want %dx%d", tt.preset, c.Width, c.Height, tt.width, tt.height)
		}
	}

	// Unknown presets leave explicit dimensions alone.
	c := Default()
	c.Width, c.Height = 640, 480
	c.Preset = "cinema"
	c.ApplyPreset()
	if c.Width != 640 || c.Height != 480 {
		t.Errorf("unknown preset changed size to %dx%d", c.Width, c.Height)
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	broken := []func(*Config){
		func(c *Config) { c.Width = 0 },
		func(c *Config) { c.Height = -10 },
		func(c *Config) { c.Width = 1281 }, // odd, yuv420p needs even
		func(c *Config) { c.FPS = 0 },
		func(c *Config) { c.UnitDuration = 0 },
		func(c *Config) { c.FetchTimeout = 0 },
		func(c *Config) { c.BackColor = "white" },
		func(c *Config) { c.TextColor = "#12345" },
	}
	for i, mutate := range broken {
		c := Default()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("width: 1920\nheight: 1080\nfps: 60\nstrict: true\nfetch_timeout: 5s\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c := Default()
	if err := Load(path, c); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Width != 1920 || c.Height != 1080 || c.FPS != 60 {
		t.Errorf("overlay not applied: %dx%d@%d", c.Width, c.Height, c.FPS)
	}
	if !c.Strict {
		t.Error("strict not applied")
	}
	if c.FetchTimeout != 5*time.Second {
		t.Errorf("fetch_timeout = %s, want 5s", c.FetchTimeout)
	}
	// Untouched keys keep their defaults.
	if c.UnitDuration != 4.0 {
		t.Errorf("unit duration = %f, want default 4.0", c.UnitDuration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := Default()
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), c); err == nil {
		t.Fatal("expected error for missing file")
	}
}
