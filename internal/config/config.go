package config

import (
	"fmt"
	"image/color"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything one pipeline run reads. Flag values are merged
// over an optional YAML file, which is merged over Default().
type Config struct {
	Input       string `yaml:"input"`
	OutputVideo string `yaml:"output"`

	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Preset string `yaml:"preset"`

	// UnitDuration is the display time, in seconds, for units whose
	// manifest entry does not carry its own duration.
	UnitDuration float64 `yaml:"unit_duration"`
	CoverSec     float64 `yaml:"cover_sec"`
	EndingSec    float64 `yaml:"ending_sec"`

	Workers      int           `yaml:"workers"`
	Strict       bool          `yaml:"strict"`
	CacheDir     string        `yaml:"cache_dir"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	FontPath    string  `yaml:"font"`
	FontSize    float64 `yaml:"font_size"`
	LineSpacing float64 `yaml:"line_spacing"`
	BackColor   string  `yaml:"back_color"`
	TextColor   string  `yaml:"text_color"`
	QRBadge     bool    `yaml:"qr_badge"`

	VideoEncoder string `yaml:"encoder"`
	Quality      int    `yaml:"quality"`

	WorkDir      string `yaml:"-"`
	ShowStats    bool   `yaml:"-"`
	BuildVersion string `yaml:"-"`
}

// Default mirrors the values the CLI has always shipped with: 720p at
// 30 fps, white canvas, black text.
func Default() *Config {
	return &Config{
		Width:        1280,
		Height:       720,
		FPS:          30,
		UnitDuration: 4.0,
		CoverSec:     3.0,
		EndingSec:    3.0,
		CacheDir:     "cache",
		FetchTimeout: 30 * time.Second,
		FontSize:     28,
		LineSpacing:  1.4,
		BackColor:    "#FFFFFF",
		TextColor:    "#000000",
	}
}

// Load overlays the YAML file at path onto c.
func Load(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyPreset overrides width/height for the known aspect presets.
func (c *Config) ApplyPreset() {
	switch c.Preset {
	case "16:9":
		c.Width, c.Height = 1280, 720
	case "9:16":
		c.Width, c.Height = 720, 1280
	case "4:5":
		c.Width, c.Height = 1080, 1350
	}
}

func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", c.Width, c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("canvas size %dx%d must be even for yuv420p", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.FPS)
	}
	if c.UnitDuration <= 0 {
		return fmt.Errorf("unit duration must be positive, got %f", c.UnitDuration)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	if _, err := ParseColor(c.BackColor); err != nil {
		return fmt.Errorf("back color: %w", err)
	}
	if _, err := ParseColor(c.TextColor); err != nil {
		return fmt.Errorf("text color: %w", err)
	}
	return nil
}

// ParseColor parses a "#RRGGBB" string into an opaque RGBA color.
func ParseColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("%q is not a #RRGGBB color", s)
	}
	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(s[1+i*2:3+i*2], 16, 8)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("%q is not a #RRGGBB color", s)
		}
		ch[i] = uint8(v)
	}
	return color.RGBA{R: ch[0], G: ch[1], B: ch[2], A: 255}, nil
}
