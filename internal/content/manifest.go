package content

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/web2video/internal/cache"
)

// manifest is the YAML handoff format an external content source delivers:
// a title plus an ordered list of units.
type manifest struct {
	Title string         `yaml:"title"`
	Units []manifestUnit `yaml:"units"`
}

type manifestUnit struct {
	Text     string  `yaml:"text,omitempty"`
	Image    string  `yaml:"image,omitempty"`
	Duration float64 `yaml:"duration,omitempty"`
	Source   string  `yaml:"source,omitempty"`
}

// ManifestSource reads a unit manifest from disk.
type ManifestSource struct {
	title string
	units []Unit
}

// NewManifestSource parses the manifest at path. Units without their own
// duration get defaultDuration.
func NewManifestSource(path string, defaultDuration float64) (*ManifestSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Units) == 0 {
		return nil, fmt.Errorf("manifest %s contains no units", path)
	}

	units := make([]Unit, 0, len(m.Units))
	for i, mu := range m.Units {
		u, err := mu.toUnit(defaultDuration)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: unit %d: %w", path, i, err)
		}
		units = append(units, u)
	}
	return &ManifestSource{title: m.Title, units: units}, nil
}

func (mu manifestUnit) toUnit(defaultDuration float64) (Unit, error) {
	u := Unit{
		Text:      strings.TrimSpace(mu.Text),
		Duration:  mu.Duration,
		SourceURL: mu.Source,
	}
	if u.Duration == 0 {
		u.Duration = defaultDuration
	}
	if mu.Image != "" {
		u.Image = imageRef(mu.Image)
		if u.SourceURL == "" {
			u.SourceURL = u.Image.URL
		}
	}
	switch {
	case u.Text != "" && !u.Image.IsZero():
		u.Kind = KindTextImage
	case !u.Image.IsZero():
		u.Kind = KindImage
	default:
		u.Kind = KindText
	}
	if err := u.Validate(); err != nil {
		return Unit{}, err
	}
	return u, nil
}

// imageRef turns a manifest image field into a cache reference: URLs stay
// URLs, everything else is a local path.
func imageRef(s string) cache.Ref {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return cache.Ref{URL: s}
	}
	return cache.Ref{Path: s}
}

func (s *ManifestSource) Title() string { return s.title }

func (s *ManifestSource) Units(ctx context.Context) ([]Unit, error) {
	units := make([]Unit, len(s.units))
	copy(units, s.units)
	return units, nil
}

func (s *ManifestSource) Close() error { return nil }

// WriteManifest persists units as a manifest file, the inverse of
// NewManifestSource. The extract command uses it to hand scraped pages to
// later render runs.
func WriteManifest(path, title string, units []Unit) error {
	m := manifest{Title: title, Units: make([]manifestUnit, 0, len(units))}
	for _, u := range units {
		mu := manifestUnit{
			Text:     u.Text,
			Duration: u.Duration,
			Source:   u.SourceURL,
		}
		switch {
		case u.Image.URL != "":
			mu.Image = u.Image.URL
		case u.Image.Path != "":
			mu.Image = u.Image.Path
		}
		if mu.Source == mu.Image {
			mu.Source = ""
		}
		m.Units = append(m.Units, mu)
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
