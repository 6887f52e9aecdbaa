package content

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTemp(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManifestSourceKinds(t *testing.T) {
	path := writeTemp(t, "m.yaml", `
title: Sample Article
units:
  - text: First paragraph
  - image: https://example.com/photo.jpg
    duration: 2.5
  - text: Captioned picture
    image: local/pic.png
`)

	src, err := NewManifestSource(path, 4.0)
	if err != nil {
		t.Fatal(err)
	}
	if src.Title() != "Sample Article" {
		t.Errorf("title = %q", src.Title())
	}

	units, err := src.Units(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}

	if units[0].Kind != KindText || units[0].Duration != 4.0 {
		t.Errorf("unit 0 = %+v, want text with default duration", units[0])
	}
	if units[1].Kind != KindImage || units[1].Duration != 2.5 {
		t.Errorf("unit 1 = %+v, want image with explicit duration", units[1])
	}
	if units[1].Image.URL != "https://example.com/photo.jpg" {
		t.Errorf("unit 1 image = %+v, want URL ref", units[1].Image)
	}
	if units[2].Kind != KindTextImage {
		t.Errorf("unit 2 kind = %s, want text+image", units[2].Kind)
	}
	if units[2].Image.Path != "local/pic.png" {
		t.Errorf("unit 2 image = %+v, want path ref", units[2].Image)
	}
}

func TestManifestSourceRejectsEmpty(t *testing.T) {
	path := writeTemp(t, "empty.yaml", "title: Nothing\nunits: []\n")
	if _, err := NewManifestSource(path, 4.0); err == nil {
		t.Fatal("expected error for empty manifest")
	}
}

func TestManifestSourceRejectsBlankUnit(t *testing.T) {
	path := writeTemp(t, "blank.yaml", "units:\n  - duration: 3\n")
	if _, err := NewManifestSource(path, 4.0); err == nil {
		t.Fatal("expected error for unit with no payload")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	units := []Unit{
		{Kind: KindText, Text: "hello", Duration: 4},
		{Kind: KindImage, Image: imageRef("https://example.com/a.png"), Duration: 2},
		{Kind: KindTextImage, Text: "pair", Image: imageRef("img/b.jpg"), Duration: 4, SourceURL: "https://example.com/page"},
	}
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := WriteManifest(path, "Round Trip", units); err != nil {
		t.Fatal(err)
	}

	src, err := NewManifestSource(path, 4.0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := src.Units(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if src.Title() != "Round Trip" {
		t.Errorf("title = %q", src.Title())
	}
	if len(got) != len(units) {
		t.Fatalf("got %d units, want %d", len(got), len(units))
	}
	for i := range units {
		if got[i].Kind != units[i].Kind {
			t.Errorf("unit %d kind = %s, want %s", i, got[i].Kind, units[i].Kind)
		}
		if got[i].Duration != units[i].Duration {
			t.Errorf("unit %d duration = %f, want %f", i, got[i].Duration, units[i].Duration)
		}
		if !reflect.DeepEqual(got[i].Image, units[i].Image) {
			t.Errorf("unit %d image = %+v, want %+v", i, got[i].Image, units[i].Image)
		}
	}
}

func TestUnitValidate(t *testing.T) {
	valid := []Unit{
		{Kind: KindText, Text: "t", Duration: 1},
		{Kind: KindImage, Image: imageRef("a.png"), Duration: 1},
		{Kind: KindTextImage, Text: "t", Image: imageRef("a.png"), Duration: 1},
	}
	for i, u := range valid {
		if err := u.Validate(); err != nil {
			t.Errorf("valid unit %d rejected: %v", i, err)
		}
	}

	invalid := []Unit{
		{Kind: KindText, Duration: 1},
		{Kind: KindText, Text: "t", Image: imageRef("a.png"), Duration: 1},
		{Kind: KindImage, Duration: 1},
		{Kind: KindImage, Image: imageRef("a.png"), Text: "t", Duration: 1},
		{Kind: KindTextImage, Text: "t", Duration: 1},
		{Kind: KindText, Text: "t", Duration: 0},
		{Kind: Kind(42), Text: "t", Duration: 1},
	}
	for i, u := range invalid {
		if err := u.Validate(); err == nil {
			t.Errorf("invalid unit %d accepted", i)
		}
	}
}
