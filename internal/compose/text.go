package compose

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// sanitize replaces every rune the font has no glyph for with repl.
// Missing glyphs degrade to the replacement, they never fail a frame.
func sanitize(hasGlyph func(rune) bool, s string, repl rune) string {
	var b strings.Builder
	changed := false
	for _, r := range s {
		if r == '\n' || r == ' ' {
			b.WriteRune(r)
			continue
		}
		if !hasGlyph(r) {
			b.WriteRune(repl)
			changed = true
			continue
		}
		b.WriteRune(r)
	}
	if !changed {
		return s
	}
	return b.String()
}

// wrap lays s out into lines no wider than width, breaking at word
// boundaries. A single word wider than the region (including unspaced CJK
// runs) is broken per rune.
func wrap(face font.Face, s string, width fixed.Int26_6) []string {
	var lines []string
	for _, paragraph := range strings.Split(s, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := ""
		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if font.MeasureString(face, candidate) <= width {
				current = candidate
				continue
			}
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			if font.MeasureString(face, word) <= width {
				current = word
				continue
			}
			lines, current = breakRunes(face, lines, word, width)
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	return lines
}

// breakRunes splits an over-wide word rune by rune, returning the
// accumulated lines and the unfinished remainder.
func breakRunes(face font.Face, lines []string, word string, width fixed.Int26_6) ([]string, string) {
	current := ""
	for _, r := range word {
		candidate := current + string(r)
		if current != "" && font.MeasureString(face, candidate) > width {
			lines = append(lines, current)
			current = string(r)
			continue
		}
		current = candidate
	}
	return lines, current
}

// clip enforces the declared overflow policy: text that exceeds the region
// height is truncated, with an ellipsis closing the last visible line.
func clip(face font.Face, lines []string, maxLines int, width fixed.Int26_6, ellipsis string) []string {
	if maxLines < 1 {
		maxLines = 1
	}
	if len(lines) <= maxLines {
		return lines
	}
	lines = lines[:maxLines]
	last := lines[maxLines-1]
	for font.MeasureString(face, last+ellipsis) > width && last != "" {
		runes := []rune(last)
		last = strings.TrimRight(string(runes[:len(runes)-1]), " ")
	}
	lines[maxLines-1] = last + ellipsis
	return lines
}

// drawLines renders pre-wrapped lines into region, top-to-bottom.
func drawLines(dst *image.RGBA, region image.Rectangle, face font.Face, col color.RGBA, lineHeight int, lines []string) {
	ascent := face.Metrics().Ascent.Ceil()
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
	}
	for i, line := range lines {
		if line == "" {
			continue
		}
		drawer.Dot = fixed.P(region.Min.X, region.Min.Y+ascent+i*lineHeight)
		drawer.DrawString(line)
	}
}
