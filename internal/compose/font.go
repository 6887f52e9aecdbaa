package compose

import (
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// newFace builds a font face at the given size. With no font bytes the
// embedded Go Regular face is used, so the pipeline renders without any
// font file on disk.
func newFace(fontBytes []byte, size float64) (font.Face, *sfnt.Font, error) {
	if len(fontBytes) == 0 {
		fontBytes = goregular.TTF
	}
	ft, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(ft, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build font face: %w", err)
	}
	return face, ft, nil
}
