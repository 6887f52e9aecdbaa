package content

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/ivlev/web2video/internal/cache"
)

// pdfRenderDPI keeps rendered pages comfortably above the canvas
// resolution so the letterbox downscale stays sharp.
const pdfRenderDPI = 150

// PDFSource renders document pages into image units, one page per unit.
type PDFSource struct {
	path            string
	doc             *fitz.Document
	defaultDuration float64
}

func NewPDFSource(path string, defaultDuration float64) (*PDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &PDFSource{path: path, doc: doc, defaultDuration: defaultDuration}, nil
}

func (s *PDFSource) Title() string {
	base := filepath.Base(s.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *PDFSource) Units(ctx context.Context) ([]Unit, error) {
	pages := s.doc.NumPage()
	if pages == 0 {
		return nil, fmt.Errorf("%s contains no pages", s.path)
	}

	units := make([]Unit, 0, pages)
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := s.doc.ImageDPI(i, pdfRenderDPI)
		if err != nil {
			return nil, fmt.Errorf("render page %d of %s: %w", i, s.path, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d of %s: %w", i, s.path, err)
		}
		units = append(units, Unit{
			Kind:      KindImage,
			Image:     cache.Ref{Bytes: buf.Bytes(), Name: fmt.Sprintf("%s#page=%d", filepath.Base(s.path), i+1)},
			Duration:  s.defaultDuration,
			SourceURL: s.path,
		})
	}
	return units, nil
}

func (s *PDFSource) Close() error { return s.doc.Close() }
