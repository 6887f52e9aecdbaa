// Package compose turns one content unit plus its resolved assets into a
// single raster frame of the fixed canvas size. Composition is a pure
// function of (unit, asset bytes, options): the same inputs always produce
// the same pixels, which keeps re-renders byte-identical.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	qrcode "github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/ivlev/web2video/internal/content"
	"github.com/ivlev/web2video/internal/system"
)

// ErrCompositionFailed marks unrecoverable rendering failures. Glyph and
// minor layout issues fall back instead of failing.
var ErrCompositionFailed = errors.New("frame composition failed")

const (
	// canvasMargin pads the text region away from the canvas edges.
	canvasMargin = 24
	// imageBandRatio is the share of the canvas height given to the
	// image band of a text+image unit.
	imageBandRatio = 0.62
	qrBadgeSize    = 84
)

// Frame is one still canvas plus its display duration.
type Frame struct {
	Image    *image.RGBA
	Duration float64
}

// Release hands the frame's pixel buffer back to the image pool. Only the
// owner may call it, after the encoder has emitted the frame's bytes.
func (f *Frame) Release() {
	system.PutImage(f.Image)
	f.Image = nil
}

// Options is the layout configuration. Equal Options plus equal inputs
// give equal output pixels.
type Options struct {
	Width, Height int
	Background    color.RGBA
	TextColor     color.RGBA
	// FontBytes holds a parsed-at-construction OpenType font; nil means
	// the embedded Go Regular.
	FontBytes   []byte
	FontSize    float64
	LineSpacing float64
	// ReplacementGlyph substitutes codepoints the font cannot shape.
	ReplacementGlyph rune
	// QRBadge draws a QR code of the unit's source URL in the corner.
	QRBadge bool
}

// Compositor renders units onto a fixed canvas. It is not safe for
// concurrent use: the underlying font face caches glyph masks.
type Compositor struct {
	opts       Options
	face       font.Face
	fnt        *sfnt.Font
	buf        sfnt.Buffer
	lineHeight int
	ellipsis   string
}

func New(opts Options) (*Compositor, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid canvas size %dx%d", ErrCompositionFailed, opts.Width, opts.Height)
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 28
	}
	if opts.LineSpacing <= 0 {
		opts.LineSpacing = 1.4
	}
	if opts.ReplacementGlyph == 0 {
		opts.ReplacementGlyph = '?'
	}
	face, fnt, err := newFace(opts.FontBytes, opts.FontSize)
	if err != nil {
		return nil, err
	}
	c := &Compositor{
		opts:       opts,
		face:       face,
		fnt:        fnt,
		lineHeight: int(math.Round(opts.FontSize * opts.LineSpacing)),
	}
	c.ellipsis = "…"
	if !c.hasGlyph('…') {
		c.ellipsis = "..."
	}
	return c, nil
}

// hasGlyph reports whether the font covers r. The face's GlyphAdvance
// happily measures the .notdef box, so coverage is checked on the font's
// character map directly.
func (c *Compositor) hasGlyph(r rune) bool {
	gi, err := c.fnt.GlyphIndex(&c.buf, r)
	return err == nil && gi != 0
}

// Compose renders one unit. imageBytes carries the unit's resolved image
// asset and must be nil exactly when the unit kind has no image payload.
func (c *Compositor) Compose(unit content.Unit, imageBytes []byte) (*Frame, error) {
	canvas := system.GetImage(c.opts.Width, c.opts.Height)
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(c.opts.Background), image.Point{}, draw.Src)

	switch unit.Kind {
	case content.KindImage:
		if err := c.drawImage(canvas, canvas.Bounds(), imageBytes); err != nil {
			system.PutImage(canvas)
			return nil, err
		}
	case content.KindText:
		c.drawText(canvas, c.textRegion(canvas.Bounds()), unit.Text)
	case content.KindTextImage:
		bounds := canvas.Bounds()
		bandH := int(float64(bounds.Dy()) * imageBandRatio)
		imageBand := image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+bandH)
		textBand := image.Rect(bounds.Min.X, bounds.Min.Y+bandH, bounds.Max.X, bounds.Max.Y)
		if err := c.drawImage(canvas, imageBand, imageBytes); err != nil {
			system.PutImage(canvas)
			return nil, err
		}
		c.drawText(canvas, c.textRegion(textBand), unit.Text)
	default:
		system.PutImage(canvas)
		return nil, fmt.Errorf("%w: unknown unit kind %s", ErrCompositionFailed, unit.Kind)
	}

	if c.opts.QRBadge && unit.SourceURL != "" {
		c.drawQRBadge(canvas, unit.SourceURL)
	}

	return &Frame{Image: canvas, Duration: unit.Duration}, nil
}

func (c *Compositor) textRegion(band image.Rectangle) image.Rectangle {
	return image.Rect(
		band.Min.X+canvasMargin,
		band.Min.Y+canvasMargin,
		band.Max.X-canvasMargin,
		band.Max.Y-canvasMargin,
	)
}

// drawImage letterboxes src bytes into region: scale preserving aspect
// ratio, center, leave the background as padding.
func (c *Compositor) drawImage(canvas *image.RGBA, region image.Rectangle, data []byte) error {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: decode image: %v", ErrCompositionFailed, err)
	}
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 || region.Dx() <= 0 || region.Dy() <= 0 {
		return nil
	}

	scale := math.Min(
		float64(region.Dx())/float64(sb.Dx()),
		float64(region.Dy())/float64(sb.Dy()),
	)
	w := int(math.Round(float64(sb.Dx()) * scale))
	h := int(math.Round(float64(sb.Dy()) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	x := region.Min.X + (region.Dx()-w)/2
	y := region.Min.Y + (region.Dy()-h)/2
	target := image.Rect(x, y, x+w, y+h)
	xdraw.CatmullRom.Scale(canvas, target, src, sb, xdraw.Over, nil)
	return nil
}

func (c *Compositor) drawText(canvas *image.RGBA, region image.Rectangle, text string) {
	if region.Dx() <= 0 || region.Dy() <= 0 {
		return
	}
	width := fixed.I(region.Dx())
	clean := sanitize(c.hasGlyph, text, c.opts.ReplacementGlyph)
	lines := wrap(c.face, clean, width)
	lines = clip(c.face, lines, region.Dy()/c.lineHeight, width, c.ellipsis)
	drawLines(canvas, region, c.face, c.opts.TextColor, c.lineHeight, lines)
}

// drawQRBadge overlays a QR code of the source URL in the bottom-right
// corner. Encoding failures (URL too long) just drop the badge.
func (c *Compositor) drawQRBadge(canvas *image.RGBA, sourceURL string) {
	qr, err := qrcode.New(sourceURL, qrcode.Medium)
	if err != nil {
		return
	}
	qr.DisableBorder = true
	badge := qr.Image(qrBadgeSize)
	bounds := canvas.Bounds()
	target := image.Rect(
		bounds.Max.X-canvasMargin-qrBadgeSize,
		bounds.Max.Y-canvasMargin-qrBadgeSize,
		bounds.Max.X-canvasMargin,
		bounds.Max.Y-canvasMargin,
	)
	draw.Draw(canvas, target, badge, badge.Bounds().Min, draw.Over)
}
