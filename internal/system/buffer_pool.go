package system

import (
	"image"
	"sync"
)

// ImagePool recycles zero-origin RGBA canvases by size. A run touches very
// few distinct sizes (the configured canvas, plus the QR tile), so the map
// stays tiny while frame churn stays off the GC.
//
// Callers own the pixel contents: a recycled canvas comes back dirty and
// must be fully repainted before use.
type ImagePool struct {
	mu    sync.Mutex
	sizes map[image.Point]*sync.Pool
}

func NewImagePool() *ImagePool {
	return &ImagePool{sizes: make(map[image.Point]*sync.Pool)}
}

var framePool = NewImagePool()

// GetImage returns a width×height canvas from the shared pool.
func GetImage(width, height int) *image.RGBA {
	return framePool.Get(width, height)
}

// PutImage hands a canvas back to the shared pool for reuse.
func PutImage(img *image.RGBA) {
	framePool.Put(img)
}

func (p *ImagePool) Get(width, height int) *image.RGBA {
	size := image.Pt(width, height)
	p.mu.Lock()
	pool, ok := p.sizes[size]
	if !ok {
		pool = &sync.Pool{
			New: func() any {
				return image.NewRGBA(image.Rectangle{Max: size})
			},
		}
		p.sizes[size] = pool
	}
	p.mu.Unlock()
	return pool.Get().(*image.RGBA)
}

// Put accepts only canvases Get could have produced: zero-origin, of a size
// already seen. Anything else (nil, sub-images, foreign buffers) is dropped.
func (p *ImagePool) Put(img *image.RGBA) {
	if img == nil || img.Rect.Min != (image.Point{}) {
		return
	}
	p.mu.Lock()
	pool, ok := p.sizes[img.Rect.Max]
	p.mu.Unlock()
	if ok {
		pool.Put(img)
	}
}
