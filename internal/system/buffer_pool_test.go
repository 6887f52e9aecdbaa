package system

import (
	"image"
	"testing"
)

func TestImagePoolBounds(t *testing.T) {
	want := image.Rect(0, 0, 64, 64)

	img := GetImage(64, 64)
	if img.Bounds() != want {
		t.Fatalf("got bounds %v, want %v", img.Bounds(), want)
	}
	PutImage(img)

	again := GetImage(64, 64)
	if again.Bounds() != want {
		t.Fatalf("got bounds %v, want %v", again.Bounds(), want)
	}
	PutImage(again)

	// Putting nil must be a no-op.
	PutImage(nil)
}

func TestImagePoolDistinctSizes(t *testing.T) {
	small := GetImage(16, 16)
	large := GetImage(32, 32)
	if small.Bounds() == large.Bounds() {
		t.Fatal("pools mixed sizes")
	}
	PutImage(small)
	PutImage(large)
}

func TestImagePoolRejectsForeignBuffers(t *testing.T) {
	p := NewImagePool()

	// A sub-image has a non-zero origin and must not enter the pool.
	parent := image.NewRGBA(image.Rect(0, 0, 8, 8))
	sub := parent.SubImage(image.Rect(2, 2, 6, 6)).(*image.RGBA)
	p.Put(sub)

	// An unseen size is dropped rather than seeding a pool.
	p.Put(image.NewRGBA(image.Rect(0, 0, 7, 7)))

	got := p.Get(4, 4)
	if got.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("got bounds %v, want (0,0)-(4,4)", got.Bounds())
	}
}

func TestDefaultWorkers(t *testing.T) {
	if w := DefaultWorkers(1280, 720); w < 1 {
		t.Errorf("DefaultWorkers = %d, want at least 1", w)
	}
	if w := DefaultWorkers(0, 0); w < 1 {
		t.Errorf("DefaultWorkers with zero canvas = %d, want at least 1", w)
	}
}
