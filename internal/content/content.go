package content

import (
	"context"
	"fmt"

	"github.com/ivlev/web2video/internal/cache"
)

// Kind discriminates what a unit carries. The compositor switches over it
// exhaustively.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindTextImage
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindTextImage:
		return "text+image"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Unit is one renderable item in document order: one unit becomes one
// frame of the output video.
type Unit struct {
	Kind     Kind
	Text     string
	Image    cache.Ref
	Duration float64 // seconds
	// SourceURL records where the unit came from, for logging and the
	// optional QR badge.
	SourceURL string
}

// Validate checks that the populated fields match the declared kind.
func (u Unit) Validate() error {
	switch u.Kind {
	case KindText:
		if u.Text == "" {
			return fmt.Errorf("text unit without text")
		}
		if !u.Image.IsZero() {
			return fmt.Errorf("text unit carries an image reference")
		}
	case KindImage:
		if u.Image.IsZero() {
			return fmt.Errorf("image unit without image reference")
		}
		if u.Text != "" {
			return fmt.Errorf("image unit carries text")
		}
	case KindTextImage:
		if u.Text == "" || u.Image.IsZero() {
			return fmt.Errorf("text+image unit must carry both payloads")
		}
	default:
		return fmt.Errorf("unknown unit kind %d", int(u.Kind))
	}
	if u.Duration <= 0 {
		return fmt.Errorf("unit duration must be positive, got %f", u.Duration)
	}
	return nil
}

// Source yields the ordered unit sequence for one document. Title may be
// empty until Units has been called.
type Source interface {
	Title() string
	Units(ctx context.Context) ([]Unit, error)
	Close() error
}
