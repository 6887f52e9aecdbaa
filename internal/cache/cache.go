package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/sync/singleflight"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	// ErrFetchFailed marks assets that could not be retrieved at all.
	ErrFetchFailed = errors.New("asset fetch failed")
	// ErrDecodeFailed marks retrieved bytes that are not valid for the
	// expected asset kind.
	ErrDecodeFailed = errors.New("asset decode failed")
)

// Kind tells the cache how to validate fetched bytes.
type Kind int

const (
	KindRaw Kind = iota // no validation (page HTML and the like)
	KindImage
	KindFont
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindFont:
		return "font"
	default:
		return "raw"
	}
}

// Ref identifies one asset to resolve. Exactly one of URL, Path or Bytes
// is set.
type Ref struct {
	URL   string
	Path  string
	Bytes []byte
	// Name labels in-memory refs in logs and errors.
	Name string
}

func (r Ref) IsZero() bool {
	return r.URL == "" && r.Path == "" && r.Bytes == nil
}

// Key is the canonical identity of the reference, used for request
// deduplication and the on-disk ref index.
func (r Ref) Key() string {
	switch {
	case r.URL != "":
		return "url:" + r.URL
	case r.Path != "":
		return "path:" + r.Path
	default:
		sum := sha256.Sum256(r.Bytes)
		return "bytes:" + hex.EncodeToString(sum[:])
	}
}

func (r Ref) String() string {
	switch {
	case r.URL != "":
		return r.URL
	case r.Path != "":
		return r.Path
	case r.Name != "":
		return r.Name
	default:
		return "<bytes>"
	}
}

// Asset is one cached resource: its bytes plus the digest they live under.
type Asset struct {
	Digest string
	Bytes  []byte
	Kind   Kind
}

// Fetcher retrieves the bytes behind a URL. Retries, cookies and backoff
// belong to the implementation, not to the cache.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cache is a content-addressed, insert-only store of asset bytes.
//
// Objects live at <root>/objects/<hex sha256 of bytes>. A second index at
// <root>/refs/<hex sha256 of ref key> records which digest a URL or path
// reference last resolved to, so re-runs against unchanged content skip the
// network entirely. Concurrent requests for the same reference collapse
// into a single fetch.
type Cache struct {
	root    string
	fetcher Fetcher
	log     zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	digests map[string]string // ref key -> digest, warm index
}

func New(root string, fetcher Fetcher, log zerolog.Logger) (*Cache, error) {
	for _, dir := range []string{filepath.Join(root, "objects"), filepath.Join(root, "refs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Cache{
		root:    root,
		fetcher: fetcher,
		log:     log.With().Str("component", "cache").Logger(),
		digests: make(map[string]string),
	}, nil
}

// GetOrFetch returns the cached asset for ref, fetching and storing it on
// first use. The fetch happens at most once per reference key, also under
// concurrent access.
func (c *Cache) GetOrFetch(ctx context.Context, ref Ref, kind Kind) (Asset, error) {
	if ref.IsZero() {
		return Asset{}, fmt.Errorf("empty asset reference: %w", ErrFetchFailed)
	}
	v, err, _ := c.group.Do(ref.Key(), func() (any, error) {
		return c.resolve(ctx, ref, kind)
	})
	if err != nil {
		return Asset{}, err
	}
	return v.(Asset), nil
}

func (c *Cache) resolve(ctx context.Context, ref Ref, kind Kind) (Asset, error) {
	key := ref.Key()

	if digest, ok := c.lookup(key); ok {
		data, err := os.ReadFile(c.objectPath(digest))
		if err == nil {
			// The ref index carries no kind, so a hit cached for one kind
			// must still pass the caller's validation.
			if verr := validate(data, kind); verr != nil {
				return Asset{}, fmt.Errorf("%s: %w", ref, verr)
			}
			return Asset{Digest: digest, Bytes: data, Kind: kind}, nil
		}
		// Index points at a missing object, fall through to a fresh fetch.
		c.log.Warn().Str("digest", digest).Msg("cached object missing, refetching")
	}

	data, err := c.retrieve(ctx, ref)
	if err != nil {
		return Asset{}, err
	}
	if err := validate(data, kind); err != nil {
		return Asset{}, fmt.Errorf("%s: %w", ref, err)
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if err := c.store(key, digest, data); err != nil {
		return Asset{}, err
	}
	c.log.Debug().Str("ref", ref.String()).Str("digest", digest).Int("bytes", len(data)).Msg("asset cached")
	return Asset{Digest: digest, Bytes: data, Kind: kind}, nil
}

func (c *Cache) retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	switch {
	case ref.Bytes != nil:
		return ref.Bytes, nil
	case ref.Path != "":
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w: %v", ref.Path, ErrFetchFailed, err)
		}
		return data, nil
	default:
		if c.fetcher == nil {
			return nil, fmt.Errorf("%s: no fetcher configured: %w", ref, ErrFetchFailed)
		}
		data, err := c.fetcher.Fetch(ctx, ref.URL)
		if err != nil {
			if errors.Is(err, ErrFetchFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%s: %w: %v", ref, ErrFetchFailed, err)
		}
		return data, nil
	}
}

func validate(data []byte, kind Kind) error {
	switch kind {
	case KindImage:
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
	case KindFont:
		if _, err := sfnt.Parse(data); err != nil {
			return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
	}
	return nil
}

func (c *Cache) lookup(key string) (string, bool) {
	c.mu.Lock()
	digest, ok := c.digests[key]
	c.mu.Unlock()
	if ok {
		return digest, true
	}
	data, err := os.ReadFile(c.refPath(key))
	if err != nil {
		return "", false
	}
	digest = strings.TrimSpace(string(data))
	if digest == "" {
		return "", false
	}
	c.remember(key, digest)
	return digest, true
}

// store writes the object (insert-only: an existing digest is never
// rewritten) and updates the ref index. Distinct references can resolve to
// identical bytes concurrently, so each writer stages its own unique temp
// file; the rename is atomic and any winner leaves the same content.
func (c *Cache) store(key, digest string, data []byte) error {
	objPath := c.objectPath(digest)
	if _, err := os.Stat(objPath); errors.Is(err, os.ErrNotExist) {
		tmp, err := os.CreateTemp(filepath.Join(c.root, "objects"), digest+".*")
		if err != nil {
			return fmt.Errorf("write object: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("write object: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("write object: %w", err)
		}
		if err := os.Rename(tmp.Name(), objPath); err != nil {
			os.Remove(tmp.Name())
			// Losing the rename race to another writer of the same
			// digest is fine: the content is identical by construction.
			if _, serr := os.Stat(objPath); serr != nil {
				return fmt.Errorf("write object: %w", err)
			}
		}
	}
	if err := os.WriteFile(c.refPath(key), []byte(digest), 0o644); err != nil {
		return fmt.Errorf("write ref index: %w", err)
	}
	c.remember(key, digest)
	return nil
}

func (c *Cache) remember(key, digest string) {
	c.mu.Lock()
	c.digests[key] = digest
	c.mu.Unlock()
}

func (c *Cache) objectPath(digest string) string {
	return filepath.Join(c.root, "objects", digest)
}

func (c *Cache) refPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.root, "refs", hex.EncodeToString(sum[:]))
}
