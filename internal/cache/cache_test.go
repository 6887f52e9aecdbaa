package cache

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls int64
	body  []byte
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func newTestCache(t *testing.T, root string, f Fetcher) *Cache {
	t.Helper()
	c, err := New(root, f, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestGetOrFetchFetchesOnce(t *testing.T) {
	fetcher := &countingFetcher{body: pngBytes(t)}
	c := newTestCache(t, t.TempDir(), fetcher)

	ref := Ref{URL: "https://example.com/a.png"}
	first, err := c.GetOrFetch(context.Background(), ref, KindImage)
	require.NoError(t, err)
	second, err := c.GetOrFetch(context.Background(), ref, KindImage)
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, first.Bytes, second.Bytes)
	assert.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls))
}

func TestGetOrFetchConcurrentSingleFlight(t *testing.T) {
	fetcher := &countingFetcher{body: pngBytes(t)}
	c := newTestCache(t, t.TempDir(), fetcher)
	ref := Ref{URL: "https://example.com/hot.png"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(context.Background(), ref, KindImage)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls), "concurrent requests must collapse to one fetch")
}

func TestGetOrFetchDistinctRefsSameContent(t *testing.T) {
	// Distinct references carrying identical bytes collapse to one object.
	// Singleflight keys on the reference, not the digest, so every store
	// below races its peers into the same object path.
	body := pngBytes(t)
	dir := t.TempDir()
	refs := make([]Ref, 16)
	for i := range refs {
		p := filepath.Join(dir, fmt.Sprintf("copy%02d.png", i))
		require.NoError(t, os.WriteFile(p, body, 0o644))
		refs[i] = Ref{Path: p}
	}

	c := newTestCache(t, t.TempDir(), nil)
	digests := make([]string, len(refs))
	errs := make([]error, len(refs))
	var wg sync.WaitGroup
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asset, err := c.GetOrFetch(context.Background(), refs[i], KindImage)
			digests[i], errs[i] = asset.Digest, err
		}(i)
	}
	wg.Wait()

	for i := range refs {
		require.NoError(t, errs[i], "ref %d", i)
		assert.Equal(t, digests[0], digests[i])
	}
	stored, err := os.ReadFile(c.objectPath(digests[0]))
	require.NoError(t, err)
	assert.Equal(t, body, stored)

	// No staging leftovers next to the object.
	entries, err := os.ReadDir(filepath.Join(c.root, "objects"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetOrFetchWarmHitRevalidates(t *testing.T) {
	// A page cached as raw bytes must not pass for an image on a later
	// request against the same reference.
	fetcher := &countingFetcher{body: []byte("<html>plain page</html>")}
	c := newTestCache(t, t.TempDir(), fetcher)
	ref := Ref{URL: "https://example.com/page"}

	_, err := c.GetOrFetch(context.Background(), ref, KindRaw)
	require.NoError(t, err)

	_, err = c.GetOrFetch(context.Background(), ref, KindImage)
	assert.ErrorIs(t, err, ErrDecodeFailed)
	assert.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls), "warm hit must not refetch")
}

func TestRefIndexSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	body := pngBytes(t)

	warm := &countingFetcher{body: body}
	c1 := newTestCache(t, root, warm)
	ref := Ref{URL: "https://example.com/persist.png"}
	first, err := c1.GetOrFetch(context.Background(), ref, KindImage)
	require.NoError(t, err)

	// A fresh Cache over the same root must serve from disk without
	// touching the network.
	cold := &countingFetcher{body: body}
	c2 := newTestCache(t, root, cold)
	second, err := c2.GetOrFetch(context.Background(), ref, KindImage)
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	assert.EqualValues(t, 0, atomic.LoadInt64(&cold.calls))
}

func TestGetOrFetchRejectsBadImage(t *testing.T) {
	fetcher := &countingFetcher{body: []byte("<html>not an image</html>")}
	c := newTestCache(t, t.TempDir(), fetcher)

	_, err := c.GetOrFetch(context.Background(), Ref{URL: "https://example.com/broken.png"}, KindImage)
	assert.ErrorIs(t, err, ErrDecodeFailed)
}

func TestGetOrFetchRawSkipsValidation(t *testing.T) {
	fetcher := &countingFetcher{body: []byte("<html>plain page</html>")}
	c := newTestCache(t, t.TempDir(), fetcher)

	asset, err := c.GetOrFetch(context.Background(), Ref{URL: "https://example.com/page"}, KindRaw)
	require.NoError(t, err)
	assert.Equal(t, fetcher.body, asset.Bytes)
}

func TestGetOrFetchEmptyRef(t *testing.T) {
	c := newTestCache(t, t.TempDir(), &countingFetcher{})
	_, err := c.GetOrFetch(context.Background(), Ref{}, KindRaw)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestGetOrFetchFetchError(t *testing.T) {
	fetcher := &countingFetcher{err: fmt.Errorf("connection refused")}
	c := newTestCache(t, t.TempDir(), fetcher)

	_, err := c.GetOrFetch(context.Background(), Ref{URL: "https://example.com/gone.png"}, KindImage)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestGetOrFetchPathAndBytesRefs(t *testing.T) {
	c := newTestCache(t, t.TempDir(), nil)

	inline, err := c.GetOrFetch(context.Background(), Ref{Bytes: pngBytes(t), Name: "inline"}, KindImage)
	require.NoError(t, err)
	assert.NotEmpty(t, inline.Digest)

	_, err = c.GetOrFetch(context.Background(), Ref{Path: "/does/not/exist.png"}, KindImage)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, "payload")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5 * time.Second)

	body, err := f.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), body)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrFetchFailed)
}
