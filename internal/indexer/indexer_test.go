package indexer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mypictures/internal/catalog"
	"mypictures/internal/metadata"
	"mypictures/internal/models"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCatalog struct {
	mu        sync.Mutex
	photos    map[string]*models.Photo
	upsertErr error
	upserts   int
	touches   int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{photos: make(map[string]*models.Photo)}
}

func (c *memCatalog) Baseline(ctx context.Context) (map[string]catalog.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]catalog.Entry, len(c.photos))
	for k, p := range c.photos {
		out[k] = catalog.Entry{Size: p.FileSize, Mtime: p.FileMtime, Hash: p.FileHash}
	}
	return out, nil
}

func (c *memCatalog) Upsert(ctx context.Context, p *models.Photo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.upsertErr != nil {
		return c.upsertErr
	}
	c.upserts++
	c.photos[p.FilePath] = p
	return nil
}

func (c *memCatalog) TouchMtime(ctx context.Context, path string, st models.FileStat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.photos[path]
	if !ok {
		return catalog.ErrNotFound
	}
	c.touches++
	p.FileSize, p.FileMtime = st.Size, st.Mtime
	return nil
}

func (c *memCatalog) Delete(ctx context.Context, paths []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, p := range paths {
		if _, ok := c.photos[p]; ok {
			delete(c.photos, p)
			n++
		}
	}
	return n, nil
}

func (c *memCatalog) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for k := range c.photos {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (e *countingEmbedder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	e.calls.Add(1)
	return []float32{1, 0, 0}, nil
}

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
}

func photoDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func newTestIndexer(cat Catalog, em Embedder, opts Options) *Indexer {
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	return New(cat, &metadata.Extractor{}, em, opts)
}

func TestRun_IndexesAndIsIdempotent(t *testing.T) {
	dir := photoDir(t)
	for i, c := range []color.Color{color.White, color.Black, color.RGBA{R: 255, A: 255}} {
		writePNG(t, filepath.Join(dir, fmt.Sprintf("p%d.png", i)), 16, 12, c)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	cat := newMemCatalog()
	em := &countingEmbedder{}
	ix := newTestIndexer(cat, em, Options{})

	sum, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Added)
	assert.Equal(t, 0, sum.Failed)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, int32(3), em.calls.Load())

	p := cat.photos[filepath.Join(dir, "p0.png")]
	require.NotNil(t, p)
	assert.Equal(t, "p0.png", p.FileName)
	assert.Equal(t, 16, p.Width)
	assert.Equal(t, "PNG", p.Format)
	assert.Len(t, p.FileHash, 64)

	sum, err = ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Added)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 0, sum.Removed)
	assert.Equal(t, 3, sum.Skipped)
	assert.Equal(t, int32(3), em.calls.Load())
}

func TestRun_TouchedFileIsNotReembedded(t *testing.T) {
	dir := photoDir(t)
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 8, 8, color.White)

	cat := newMemCatalog()
	em := &countingEmbedder{}
	ix := newTestIndexer(cat, em, Options{})
	_, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	sum, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Touched)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, int32(1), em.calls.Load())
	assert.True(t, cat.photos[path].FileMtime.Equal(metadata.NormalizeTime(later)))

	// the stored mtime now matches, so the next run does not even hash
	sum, err = ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Touched)
	assert.Equal(t, 1, cat.touches)
}

func TestRun_ContentChangeWithPreservedMtime(t *testing.T) {
	dir := photoDir(t)
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, 8, 8, color.White)

	info, err := os.Stat(path)
	require.NoError(t, err)
	mtime := info.ModTime()

	cat := newMemCatalog()
	em := &countingEmbedder{}
	ix := newTestIndexer(cat, em, Options{})
	_, err = ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	oldHash := cat.photos[path].FileHash

	writePNG(t, path, 32, 20, color.Black)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	sum, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, int32(2), em.calls.Load())
	assert.NotEqual(t, oldHash, cat.photos[path].FileHash)
	assert.Equal(t, 32, cat.photos[path].Width)
}

func TestRun_RemovesDeletedFiles(t *testing.T) {
	dir := photoDir(t)
	keep := filepath.Join(dir, "keep.png")
	gone := filepath.Join(dir, "gone.png")
	writePNG(t, keep, 4, 4, color.White)
	writePNG(t, gone, 4, 4, color.Black)

	cat := newMemCatalog()
	ix := newTestIndexer(cat, &countingEmbedder{}, Options{})
	_, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))
	sum, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, []string{keep}, cat.paths())
}

func TestRun_EntriesOutsideRootsAreRemoved(t *testing.T) {
	dir := photoDir(t)
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4, color.White)

	cat := newMemCatalog()
	cat.photos["/elsewhere/old.jpg"] = &models.Photo{FilePath: "/elsewhere/old.jpg"}

	ix := newTestIndexer(cat, &countingEmbedder{}, Options{})
	sum, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, []string{filepath.Join(dir, "a.png")}, cat.paths())
}

func TestRunPaths_LeavesOtherFoldersAlone(t *testing.T) {
	base := photoDir(t)
	older := filepath.Join(base, "2023")
	newer := filepath.Join(base, "2024")
	require.NoError(t, os.MkdirAll(older, 0o755))
	require.NoError(t, os.MkdirAll(newer, 0o755))
	y := filepath.Join(older, "y.png")
	x := filepath.Join(newer, "x.png")
	gone := filepath.Join(newer, "gone.png")
	writePNG(t, y, 4, 4, color.White)
	writePNG(t, x, 4, 4, color.Black)
	writePNG(t, gone, 4, 4, color.RGBA{G: 255, A: 255})

	cat := newMemCatalog()
	ix := newTestIndexer(cat, &countingEmbedder{}, Options{})
	sum, err := ix.Run(context.Background(), []string{base})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Added)

	require.NoError(t, os.Remove(gone))
	sum, err = ix.RunPaths(context.Background(), []string{newer})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, []string{y, x}, cat.paths())
}

func TestRunPaths_KeepsEntriesOutsidePaths(t *testing.T) {
	dir := photoDir(t)
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4, color.White)

	cat := newMemCatalog()
	cat.photos["/elsewhere/old.jpg"] = &models.Photo{FilePath: "/elsewhere/old.jpg"}

	ix := newTestIndexer(cat, &countingEmbedder{}, Options{})
	sum, err := ix.RunPaths(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Removed)
	assert.ElementsMatch(t, []string{"/elsewhere/old.jpg", filepath.Join(dir, "a.png")}, cat.paths())
}

func TestRun_MissingRootKeepsEntries(t *testing.T) {
	dir := photoDir(t)
	missing := filepath.Join(dir, "unmounted")
	stale := filepath.Join(missing, "x.jpg")

	cat := newMemCatalog()
	cat.photos[stale] = &models.Photo{FilePath: stale}

	ix := newTestIndexer(cat, &countingEmbedder{}, Options{})
	sum, err := ix.Run(context.Background(), []string{missing})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Removed)
	assert.Equal(t, []string{stale}, cat.paths())
}

func TestRun_FailureIsIsolated(t *testing.T) {
	dir := photoDir(t)
	writePNG(t, filepath.Join(dir, "good.png"), 4, 4, color.White)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.jpg"), []byte("not a jpeg"), 0o644))

	var (
		mu     sync.Mutex
		events []Event
	)
	cat := newMemCatalog()
	ix := newTestIndexer(cat, &countingEmbedder{}, Options{Progress: func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}})

	sum, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{filepath.Join(dir, "good.png")}, cat.paths())

	require.Len(t, events, 2)
	var failed int
	for _, ev := range events {
		assert.Equal(t, 2, ev.Total)
		if ev.Err != nil {
			failed++
			assert.Equal(t, filepath.Join(dir, "bad.jpg"), ev.Path)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRun_DimensionMismatchAborts(t *testing.T) {
	dir := photoDir(t)
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4, color.White)
	writePNG(t, filepath.Join(dir, "b.png"), 4, 4, color.Black)

	cat := newMemCatalog()
	cat.upsertErr = fmt.Errorf("upsert: %w", catalog.ErrDimensionMismatch)
	cat.photos["/elsewhere/old.jpg"] = &models.Photo{FilePath: "/elsewhere/old.jpg"}

	ix := newTestIndexer(cat, &countingEmbedder{}, Options{})
	_, err := ix.Run(context.Background(), []string{dir})
	assert.ErrorIs(t, err, catalog.ErrDimensionMismatch)
	// no pruning after an aborted run
	assert.Equal(t, []string{"/elsewhere/old.jpg"}, cat.paths())
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	dir := photoDir(t)
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4, color.White)

	cat := newMemCatalog()
	cat.photos["/elsewhere/old.jpg"] = &models.Photo{FilePath: "/elsewhere/old.jpg"}
	em := &countingEmbedder{}

	ix := newTestIndexer(cat, em, Options{DryRun: true})
	sum, err := ix.Run(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, int32(0), em.calls.Load())
	assert.Equal(t, 0, cat.upserts)
	assert.Equal(t, []string{"/elsewhere/old.jpg"}, cat.paths())
}

func TestRun_Cancelled(t *testing.T) {
	dir := photoDir(t)
	writePNG(t, filepath.Join(dir, "a.png"), 4, 4, color.White)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := newTestIndexer(newMemCatalog(), &countingEmbedder{}, Options{})
	_, err := ix.Run(ctx, []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShrink(t *testing.T) {
	img := imaging.New(1000, 500, color.White)
	out := shrink(img, 100)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())

	small := imaging.New(50, 80, color.White)
	assert.Same(t, small, shrink(small, 100))
}
