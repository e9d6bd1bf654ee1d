// Package indexer brings the catalog in line with the files under the
// scan roots. Extraction runs on a pool of workers; embedding and catalog
// writes happen on a single worker fed through a bounded queue.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"mypictures/internal/catalog"
	"mypictures/internal/metadata"
	"mypictures/internal/models"
	"mypictures/internal/scanner"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Catalog is the part of the catalog store the indexer writes to.
type Catalog interface {
	Baseline(ctx context.Context) (map[string]catalog.Entry, error)
	Upsert(ctx context.Context, p *models.Photo) error
	TouchMtime(ctx context.Context, path string, st models.FileStat) error
	Delete(ctx context.Context, paths []string) (int64, error)
}

type Extractor interface {
	Extract(ctx context.Context, path string) (*metadata.Metadata, error)
	Decode(ctx context.Context, path string) (image.Image, error)
}

type Embedder interface {
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
}

// Event reports the outcome of one file. Err is set when the file failed.
type Event struct {
	RunID  string
	Path   string
	Action Action
	Err    error
	Done   int
	Total  int
}

type ProgressFunc func(Event)

type Options struct {
	Workers   int
	QueueSize int
	// DecodeSize bounds the shorter side of decoded images held in the
	// queue. The embedder resizes further.
	DecodeSize int
	DryRun     bool
	Progress   ProgressFunc
}

// Summary is the result of one run. Skipped includes Touched.
type Summary struct {
	RunID    string        `json:"run_id"`
	Added    int           `json:"added"`
	Updated  int           `json:"updated"`
	Removed  int           `json:"removed"`
	Skipped  int           `json:"skipped"`
	Touched  int           `json:"touched"`
	Failed   int           `json:"failed"`
	DryRun   bool          `json:"dry_run"`
	Duration time.Duration `json:"duration"`
}

func (s *Summary) String() string {
	return fmt.Sprintf("added=%d updated=%d removed=%d skipped=%d failed=%d (%s)",
		s.Added, s.Updated, s.Removed, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
}

type Indexer struct {
	catalog   Catalog
	extractor Extractor
	embedder  Embedder
	opts      Options
}

func New(cat Catalog, ex Extractor, em Embedder, opts Options) *Indexer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.DecodeSize < 1 {
		opts.DecodeSize = 448
	}
	return &Indexer{catalog: cat, extractor: ex, embedder: em, opts: opts}
}

// job is a file that passed extraction and waits for embedding.
type job struct {
	path   string
	action Action
	stat   models.FileStat
	hash   string
	meta   *metadata.Metadata
	img    image.Image
}

// run holds the per-run state shared by the workers.
type run struct {
	id       string
	baseline map[string]catalog.Entry
	total    int
	// scope limits pruning to entries beneath these folders when set.
	scope []string

	mu      sync.Mutex
	done    int
	summary Summary
	failed  []string
}

// Run indexes every image under roots, the complete set of scan
// locations. Catalog entries outside all of them are removed. Per-file
// failures are counted and logged; the run only aborts on cancellation,
// a catalog dimension mismatch, or a catalog that cannot be read.
func (ix *Indexer) Run(ctx context.Context, roots []string) (*Summary, error) {
	return ix.run(ctx, roots, nil)
}

// RunPaths indexes only the given folders. Pruning is limited to entries
// beneath them; the rest of the catalog is left alone.
func (ix *Indexer) RunPaths(ctx context.Context, paths []string) (*Summary, error) {
	return ix.run(ctx, paths, paths)
}

// run is shared by Run and RunPaths. A nil scope prunes the whole
// catalog.
func (ix *Indexer) run(ctx context.Context, roots, scope []string) (*Summary, error) {
	start := time.Now()
	r := &run{id: uuid.NewString(), scope: scope}
	r.summary.RunID = r.id
	r.summary.DryRun = ix.opts.DryRun
	log := logrus.WithField("run", r.id)

	baseline, err := ix.catalog.Baseline(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog state: %w", err)
	}
	r.baseline = baseline

	res, err := scanner.Collect(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	r.total = len(res.Files)
	log.Infof("Found %d candidate files, %d already cataloged", r.total, len(baseline))

	if err := ix.process(ctx, r, res.Files); err != nil {
		r.summary.Duration = time.Since(start)
		return &r.summary, err
	}

	if err := ix.prune(ctx, r, res); err != nil {
		r.summary.Duration = time.Since(start)
		return &r.summary, err
	}

	r.summary.Duration = time.Since(start)
	log.Infof("Index complete: %s", &r.summary)
	return &r.summary, nil
}

func (ix *Indexer) process(ctx context.Context, r *run, files []string) error {
	g, gctx := errgroup.WithContext(ctx)
	paths := make(chan string)
	jobs := make(chan *job, ix.opts.QueueSize)

	g.Go(func() error {
		defer close(paths)
		for _, p := range files {
			select {
			case paths <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var extractors sync.WaitGroup
	for i := 0; i < ix.opts.Workers; i++ {
		i := i
		extractors.Add(1)
		g.Go(func() error {
			defer extractors.Done()
			return ix.extractWorker(gctx, r, i, paths, jobs)
		})
	}
	g.Go(func() error {
		extractors.Wait()
		close(jobs)
		return nil
	})

	g.Go(func() error {
		return ix.embedWorker(gctx, r, jobs)
	})

	return g.Wait()
}

func (ix *Indexer) extractWorker(ctx context.Context, r *run, id int, paths <-chan string, jobs chan<- *job) error {
	for path := range paths {
		j, err := ix.inspect(ctx, r, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithField("run", r.id).Warnf("Worker %d: %s: %v", id, path, err)
			r.fail(ix.opts.Progress, path, err)
			continue
		}
		if j == nil {
			continue
		}
		select {
		case jobs <- j:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// inspect decides what to do with path and performs everything short
// of embedding. A nil job means the file is settled.
func (ix *Indexer) inspect(ctx context.Context, r *run, path string) (*job, error) {
	st, err := metadata.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	var entry *catalog.Entry
	if e, ok := r.baseline[path]; ok {
		entry = &e
	}

	if !NeedsHash(entry, st) {
		r.settle(ix.opts.Progress, path, Unchanged)
		return nil, nil
	}

	hash, err := metadata.HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}

	action := Decide(entry, st, hash)
	switch {
	case action == MetadataOnly:
		if !ix.opts.DryRun {
			if err := ix.catalog.TouchMtime(ctx, path, st); err != nil {
				return nil, err
			}
		}
		r.settle(ix.opts.Progress, path, MetadataOnly)
		return nil, nil
	case ix.opts.DryRun:
		r.settle(ix.opts.Progress, path, action)
		return nil, nil
	}

	md, err := ix.extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	img, err := ix.extractor.Decode(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return &job{
		path:   path,
		action: action,
		stat:   st,
		hash:   hash,
		meta:   md,
		img:    shrink(img, ix.opts.DecodeSize),
	}, nil
}

func (ix *Indexer) embedWorker(ctx context.Context, r *run, jobs <-chan *job) error {
	log := logrus.WithField("run", r.id)
	for j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		vec, err := ix.embedder.EmbedImage(ctx, j.img)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warnf("Embedding failed for %s: %v", j.path, err)
			r.fail(ix.opts.Progress, j.path, fmt.Errorf("embed: %w", err))
			continue
		}

		if err := ix.catalog.Upsert(ctx, buildPhoto(j, vec)); err != nil {
			if errors.Is(err, catalog.ErrDimensionMismatch) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warnf("Catalog write failed for %s: %v", j.path, err)
			r.fail(ix.opts.Progress, j.path, err)
			continue
		}

		log.Debugf("Indexed %s (%s)", j.path, j.action)
		r.settle(ix.opts.Progress, j.path, j.action)
	}
	return nil
}

// prune removes catalog entries whose files are gone. Entries beneath
// locations that could not be read are kept. Files that failed this run
// lose their entry, since it no longer reflects their content. A scoped
// run only considers entries beneath its folders.
func (ix *Indexer) prune(ctx context.Context, r *run, res *scanner.Result) error {
	present := make(map[string]bool, len(res.Files))
	for _, p := range res.Files {
		present[p] = true
	}
	for _, p := range r.failed {
		present[p] = false
	}

	var stale []string
	for path := range r.baseline {
		if !r.inScope(path) {
			continue
		}
		if ok, seen := present[path]; ok || (!seen && res.Covers(path)) {
			continue
		}
		stale = append(stale, path)
	}
	if len(stale) == 0 {
		return nil
	}

	if ix.opts.DryRun {
		r.summary.Removed = len(stale)
		return nil
	}

	n, err := ix.catalog.Delete(ctx, stale)
	if err != nil {
		return fmt.Errorf("remove stale entries: %w", err)
	}
	r.summary.Removed = int(n)
	logrus.WithField("run", r.id).Infof("Removed %d stale entries", n)
	return nil
}

func (r *run) inScope(path string) bool {
	if r.scope == nil {
		return true
	}
	for _, dir := range r.scope {
		if scanner.Within(path, dir) {
			return true
		}
	}
	return false
}

func (r *run) settle(progress ProgressFunc, path string, action Action) {
	r.mu.Lock()
	switch action {
	case Unchanged:
		r.summary.Skipped++
	case MetadataOnly:
		r.summary.Skipped++
		r.summary.Touched++
	case Reprocess:
		r.summary.Updated++
	case NewFile:
		r.summary.Added++
	}
	r.done++
	ev := Event{RunID: r.id, Path: path, Action: action, Done: r.done, Total: r.total}
	r.mu.Unlock()

	if progress != nil {
		progress(ev)
	}
}

func (r *run) fail(progress ProgressFunc, path string, err error) {
	r.mu.Lock()
	r.summary.Failed++
	r.failed = append(r.failed, path)
	r.done++
	ev := Event{RunID: r.id, Path: path, Err: err, Done: r.done, Total: r.total}
	r.mu.Unlock()

	if progress != nil {
		progress(ev)
	}
}

func buildPhoto(j *job, vec []float32) *models.Photo {
	md := j.meta
	return &models.Photo{
		FilePath:     j.path,
		FileName:     filepath.Base(j.path),
		FileSize:     j.stat.Size,
		FileHash:     j.hash,
		FileMtime:    j.stat.Mtime,
		Width:        md.Width,
		Height:       md.Height,
		Format:       md.Format,
		DateTaken:    md.DateTaken,
		CameraMake:   md.CameraMake,
		CameraModel:  md.CameraModel,
		LensModel:    md.LensModel,
		ISO:          md.ISO,
		Aperture:     md.Aperture,
		ShutterSpeed: md.ShutterSpeed,
		FocalLength:  md.FocalLength,
		Flash:        md.Flash,
		GPSLatitude:  md.GPSLatitude,
		GPSLongitude: md.GPSLongitude,
		GPSAltitude:  md.GPSAltitude,
		Embedding:    pgvector.NewVector(vec),
	}
}

// shrink scales img so its shorter side is at most size.
func shrink(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	short := min(w, h)
	if short <= size {
		return img
	}
	if w < h {
		return imaging.Resize(img, size, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, size, imaging.Lanczos)
}
