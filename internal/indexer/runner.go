package indexer

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrRunning is returned by Start while a run is in progress.
var ErrRunning = errors.New("indexer: run already in progress")

type OnComplete func(sum *Summary, err error)

// Runner executes index runs in the background, one at a time.
type Runner struct {
	ix         *Indexer
	roots      []string
	onComplete OnComplete

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

func NewRunner(ix *Indexer, roots []string, onComplete OnComplete) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ix:         ix,
		roots:      roots,
		onComplete: onComplete,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches a run unless one is already going.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunning
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.running = true
	r.wg.Add(1)
	go r.run()
	return nil
}

func (r *Runner) run() {
	defer r.wg.Done()

	sum, err := r.ix.Run(r.ctx, r.roots)
	if err != nil {
		logrus.Errorf("Index run failed: %v", err)
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	if r.onComplete != nil {
		r.onComplete(sum, err)
	}
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Shutdown cancels any run in progress and waits for it to stop.
func (r *Runner) Shutdown() {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
	})
}
