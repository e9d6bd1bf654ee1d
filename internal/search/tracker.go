package search

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned for a request replaced by a newer one on the
// same session.
var ErrSuperseded = errors.New("search: superseded by a newer request")

// Tracker cancels the in-flight request of a session when the session
// starts a new one.
type Tracker struct {
	mu       sync.Mutex
	seq      uint64
	inflight map[string]tracked
}

type tracked struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

func NewTracker() *Tracker {
	return &Tracker{inflight: make(map[string]tracked)}
}

// Begin returns a context for a new request on session, cancelling the
// previous one with ErrSuperseded. The returned func must be called when
// the request finishes. An empty session is never tracked.
func (t *Tracker) Begin(ctx context.Context, session string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if session == "" {
		return ctx, func() { cancel(nil) }
	}

	t.mu.Lock()
	t.seq++
	seq := t.seq
	if prev, ok := t.inflight[session]; ok {
		prev.cancel(ErrSuperseded)
	}
	t.inflight[session] = tracked{seq: seq, cancel: cancel}
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		if cur, ok := t.inflight[session]; ok && cur.seq == seq {
			delete(t.inflight, session)
		}
		t.mu.Unlock()
		cancel(nil)
	}
}

// Superseded reports whether ctx was cancelled by a newer request.
func Superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSuperseded)
}

// Len returns the number of sessions with a request in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
