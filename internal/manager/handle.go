package manager

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"tutor/internal/backend"
	"tutor/pkg/types"
)

// Handle is the single ownership slot for the loaded model. It starts empty
// (not ready). The loader is its only writer; sessions read it through leases.
// Publish swaps in new artifacts atomically: a reader holds either the whole
// old generation or the whole new one. Replaced artifacts are closed only
// after every lease taken on them has been released.
type Handle struct {
	mu  sync.RWMutex
	cur *generation
	gen uint64
	log zerolog.Logger
}

type generation struct {
	arts    *backend.Artifacts
	id      uint64
	refs    sync.WaitGroup
	retired chan struct{}
}

// NewHandle returns an empty, not-ready handle.
func NewHandle() *Handle { return &Handle{log: zerolog.Nop()} }

// SetLogger sets where retirement failures are reported. Call it before the
// first Publish.
func (h *Handle) SetLogger(log zerolog.Logger) { h.log = log }

// Ready reports whether artifacts are published.
func (h *Handle) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur != nil
}

// Current describes the published model and its generation number.
func (h *Handle) Current() (types.Model, uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cur == nil {
		return types.Model{}, h.gen, false
	}
	return h.cur.arts.Info, h.cur.id, true
}

// Acquire takes a lease on the current generation. It fails with a NotReady
// failure when nothing is published.
func (h *Handle) Acquire() (*Lease, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cur == nil {
		return nil, newFailure(KindNotReady, nil)
	}
	h.cur.refs.Add(1)
	return &Lease{g: h.cur}, nil
}

// Publish makes arts the current generation and retires the previous one in
// the background. It returns the new generation number.
func (h *Handle) Publish(arts *backend.Artifacts) uint64 {
	h.mu.Lock()
	old := h.cur
	h.gen++
	h.cur = &generation{arts: arts, id: h.gen, retired: make(chan struct{})}
	id := h.gen
	h.mu.Unlock()
	if old != nil {
		go old.retire(h.log)
	}
	return id
}

// Close unpublishes the current generation and waits, bounded by ctx, for its
// leases to drain and its artifacts to close.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	old := h.cur
	h.cur = nil
	h.mu.Unlock()
	if old == nil {
		return nil
	}
	go old.retire(h.log)
	select {
	case <-old.retired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *generation) retire(log zerolog.Logger) {
	g.refs.Wait()
	if err := g.arts.Close(); err != nil {
		log.Warn().Str("event", "model_close").Str("model", g.arts.Info.ID).Uint64("generation", g.id).Err(err).Msg("closing retired model failed")
	}
	close(g.retired)
}

// Lease is a reader's claim on one generation of artifacts.
type Lease struct {
	g    *generation
	once sync.Once
}

// Artifacts returns the leased model and tokenizer.
func (l *Lease) Artifacts() *backend.Artifacts { return l.g.arts }

// Generation is the number of the leased generation.
func (l *Lease) Generation() uint64 { return l.g.id }

// Release gives the lease back. Extra calls are no-ops.
func (l *Lease) Release() {
	l.once.Do(l.g.refs.Done)
}
