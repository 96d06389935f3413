package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tutor/internal/backend"
	"tutor/internal/common/fsutil"
	"tutor/internal/registry"
	"tutor/pkg/types"
)

// Load milestones, always emitted in this order before the terminal event.
const (
	MilestoneAcquire     = "acquiring weights"
	MilestoneMaterialize = "materializing model"
)

// LoadEvent is one item of a load sequence: a progress message, or the
// terminal result when Done is set.
type LoadEvent struct {
	Progress string
	Done     bool
	Success  bool
	// Message is human-readable: "model ready: <name>" on success, the cause
	// on failure.
	Message string
	Model   types.Model
	// Err is a KindLoad *Failure when Success is false.
	Err error
}

// LoaderConfig tells the loader where weights come from.
type LoaderConfig struct {
	// Ref is a file path, a registry id or name, or a backend model name.
	Ref       string
	ModelsDir string
	// ModelURL is downloaded into ModelsDir when Ref resolves nowhere else.
	ModelURL         string
	HTTPClient       *http.Client
	ProgressInterval time.Duration
}

// Loader acquires and materializes weights on a worker goroutine and
// publishes the result into a Handle. It is the Handle's only writer.
type Loader struct {
	cfg     LoaderConfig
	opener  backend.Opener
	handle  *Handle
	log     zerolog.Logger
	running atomic.Bool
}

// NewLoader builds a loader publishing into h.
func NewLoader(cfg LoaderConfig, opener backend.Opener, h *Handle, log zerolog.Logger) *Loader {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	return &Loader{cfg: cfg, opener: opener, handle: h, log: log}
}

// Running reports whether a load is in progress.
func (l *Loader) Running() bool { return l.running.Load() }

// Load starts a load and returns its event sequence. Events arrive in
// emission order and the channel is closed after the terminal event; the
// caller must drain it. A load while another is running is refused with
// ErrLoadInProgress.
func (l *Loader) Load(ctx context.Context) (<-chan LoadEvent, error) {
	if !l.running.CompareAndSwap(false, true) {
		return nil, ErrLoadInProgress
	}
	ch := make(chan LoadEvent, 8)
	go func() {
		defer close(ch)
		res := l.load(ctx, func(msg string) { ch <- LoadEvent{Progress: msg} })
		l.running.Store(false)
		ch <- res
	}()
	return ch, nil
}

func (l *Loader) load(ctx context.Context, progress func(string)) (ev LoadEvent) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ev = l.failed(fmt.Errorf("panic: %v", r))
		}
	}()

	progress(MilestoneAcquire)
	mdl, err := l.acquire(ctx, progress)
	if err != nil {
		return l.failed(err)
	}
	progress(MilestoneMaterialize)
	arts, err := l.opener.Open(ctx, mdl)
	if err != nil {
		return l.failed(err)
	}
	if arts == nil || arts.Model == nil {
		return l.failed(errors.New("backend returned no model"))
	}
	if arts.Info.ID == "" {
		arts.Info = mdl
	}
	if arts.Backend == "" {
		arts.Backend = l.opener.Name()
	}
	gen := l.handle.Publish(arts)
	name := displayName(mdl)
	l.log.Info().Str("event", "load_ready").Str("model", name).Uint64("generation", gen).Dur("dur", time.Since(start)).Msg("model published")
	return LoadEvent{Done: true, Success: true, Message: "model ready: " + name, Model: mdl}
}

func (l *Loader) failed(cause error) LoadEvent {
	l.log.Error().Str("event", "load_failed").Err(cause).Msg("model load failed")
	return LoadEvent{Done: true, Message: cause.Error(), Err: newFailure(KindLoad, cause)}
}

// acquire resolves the configured reference: backend-owned acquisition, an
// existing file, a registry entry, then a download.
func (l *Loader) acquire(ctx context.Context, progress func(string)) (types.Model, error) {
	ref := strings.TrimSpace(l.cfg.Ref)
	if acq, ok := l.opener.(backend.Acquirer); ok {
		return acq.Acquire(ctx, ref, progress)
	}
	if ref != "" {
		if p, err := fsutil.ExpandHome(ref); err == nil && fsutil.IsRegularFile(p) {
			return modelFromPath(p)
		}
	}
	if l.cfg.ModelsDir != "" && ref != "" {
		models, err := registry.LoadDir(l.cfg.ModelsDir)
		if err != nil {
			l.log.Debug().Str("event", "registry_scan").Err(err).Msg("models dir not readable")
		} else if m, ok := registry.Resolve(models, ref); ok {
			return m, nil
		}
	}
	if l.cfg.ModelURL != "" {
		return download(ctx, l.cfg.HTTPClient, l.cfg.ModelURL, l.cfg.ModelsDir, filepath.Base(ref), l.cfg.ProgressInterval, progress)
	}
	return types.Model{}, fmt.Errorf("model not found: %q", ref)
}

func modelFromPath(p string) (types.Model, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return types.Model{}, fmt.Errorf("abs path: %w", err)
	}
	m := types.Model{ID: filepath.Base(abs), Name: fsutil.Stem(abs), Path: abs}
	if size, ok := fsutil.FileSize(abs); ok {
		m.SizeBytes = size
	}
	return m, nil
}

func displayName(m types.Model) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
