package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tutor/internal/backend"
	"tutor/internal/conversation"
	"tutor/internal/registry"
	"tutor/pkg/types"
)

// Manager coordinates loading and inference for a single model.
type Manager struct {
	cfg       ManagerConfig
	handle    *Handle
	loader    *Loader
	session   *Session
	gate      *gate
	log       zerolog.Logger
	pub       EventPublisher
	startTime time.Time

	mu      sync.RWMutex
	state   State
	lastErr string
	closed  bool
	loadSeq uint64

	loadsTotal  atomic.Uint64
	infersTotal atomic.Uint64
	workers     sync.WaitGroup
}

// Handle exposes the model slot, mainly for status and tests.
func (m *Manager) Handle() *Handle { return m.handle }

// Directive is the system turn used for conversations without one.
func (m *Manager) Directive() string { return m.cfg.Directive }

// Ready reports whether a model is published.
func (m *Manager) Ready() bool { return m.handle.Ready() }

// Loading reports whether a load is in progress.
func (m *Manager) Loading() bool { return m.loader.Running() }

// StartLoad begins loading the configured model on a worker goroutine and
// reports progress and the result to l. A load during a load is refused
// synchronously with ErrLoadInProgress, and any load after Close with
// ErrClosed.
func (m *Manager) StartLoad(ctx context.Context, l Listener) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	events, err := m.loader.Load(ctx)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.loadSeq++
	seq := m.loadSeq
	m.state, m.lastErr = StateLoading, ""
	m.workers.Add(1)
	m.mu.Unlock()

	m.pub.Publish(Event{Name: EventLoadStart, ModelID: m.cfg.Loader.Ref})
	go func() {
		defer m.workers.Done()
		for ev := range events {
			if !ev.Done {
				m.pub.Publish(Event{Name: EventLoadProgress, ModelID: m.cfg.Loader.Ref, Fields: map[string]any{"message": ev.Progress}})
				safeCall(m.log, func() { l.OnLoadProgress(ev.Progress) })
				continue
			}
			m.loadFinished(seq, ev)
			safeCall(m.log, func() { l.OnLoadComplete(ev.Success, ev.Message) })
		}
	}()
	return nil
}

// loadFinished records the outcome of load seq. The manager state follows
// only the latest load.
func (m *Manager) loadFinished(seq uint64, ev LoadEvent) {
	m.loadsTotal.Add(1)
	if ev.Success {
		modelLoadsTotal.WithLabelValues("success").Inc()
		modelReady.Set(1)
		m.setStateFor(seq, StateReady, "")
		m.pub.Publish(Event{Name: EventLoadReady, ModelID: ev.Model.ID})
		return
	}
	modelLoadsTotal.WithLabelValues("failure").Inc()
	m.pub.Publish(Event{Name: EventLoadFailed, ModelID: m.cfg.Loader.Ref, Fields: map[string]any{"error": ev.Message}})
	// a failed reload keeps the previously published model usable
	if m.handle.Ready() {
		m.setStateFor(seq, StateReady, ev.Message)
		return
	}
	modelReady.Set(0)
	m.setStateFor(seq, StateError, ev.Message)
}

// Reload starts a background load whose progress is only logged.
func (m *Manager) Reload(ctx context.Context) error {
	return m.StartLoad(ctx, ListenerFuncs{
		LoadProgress: func(msg string) {
			m.log.Info().Str("event", "load_progress").Msg(msg)
		},
		LoadComplete: func(ok bool, msg string) {
			if ok {
				m.log.Info().Str("event", "load_complete").Msg(msg)
			} else {
				m.log.Error().Str("event", "load_complete").Str("err", msg).Msg("reload failed")
			}
		},
	})
}

// Send dispatches one request on a worker goroutine and reports through l.
// It returns synchronously, spawning nothing, with a NotReady failure when no
// model is published, or a Busy failure while another generation runs.
func (m *Manager) Send(ctx context.Context, snap conversation.Snapshot, l Listener) error {
	if !m.handle.Ready() {
		return newFailure(KindNotReady, nil)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newFailure(KindNotReady, ErrClosed)
	}
	release, ok := m.gate.tryBegin()
	if !ok {
		m.mu.Unlock()
		return newFailure(KindBusy, nil)
	}
	m.workers.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.workers.Done()
		comp, err := m.run(ctx, snap, m.cfg.Params, l.OnResponseFragment)
		release()
		if err != nil {
			safeCall(m.log, func() { l.OnResponseError(err) })
			return
		}
		safeCall(m.log, func() { l.OnResponseComplete(comp.Latency, comp.Text) })
	}()
	return nil
}

// Infer runs one request on the caller's goroutine, waiting for admission at
// most MaxWait. onFragment may be nil.
func (m *Manager) Infer(ctx context.Context, snap conversation.Snapshot, params backend.Params, onFragment func(string)) (Completion, error) {
	if !m.handle.Ready() {
		return Completion{}, newFailure(KindNotReady, nil)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Completion{}, newFailure(KindNotReady, ErrClosed)
	}
	m.workers.Add(1)
	m.mu.Unlock()
	defer m.workers.Done()

	release, err := m.gate.begin(ctx)
	if err != nil {
		return Completion{}, err
	}
	defer release()
	return m.run(ctx, snap, params, onFragment)
}

// Chat validates a stateless HTTP conversation and runs it through Infer.
func (m *Manager) Chat(ctx context.Context, req types.ChatRequest, onFragment func(string)) (Completion, error) {
	if len(req.Messages) == 0 {
		return Completion{}, invalidRequestError{msg: "messages must not be empty"}
	}
	turns := make([]conversation.Turn, 0, len(req.Messages))
	for i, msg := range req.Messages {
		role, err := conversation.ParseRole(msg.Role)
		if err != nil {
			return Completion{}, invalidRequestError{msg: fmt.Sprintf("messages[%d]: %v", i, err)}
		}
		turns = append(turns, conversation.Turn{Role: role, Content: msg.Content})
	}
	if turns[len(turns)-1].Role != conversation.RoleUser {
		return Completion{}, invalidRequestError{msg: "last message must have role user"}
	}
	snap, err := conversation.NewSnapshot(m.cfg.Directive, turns)
	if err != nil {
		return Completion{}, invalidRequestError{msg: err.Error()}
	}

	params := m.cfg.Params
	switch {
	case req.MaxTokens < 0:
		return Completion{}, invalidRequestError{msg: "max_tokens must not be negative"}
	case req.Temperature < 0 || req.Temperature > 2:
		return Completion{}, invalidRequestError{msg: "temperature must be in [0,2]"}
	case req.TopP < 0 || req.TopP > 1:
		return Completion{}, invalidRequestError{msg: "top_p must be in [0,1]"}
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		params.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		params.TopP = req.TopP
	}
	return m.Infer(ctx, snap, params, onFragment)
}

func (m *Manager) run(ctx context.Context, snap conversation.Snapshot, params backend.Params, onFragment func(string)) (Completion, error) {
	m.infersTotal.Add(1)
	reqID := uuid.NewString()
	info, _, _ := m.handle.Current()
	log := m.log.With().Str("request_id", reqID).Str("model", info.ID).Logger()
	m.pub.Publish(Event{Name: EventInferStart, ModelID: info.ID, Fields: map[string]any{"request_id": reqID, "turns": snap.Len()}})

	comp, err := m.session.run(ctx, snap, params, func(frag string) {
		inferenceFragments.Inc()
		if onFragment != nil {
			onFragment(frag)
		}
	})
	if err != nil {
		kind := KindOf(err)
		inferenceFailures.WithLabelValues(kind.String()).Inc()
		m.pub.Publish(Event{Name: EventInferError, ModelID: info.ID, Fields: map[string]any{"request_id": reqID, "kind": kind.String(), "error": err.Error()}})
		log.Warn().Str("event", "infer_error").Str("kind", kind.String()).Err(err).Msg("inference failed")
		if kind != KindNotReady && kind != KindCanceled {
			m.setLastError(err.Error())
		}
		return Completion{}, err
	}
	inferenceDuration.Observe(comp.Latency.Seconds())
	m.pub.Publish(Event{Name: EventInferDone, ModelID: info.ID, Fields: map[string]any{"request_id": reqID, "latency_ms": comp.Latency.Milliseconds(), "fragments": comp.Fragments}})
	log.Info().Str("event", "infer_done").Dur("dur", comp.Latency).Int("fragments", comp.Fragments).Int("prompt_tokens", comp.PromptTokens).Msg("inference complete")
	return comp, nil
}

// ListModels scans the models directory. A missing directory yields no models.
func (m *Manager) ListModels() ([]types.Model, error) {
	if m.cfg.Loader.ModelsDir == "" {
		return []types.Model{}, nil
	}
	models, err := registry.LoadDir(m.cfg.Loader.ModelsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []types.Model{}, nil
		}
		return nil, err
	}
	if models == nil {
		models = []types.Model{}
	}
	return models, nil
}

// WatchModel reloads the model whenever its weights file is replaced on disk.
// It returns immediately when the published model has no local file, and
// otherwise blocks until ctx is done.
func (m *Manager) WatchModel(ctx context.Context) error {
	info, _, ok := m.handle.Current()
	if !ok || info.Path == "" {
		return nil
	}
	m.log.Info().Str("event", "watch_start").Str("model", info.Path).Msg("watching weights file")
	return registry.Watch(ctx, info.Path, m.cfg.WatchDebounce, func() {
		if err := m.Reload(ctx); err != nil {
			m.log.Warn().Str("event", "watch_reload").Err(err).Msg("reload skipped")
		}
	})
}

// Close refuses further loads and requests, waits, bounded by ctx, for
// worker goroutines and then releases the model once its leases drain.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	modelReady.Set(0)
	m.setState(StateIdle, "")
	return m.handle.Close(ctx)
}

func (m *Manager) setState(s State, errMsg string) {
	m.mu.Lock()
	m.state = s
	if errMsg != "" || s == StateReady || s == StateLoading {
		m.lastErr = errMsg
	}
	m.mu.Unlock()
}

// setStateFor applies a load outcome unless a newer load has started.
func (m *Manager) setStateFor(seq uint64, s State, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.loadSeq {
		if errMsg != "" {
			m.lastErr = errMsg
		}
		return
	}
	m.state = s
	m.lastErr = errMsg
}

func (m *Manager) setLastError(msg string) {
	m.mu.Lock()
	m.lastErr = msg
	m.mu.Unlock()
}

// safeCall shields worker goroutines from panicking listeners.
func safeCall(log zerolog.Logger, f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", "listener_panic").Interface("panic", r).Msg("listener panicked")
		}
	}()
	f()
}
