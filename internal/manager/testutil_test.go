package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tutor/internal/backend"
	"tutor/pkg/types"
)

// scriptedModel emits tokens in order. It can fail after the tokens, panic,
// block until canceled, or ignore cancellation for a while.
type scriptedModel struct {
	tokens   []string
	delay    time.Duration
	err      error
	panicMsg string
	block    bool
	linger   time.Duration // keeps running this long after ctx is canceled
	closeErr error

	mu      sync.Mutex
	prompts []string
	params  []backend.Params
	closed  atomic.Int32
}

func (s *scriptedModel) Generate(ctx context.Context, prompt string, p backend.Params) (string, error) {
	var out string
	err := s.GenerateStream(ctx, prompt, p, func(t string) error { out += t; return nil })
	return out, err
}

func (s *scriptedModel) GenerateStream(ctx context.Context, prompt string, p backend.Params, onToken func(string) error) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.params = append(s.params, p)
	s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	for _, tok := range s.tokens {
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return s.exit(ctx)
			}
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	if s.block {
		<-ctx.Done()
		return s.exit(ctx)
	}
	return s.err
}

func (s *scriptedModel) exit(ctx context.Context) error {
	if s.linger > 0 {
		time.Sleep(s.linger)
	}
	return ctx.Err()
}

func (s *scriptedModel) Close() error {
	s.closed.Add(1)
	return s.closeErr
}

func (s *scriptedModel) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

func (s *scriptedModel) lastParams() backend.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.params) == 0 {
		return backend.Params{}
	}
	return s.params[len(s.params)-1]
}

type fixedTokenizer struct {
	n   int
	err error
}

func (f fixedTokenizer) Encode(context.Context, string) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]int, f.n), nil
}

// fakeOpener hands out a fixed model, or fails with err.
type fakeOpener struct {
	model  backend.Model
	err    error
	delay  time.Duration
	opened atomic.Int32
	gate   chan struct{} // when set, Open waits for it
}

func (f *fakeOpener) Name() string { return "fake" }

func (f *fakeOpener) Open(ctx context.Context, m types.Model) (*backend.Artifacts, error) {
	f.opened.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &backend.Artifacts{Model: f.model, Tokenizer: fixedTokenizer{n: 7}, Info: m}, nil
}

// acquiringOpener fetches weights itself and reports milestones.
type acquiringOpener struct {
	fakeOpener
	steps []string
}

func (a *acquiringOpener) Acquire(_ context.Context, ref string, progress func(string)) (types.Model, error) {
	for _, s := range a.steps {
		progress(s)
	}
	return types.Model{ID: ref, Name: ref}, nil
}

var errOOM = errors.New("out of memory")

// writeWeights creates a small weights file and returns its path.
func writeWeights(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return p
}

// publish puts m into a fresh handle.
func publish(m backend.Model) *Handle {
	h := NewHandle()
	h.Publish(&backend.Artifacts{Model: m, Tokenizer: fixedTokenizer{n: 3}, Info: types.Model{ID: "m.gguf", Name: "m"}})
	return h
}

// drain collects load events until the channel closes.
func drain(t *testing.T, ch <-chan LoadEvent) []LoadEvent {
	t.Helper()
	var out []LoadEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("load did not finish; got %+v", out)
		}
	}
}

// recorder is a Listener capturing callbacks in order.
type recorder struct {
	mu        sync.Mutex
	progress  []string
	fragments []string
	loadOK    *bool
	loadMsg   string
	text      string
	latency   time.Duration
	err       error
	done      chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 4)} }

func (r *recorder) OnLoadProgress(msg string) {
	r.mu.Lock()
	r.progress = append(r.progress, msg)
	r.mu.Unlock()
}

func (r *recorder) OnLoadComplete(success bool, msg string) {
	r.mu.Lock()
	r.loadOK = &success
	r.loadMsg = msg
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) OnResponseFragment(text string) {
	r.mu.Lock()
	r.fragments = append(r.fragments, text)
	r.mu.Unlock()
}

func (r *recorder) OnResponseComplete(latency time.Duration, text string) {
	r.mu.Lock()
	r.latency = latency
	r.text = text
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) OnResponseError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("listener not called")
	}
}
