package manager

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tutor/internal/backend"
	"tutor/pkg/types"
)

func newTestManager(t *testing.T, m backend.Model, pub EventPublisher) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	p := writeWeights(t, dir, "tiny.gguf")
	mgr := NewWithConfig(ManagerConfig{
		Opener:    &fakeOpener{model: m},
		Loader:    LoaderConfig{Ref: p, ModelsDir: dir},
		Directive: "You are a tutor.",
		Params:    backend.Params{MaxTokens: 256, Temperature: 0.7, TopP: 0.9},
		Publisher: pub,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return mgr, dir
}

func loadOrFail(t *testing.T, mgr *Manager) *recorder {
	t.Helper()
	rec := newRecorder()
	if err := mgr.StartLoad(context.Background(), rec); err != nil {
		t.Fatalf("start load: %v", err)
	}
	rec.wait(t)
	if rec.loadOK == nil || !*rec.loadOK {
		t.Fatalf("load failed: %s", rec.loadMsg)
	}
	return rec
}

func TestNewWithConfigDefaults(t *testing.T) {
	m := NewWithConfig(ManagerConfig{Opener: &fakeOpener{}})
	if cap(m.gate.queueCh) != defaultMaxQueueDepth || m.gate.maxWait != defaultMaxWait {
		t.Fatalf("gate defaults not applied")
	}
	if m.cfg.Template.Name != "zephyr" {
		t.Fatalf("expected zephyr default, got %q", m.cfg.Template.Name)
	}
	if m.Ready() || m.Status().State != string(StateIdle) {
		t.Fatalf("expected idle and not ready")
	}
}

func TestStartLoadReportsProgressAndReady(t *testing.T) {
	pub := NewMemoryPublisher()
	mgr, _ := newTestManager(t, &scriptedModel{}, pub)
	rec := loadOrFail(t, mgr)
	if strings.Join(rec.progress, "|") != MilestoneAcquire+"|"+MilestoneMaterialize {
		t.Fatalf("unexpected progress %q", rec.progress)
	}
	if rec.loadMsg != "model ready: tiny" {
		t.Fatalf("unexpected message %q", rec.loadMsg)
	}
	st := mgr.Status()
	if st.State != "ready" || !st.Ready || st.Model == nil || st.Model.ID != "tiny.gguf" || st.LoadsTotal != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	names := pub.Names()
	if names[0] != EventLoadStart || names[len(names)-1] != EventLoadReady {
		t.Fatalf("unexpected events %q", names)
	}
}

func TestStartLoadFailure(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWithConfig(ManagerConfig{
		Opener: &fakeOpener{err: errOOM},
		Loader: LoaderConfig{Ref: writeWeights(t, dir, "tiny.gguf")},
	})
	rec := newRecorder()
	if err := mgr.StartLoad(context.Background(), rec); err != nil {
		t.Fatalf("start load: %v", err)
	}
	rec.wait(t)
	if *rec.loadOK || rec.loadMsg != "out of memory" {
		t.Fatalf("unexpected completion %v %q", *rec.loadOK, rec.loadMsg)
	}
	st := mgr.Status()
	if st.State != "error" || st.LastError != "out of memory" || st.Ready {
		t.Fatalf("unexpected status %+v", st)
	}
	if err := mgr.Send(context.Background(), tutorSnapshot(t, "hi"), newRecorder()); !IsNotReady(err) {
		t.Fatalf("expected NotReady after failed load, got %v", err)
	}
}

func TestSendBeforeLoadIsNotReady(t *testing.T) {
	mgr, _ := newTestManager(t, &scriptedModel{}, nil)
	rec := newRecorder()
	if err := mgr.Send(context.Background(), tutorSnapshot(t, "hi"), rec); !IsNotReady(err) {
		t.Fatalf("expected NotReady, got %v", err)
	}
	select {
	case <-rec.done:
		t.Fatalf("listener called for a refused send")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSendStreamsAndCompletes(t *testing.T) {
	pub := NewMemoryPublisher()
	model := &scriptedModel{tokens: []string{"Think", " about", " pairs.", "</s>"}}
	mgr, _ := newTestManager(t, model, pub)
	loadOrFail(t, mgr)

	rec := newRecorder()
	if err := mgr.Send(context.Background(), tutorSnapshot(t, "How do I solve 2x+3=7?"), rec); err != nil {
		t.Fatalf("send: %v", err)
	}
	rec.wait(t)
	if rec.err != nil {
		t.Fatalf("unexpected error %v", rec.err)
	}
	if rec.text != "Think about pairs." || strings.Join(rec.fragments, "") != "Think about pairs." {
		t.Fatalf("unexpected output %q / %q", rec.text, rec.fragments)
	}
	names := pub.Names()
	if names[len(names)-2] != EventInferStart || names[len(names)-1] != EventInferDone {
		t.Fatalf("unexpected events %q", names)
	}
	if mgr.Status().InferencesTotal != 1 {
		t.Fatalf("inference not counted")
	}
}

func TestSendWhileBusy(t *testing.T) {
	model := &scriptedModel{tokens: []string{"a"}, block: true}
	mgr, _ := newTestManager(t, model, nil)
	loadOrFail(t, mgr)

	ctx, cancel := context.WithCancel(context.Background())
	first := newRecorder()
	if err := mgr.Send(ctx, tutorSnapshot(t, "one"), first); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := mgr.Send(context.Background(), tutorSnapshot(t, "two"), newRecorder()); !IsBusy(err) {
		t.Fatalf("expected Busy, got %v", err)
	}
	cancel()
	first.wait(t)
	if !IsCanceled(first.err) {
		t.Fatalf("expected canceled, got %v", first.err)
	}
	// the slot is free again once the first request reported
	if _, ok := mgr.gate.tryBegin(); !ok {
		t.Fatalf("gate not released")
	}
}

func TestSendGenerationErrorReachesListener(t *testing.T) {
	model := &scriptedModel{tokens: []string{"par"}, err: errOOM}
	mgr, _ := newTestManager(t, model, nil)
	loadOrFail(t, mgr)
	rec := newRecorder()
	if err := mgr.Send(context.Background(), tutorSnapshot(t, "hi"), rec); err != nil {
		t.Fatalf("send: %v", err)
	}
	rec.wait(t)
	if !IsGeneration(rec.err) || rec.text != "" {
		t.Fatalf("expected generation failure, got %v text=%q", rec.err, rec.text)
	}
	if mgr.Status().LastError == "" {
		t.Fatalf("last error not recorded")
	}
}

func TestChatValidatesAndOverrides(t *testing.T) {
	model := &scriptedModel{tokens: []string{"x = 2"}}
	mgr, _ := newTestManager(t, model, nil)
	loadOrFail(t, mgr)
	ctx := context.Background()

	bad := []types.ChatRequest{
		{},
		{Messages: []types.ChatMessage{{Role: "robot", Content: "hi"}}},
		{Messages: []types.ChatMessage{{Role: "assistant", Content: "hi"}}},
		{Messages: []types.ChatMessage{{Role: "user", Content: "a"}, {Role: "system", Content: "b"}, {Role: "user", Content: "c"}}},
		{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}, Temperature: 3},
		{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}, TopP: 1.5},
		{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}, MaxTokens: -1},
	}
	for i, req := range bad {
		if _, err := mgr.Chat(ctx, req, nil); !IsInvalidRequest(err) {
			t.Fatalf("case %d: expected invalid request, got %v", i, err)
		}
	}

	var frags []string
	c, err := mgr.Chat(ctx, types.ChatRequest{
		Messages:  []types.ChatMessage{{Role: "user", Content: "2x+3=7?"}},
		MaxTokens: 32,
		TopP:      0.5,
	}, func(f string) { frags = append(frags, f) })
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if c.Text != "x = 2" || len(frags) != 1 {
		t.Fatalf("unexpected completion %+v", c)
	}
	p := model.lastParams()
	if p.MaxTokens != 32 || p.TopP != 0.5 || p.Temperature != 0.7 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if !strings.HasPrefix(model.lastPrompt(), "<|system|>\nYou are a tutor.</s>\n") {
		t.Fatalf("directive not prepended: %q", model.lastPrompt())
	}
}

func TestInferNotReady(t *testing.T) {
	mgr, _ := newTestManager(t, &scriptedModel{}, nil)
	if _, err := mgr.Infer(context.Background(), tutorSnapshot(t, "hi"), backend.Params{}, nil); !IsNotReady(err) {
		t.Fatalf("expected NotReady, got %v", err)
	}
}

func TestFailedReloadKeepsModel(t *testing.T) {
	model := &scriptedModel{tokens: []string{"ok"}}
	mgr, _ := newTestManager(t, model, nil)
	loadOrFail(t, mgr)

	mgr.cfg.Opener.(*fakeOpener).err = errOOM
	rec := newRecorder()
	if err := mgr.StartLoad(context.Background(), rec); err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec.wait(t)
	if *rec.loadOK {
		t.Fatalf("expected reload failure")
	}
	st := mgr.Status()
	if st.State != "ready" || !st.Ready || st.LastError != "out of memory" || st.Generation != 1 {
		t.Fatalf("unexpected status after failed reload %+v", st)
	}
}

func TestListModels(t *testing.T) {
	mgr, dir := newTestManager(t, &scriptedModel{}, nil)
	writeWeights(t, dir, "b.gguf")
	writeWeights(t, dir, "notes.txt")
	models, err := mgr.ListModels()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(models) != 2 || models[0].ID != "b.gguf" || models[1].ID != "tiny.gguf" {
		t.Fatalf("unexpected models %+v", models)
	}

	empty := NewWithConfig(ManagerConfig{Opener: &fakeOpener{}, Loader: LoaderConfig{ModelsDir: filepath.Join(dir, "nope")}})
	models, err = empty.ListModels()
	if err != nil || len(models) != 0 {
		t.Fatalf("missing dir: %v %+v", err, models)
	}
}

func TestWatchModelWithoutPathReturns(t *testing.T) {
	mgr, _ := newTestManager(t, &scriptedModel{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mgr.WatchModel(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}
}
