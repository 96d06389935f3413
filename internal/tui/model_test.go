package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tutor/internal/chat"
	"tutor/internal/conversation"
	"tutor/internal/manager"
)

type captureEngine struct {
	load  manager.Listener
	send  manager.Listener
	sends int
}

func (e *captureEngine) StartLoad(_ context.Context, l manager.Listener) error {
	e.load = l
	return nil
}

func (e *captureEngine) Send(_ context.Context, _ conversation.Snapshot, l manager.Listener) error {
	e.send = l
	e.sends++
	return nil
}

// deliver feeds every queued mailbox event through Update.
func deliver(m *Model) {
	for {
		select {
		case ev := <-m.mb.Events():
			m.Update(eventMsg(ev))
		default:
			return
		}
	}
}

func typeLine(m *Model, s string) tea.Cmd {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func newTestModel(t *testing.T) (*Model, *captureEngine) {
	t.Helper()
	eng := &captureEngine{}
	m := New(context.Background(), eng, "You are a tutor.", zerolog.Nop())
	t.Cleanup(m.mb.Close)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Init()
	eng.load.OnLoadComplete(true, "model ready: tiny")
	deliver(m)
	return m, eng
}

func TestModel_LoadThenAnswer(t *testing.T) {
	m, eng := newTestModel(t)
	require.Equal(t, chat.LevelReady, m.level)
	require.Equal(t, chat.MsgModelReady, m.blocks[len(m.blocks)-1].text)

	typeLine(m, "What is 2+2?")
	require.False(t, m.enabled)
	require.Equal(t, chat.MsgThinking, m.status)
	require.Equal(t, "", m.input.Value())

	eng.send.OnResponseFragment("Think")
	eng.send.OnResponseFragment(" about pairs.")
	deliver(m)
	last := m.blocks[len(m.blocks)-1]
	require.Equal(t, blockTutor, last.kind)
	require.False(t, last.done)
	require.Equal(t, "Think about pairs.", last.text)

	eng.send.OnResponseComplete(2*time.Second, "Think about pairs.")
	deliver(m)
	require.True(t, m.blocks[len(m.blocks)-1].done)
	require.True(t, m.enabled)
	require.Equal(t, "Ready (responded in 2.00s)", m.status)
	require.Equal(t, "Messages: 1 | Last: 2.00s | Avg: 2.00s", m.stats)
	require.Contains(t, m.View(), "AI Tutor")
}

func TestModel_EnterIgnoredWhileDisabled(t *testing.T) {
	m, eng := newTestModel(t)
	typeLine(m, "first")
	typeLine(m, "second")
	require.Equal(t, 1, eng.sends)
}

func TestModel_ClearAndQuit(t *testing.T) {
	m, _ := newTestModel(t)
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	require.Len(t, m.blocks, 1)
	require.Equal(t, chat.MsgCleared, m.blocks[0].text)

	cmd := typeLine(m, "/quit")
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.True(t, strings.HasPrefix(m.stats, "Messages: 0"))
}

func TestModel_FinishedAnswerRenderedOnce(t *testing.T) {
	m, eng := newTestModel(t)
	typeLine(m, "What is 2+2?")
	eng.send.OnResponseFragment("**Pairs** help.")
	eng.send.OnResponseComplete(time.Second, "**Pairs** help.")
	deliver(m)

	i := len(m.blocks) - 1
	require.True(t, m.blocks[i].done)
	require.NotEmpty(t, m.blocks[i].rendered)
	require.Equal(t, max(m.width-4, 20), m.blocks[i].renderedWidth)

	// later fragments reuse the cached rendering
	m.blocks[i].rendered = "cached answer"
	typeLine(m, "And 3+3?")
	eng.send.OnResponseFragment("Count")
	deliver(m)
	require.Equal(t, "cached answer", m.blocks[i].rendered)

	// a resize renders again at the new width
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	require.NotEqual(t, "cached answer", m.blocks[i].rendered)
}
