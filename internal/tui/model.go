// Package tui is the full-screen chat window: a bubbletea program that acts as
// the UI loop for chat.Controller.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"tutor/internal/chat"
)

type blockKind int

const (
	blockNotice blockKind = iota
	blockUser
	blockTutor
)

type block struct {
	kind blockKind
	text string
	// done is false while a tutor answer is still streaming.
	done bool
	// rendered caches the markdown of a finished answer at renderedWidth.
	rendered      string
	renderedWidth int
}

// eventMsg carries one mailbox event into Update.
type eventMsg chat.Event

// Model implements tea.Model and chat.View.
type Model struct {
	ctl *chat.Controller
	mb  *chat.Mailbox

	input   textinput.Model
	vp      viewport.Model
	spin    spinner.Model
	md      *glamour.TermRenderer
	mdWidth int

	blocks  []block
	status  string
	level   chat.Level
	stats   string
	enabled bool
	width   int
	height  int
}

// New builds the window and its controller.
func New(ctx context.Context, engine chat.Engine, directive string, log zerolog.Logger) *Model {
	ti := textinput.New()
	ti.Placeholder = "Ask a question... (/clear, /reload, /quit)"
	ti.CharLimit = 4096
	ti.Prompt = "> "
	ti.PromptStyle = userStyle
	ti.Focus()

	m := &Model{
		mb:      chat.NewMailbox(64),
		input:   ti,
		vp:      viewport.New(80, 20),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		enabled: true,
		width:   80,
		height:  24,
	}
	m.ctl = chat.NewController(ctx, engine, m, m.mb, directive, log)
	return m
}

// Run shows the window until the user quits or ctx ends.
func Run(ctx context.Context, engine chat.Engine, directive string, log zerolog.Logger) error {
	m := New(ctx, engine, directive, log)
	defer m.mb.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, tea.ErrInterrupted) {
		return nil
	}
	return err
}

func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.mb.Events())
	}
}

func (m *Model) Init() tea.Cmd {
	m.ctl.Start()
	return tea.Batch(textinput.Blink, m.spin.Tick, m.waitEvent())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.ctl.Handle(chat.Event(msg))
		return m, m.waitEvent()

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = max(msg.Height-5, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlL:
			m.ctl.Clear()
			return m, nil
		case tea.KeyEnter:
			if !m.enabled {
				return m, nil
			}
			line := m.input.Value()
			m.input.Reset()
			if m.ctl.Submit(line) {
				return m, tea.Quit
			}
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("AI Tutor"))
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	status := statusStyles[m.level].Render(m.status)
	if m.level == chat.LevelBusy {
		status = m.spin.View() + " " + status
	}
	b.WriteString(status)
	b.WriteString("  ")
	b.WriteString(statsStyle.Render(m.stats))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// chat.View

func (m *Model) SystemNotice(text string) { m.push(block{kind: blockNotice, text: text, done: true}) }

func (m *Model) UserMessage(text string) { m.push(block{kind: blockUser, text: text, done: true}) }

func (m *Model) BeginAssistant() { m.push(block{kind: blockTutor}) }

func (m *Model) AppendAssistant(fragment string) {
	if b := m.openAnswer(); b != nil {
		b.text += fragment
		m.refresh()
	}
}

func (m *Model) EndAssistant() {
	if b := m.openAnswer(); b != nil {
		b.text = strings.TrimSpace(b.text)
		b.done = true
		m.refresh()
	}
}

func (m *Model) SetStatus(level chat.Level, text string) { m.level, m.status = level, text }

func (m *Model) SetInputEnabled(enabled bool) {
	m.enabled = enabled
	if enabled {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) SetStats(text string) { m.stats = text }

func (m *Model) Clear() {
	// an answer still streaming belongs to the old conversation
	m.blocks = nil
	m.refresh()
}

func (m *Model) push(b block) {
	m.blocks = append(m.blocks, b)
	m.refresh()
}

func (m *Model) openAnswer() *block {
	for i := len(m.blocks) - 1; i >= 0; i-- {
		if m.blocks[i].kind == blockTutor && !m.blocks[i].done {
			return &m.blocks[i]
		}
	}
	return nil
}

func (m *Model) refresh() {
	var b strings.Builder
	for i, blk := range m.blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		switch blk.kind {
		case blockNotice:
			b.WriteString(noticeStyle.Render("* " + blk.text))
		case blockUser:
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(blk.text)
		case blockTutor:
			b.WriteString(tutorLabelStyle.Render("Tutor:"))
			b.WriteString("\n")
			if blk.done {
				b.WriteString(m.renderedAnswer(i))
			} else {
				b.WriteString(blk.text)
			}
		}
		b.WriteString("\n")
	}
	m.vp.SetContent(b.String())
	m.vp.GotoBottom()
}

// renderedAnswer returns the markdown of finished block i, rendering it again
// only after the width changed.
func (m *Model) renderedAnswer(i int) string {
	blk := &m.blocks[i]
	width := max(m.width-4, 20)
	if blk.renderedWidth != width {
		blk.rendered, blk.renderedWidth = m.markdown(blk.text, width), width
	}
	return blk.rendered
}

// markdown renders a finished answer, falling back to the raw text.
func (m *Model) markdown(text string, width int) string {
	if m.md == nil || m.mdWidth != width {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err != nil {
			return text
		}
		m.md, m.mdWidth = r, width
	}
	out, err := m.md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
