// Package chat is the tutor's orchestrator: a single-goroutine state machine
// that owns the conversation, dispatches work to the manager and renders the
// worker events it receives through a Mailbox onto a View.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tutor/internal/conversation"
	"tutor/internal/manager"
)

// User-visible messages.
const (
	MsgInitializing = "Initializing AI Tutor..."
	MsgModelReady   = "Model ready! You can now ask questions."
	MsgCleared      = "Chat cleared. Start a new conversation!"
	MsgThinking     = "Thinking..."
	MsgLoadFailed   = "Failed to load model"
	MsgErrored      = "Error occurred"
	MsgReadyPrompt  = "Ready - Ask me anything!"
	MsgWait         = "Please wait for the current response to finish."
	MsgLoadRunning  = "A model load is already in progress."
	MsgHelp         = "Commands: /clear resets the chat, /reload reloads the model, /quit exits."
)

// Level classifies the status line.
type Level int

const (
	LevelBusy Level = iota
	LevelReady
	LevelError
)

// View is the presentation surface. All calls happen on the UI loop.
type View interface {
	SystemNotice(text string)
	UserMessage(text string)
	BeginAssistant()
	AppendAssistant(fragment string)
	EndAssistant()
	SetStatus(level Level, text string)
	SetInputEnabled(enabled bool)
	SetStats(text string)
	Clear()
}

// Engine is the part of the manager the controller drives.
type Engine interface {
	StartLoad(ctx context.Context, l manager.Listener) error
	Send(ctx context.Context, snap conversation.Snapshot, l manager.Listener) error
}

type request struct {
	id    string
	epoch uint64
}

// Controller must only be used from the UI loop.
type Controller struct {
	ctx     context.Context
	engine  Engine
	view    View
	mailbox *Mailbox
	conv    *conversation.State
	log     zerolog.Logger
	newID   func() string

	pending *request
	loadID  string
	ready   bool
}

// NewController wires a controller. Worker callbacks are posted to mb and
// must be fed back through Handle by the UI loop.
func NewController(ctx context.Context, engine Engine, view View, mb *Mailbox, directive string, log zerolog.Logger) *Controller {
	return &Controller{
		ctx:     ctx,
		engine:  engine,
		view:    view,
		mailbox: mb,
		conv:    conversation.New(directive),
		log:     log,
		newID:   uuid.NewString,
	}
}

// Start announces initialization and begins the first model load.
func (c *Controller) Start() {
	c.view.SystemNotice(MsgInitializing)
	c.view.SetStatus(LevelBusy, "Initializing...")
	c.view.SetStats(c.conv.Stats().String())
	c.startLoad()
}

// Reload starts a new load unless one is running. The current model stays
// usable until the new one is published.
func (c *Controller) Reload() {
	if c.loadID != "" {
		c.view.SystemNotice(MsgLoadRunning)
		return
	}
	c.startLoad()
}

func (c *Controller) startLoad() {
	id := c.newID()
	if err := c.engine.StartLoad(c.ctx, c.mailbox.Listener(id)); err != nil {
		if errors.Is(err, manager.ErrLoadInProgress) {
			c.view.SystemNotice(MsgLoadRunning)
			return
		}
		c.view.SystemNotice("Error: " + err.Error())
		c.view.SetStatus(LevelError, MsgLoadFailed)
		return
	}
	c.loadID = id
}

// Submit handles one line of user input. It reports true when the user asked
// to quit.
func (c *Controller) Submit(line string) (quit bool) {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}
	switch strings.ToLower(text) {
	case "/quit", "/exit":
		return true
	case "/clear":
		c.Clear()
		return false
	case "/reload":
		c.Reload()
		return false
	case "/help":
		c.view.SystemNotice(MsgHelp)
		return false
	}
	c.send(text)
	return false
}

func (c *Controller) send(text string) {
	if c.pending != nil {
		c.view.SystemNotice(MsgWait)
		return
	}
	user := conversation.Turn{Role: conversation.RoleUser, Content: text}
	snap := c.conv.Snapshot().With(user)
	id := c.newID()
	if err := c.engine.Send(c.ctx, snap, c.mailbox.Listener(id)); err != nil {
		switch {
		case manager.IsNotReady(err):
			c.view.SystemNotice("Error: " + err.Error() + ". Wait for the model to finish loading or use /reload.")
		case manager.IsBusy(err):
			c.view.SystemNotice(MsgWait)
		default:
			c.view.SystemNotice("Error: " + err.Error())
		}
		return
	}
	if err := c.conv.Append(user); err != nil {
		c.log.Error().Err(err).Msg("append user turn")
	}
	c.pending = &request{id: id, epoch: c.conv.Epoch()}
	c.log.Debug().Str("request_id", id).Int("turns", snap.Len()).Msg("request dispatched")

	c.view.UserMessage(text)
	c.view.SetInputEnabled(false)
	c.view.SetStatus(LevelBusy, MsgThinking)
	c.view.BeginAssistant()
}

// Clear resets the conversation. A request in flight finishes against its own
// snapshot; its output is no longer rendered or recorded.
func (c *Controller) Clear() {
	c.conv.Reset()
	c.view.Clear()
	c.view.SetStats(c.conv.Stats().String())
	c.view.SystemNotice(MsgCleared)
	if c.pending != nil {
		c.view.SetStatus(LevelBusy, "Finishing the previous response...")
	}
}

// Handle applies one worker event.
func (c *Controller) Handle(ev Event) {
	switch ev.Kind {
	case EventLoadProgress, EventLoadComplete:
		if ev.RequestID != c.loadID {
			c.log.Debug().Str("request_id", ev.RequestID).Stringer("kind", ev.Kind).Msg("stale load event")
			return
		}
		c.handleLoad(ev)
	case EventFragment, EventComplete, EventFailed:
		if c.pending == nil || ev.RequestID != c.pending.id {
			c.log.Debug().Str("request_id", ev.RequestID).Stringer("kind", ev.Kind).Msg("stale response event")
			return
		}
		c.handleResponse(ev)
	}
}

func (c *Controller) handleLoad(ev Event) {
	if ev.Kind == EventLoadProgress {
		c.view.SystemNotice(ev.Text)
		if c.pending == nil {
			c.view.SetStatus(LevelBusy, ev.Text)
		}
		return
	}
	c.loadID = ""
	if ev.Success {
		c.ready = true
		c.view.SystemNotice(MsgModelReady)
		if c.pending == nil {
			c.view.SetStatus(LevelReady, MsgReadyPrompt)
			c.view.SetInputEnabled(true)
		}
		return
	}
	c.view.SystemNotice("Error: " + ev.Text)
	if c.pending != nil {
		return
	}
	if c.ready {
		// the previous model is still published
		c.view.SetStatus(LevelError, "Reload failed; keeping the current model")
	} else {
		c.view.SetStatus(LevelError, MsgLoadFailed)
	}
	c.view.SetInputEnabled(true)
}

func (c *Controller) handleResponse(ev Event) {
	orphan := c.pending.epoch != c.conv.Epoch()
	switch ev.Kind {
	case EventFragment:
		if !orphan {
			c.view.AppendAssistant(ev.Text)
		}
		return
	case EventComplete:
		c.pending = nil
		if orphan {
			c.view.SetStatus(LevelReady, MsgReadyPrompt)
			c.view.SetInputEnabled(true)
			return
		}
		c.view.EndAssistant()
		if err := c.conv.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: ev.Text}); err != nil {
			c.log.Error().Err(err).Msg("append assistant turn")
		}
		c.conv.RecordLatency(ev.Latency)
		c.view.SetStats(c.conv.Stats().String())
		c.view.SetStatus(LevelReady, fmt.Sprintf("Ready (responded in %.2fs)", ev.Latency.Seconds()))
		c.view.SetInputEnabled(true)
	case EventFailed:
		c.pending = nil
		reason := "unknown error"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		c.log.Warn().Str("request_id", ev.RequestID).Str("kind", manager.KindOf(ev.Err).String()).Msg(reason)
		if !orphan {
			c.view.EndAssistant()
			c.view.SystemNotice("Error: " + reason)
		}
		c.view.SetStatus(LevelError, MsgErrored)
		c.view.SetInputEnabled(true)
	}
}

// Pending reports whether a request is in flight.
func (c *Controller) Pending() bool { return c.pending != nil }

// Loading reports whether a model load is running.
func (c *Controller) Loading() bool { return c.loadID != "" }

// Ready reports whether a model load has succeeded.
func (c *Controller) Ready() bool { return c.ready }

// Conversation returns a snapshot of the current conversation.
func (c *Controller) Conversation() conversation.Snapshot { return c.conv.Snapshot() }

// Stats returns the response statistics since the last clear.
func (c *Controller) Stats() conversation.Stats { return c.conv.Stats() }
