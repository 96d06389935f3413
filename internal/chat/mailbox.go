package chat

import (
	"sync"
	"time"

	"tutor/internal/manager"
)

// EventKind tags an Event.
type EventKind int

const (
	EventLoadProgress EventKind = iota + 1
	EventLoadComplete
	EventFragment
	EventComplete
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventLoadProgress:
		return "load_progress"
	case EventLoadComplete:
		return "load_complete"
	case EventFragment:
		return "fragment"
	case EventComplete:
		return "complete"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a worker callback captured for delivery on the UI loop.
type Event struct {
	Kind EventKind
	// RequestID names the load or request the event belongs to.
	RequestID string
	// Text is the progress message, fragment, load message or full response.
	Text    string
	Success bool
	Latency time.Duration
	Err     error
}

// Mailbox carries worker events to the UI loop in posting order. Workers
// block in Post until the UI loop takes the event or the mailbox is closed,
// so no fragment is ever dropped while the UI is alive.
type Mailbox struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewMailbox returns a mailbox buffering up to size events.
func NewMailbox(size int) *Mailbox {
	if size < 0 {
		size = 0
	}
	return &Mailbox{ch: make(chan Event, size), done: make(chan struct{})}
}

// Events is read by the UI loop.
func (m *Mailbox) Events() <-chan Event { return m.ch }

// Post delivers ev. It reports false once the mailbox is closed.
func (m *Mailbox) Post(ev Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.ch <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Close unblocks pending and future posts. Events() is never closed so a
// late worker cannot panic on send.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}

// Listener tags every callback with id and posts it.
func (m *Mailbox) Listener(id string) manager.Listener {
	return mailboxListener{mb: m, id: id}
}

type mailboxListener struct {
	mb *Mailbox
	id string
}

func (l mailboxListener) OnLoadProgress(msg string) {
	l.mb.Post(Event{Kind: EventLoadProgress, RequestID: l.id, Text: msg})
}

func (l mailboxListener) OnLoadComplete(success bool, msg string) {
	l.mb.Post(Event{Kind: EventLoadComplete, RequestID: l.id, Success: success, Text: msg})
}

func (l mailboxListener) OnResponseFragment(text string) {
	l.mb.Post(Event{Kind: EventFragment, RequestID: l.id, Text: text})
}

func (l mailboxListener) OnResponseComplete(latency time.Duration, text string) {
	l.mb.Post(Event{Kind: EventComplete, RequestID: l.id, Latency: latency, Text: text})
}

func (l mailboxListener) OnResponseError(err error) {
	l.mb.Post(Event{Kind: EventFailed, RequestID: l.id, Err: err})
}
