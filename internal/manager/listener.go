package manager

import "time"

// Listener is the event surface the core emits toward presentation. Calls
// arrive on worker goroutines; implementations marshal them onto the UI loop
// before touching UI state. For one request, every OnResponseFragment call
// happens before its OnResponseComplete or OnResponseError.
type Listener interface {
	OnLoadProgress(msg string)
	OnLoadComplete(success bool, msg string)
	OnResponseFragment(text string)
	OnResponseComplete(latency time.Duration, text string)
	OnResponseError(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	LoadProgress     func(msg string)
	LoadComplete     func(success bool, msg string)
	ResponseFragment func(text string)
	ResponseComplete func(latency time.Duration, text string)
	ResponseError    func(err error)
}

func (l ListenerFuncs) OnLoadProgress(msg string) {
	if l.LoadProgress != nil {
		l.LoadProgress(msg)
	}
}

func (l ListenerFuncs) OnLoadComplete(success bool, msg string) {
	if l.LoadComplete != nil {
		l.LoadComplete(success, msg)
	}
}

func (l ListenerFuncs) OnResponseFragment(text string) {
	if l.ResponseFragment != nil {
		l.ResponseFragment(text)
	}
}

func (l ListenerFuncs) OnResponseComplete(latency time.Duration, text string) {
	if l.ResponseComplete != nil {
		l.ResponseComplete(latency, text)
	}
}

func (l ListenerFuncs) OnResponseError(err error) {
	if l.ResponseError != nil {
		l.ResponseError(err)
	}
}
