package manager

import (
	"errors"
	"fmt"
)

// Kind classifies a Failure.
type Kind int

const (
	// KindLoad: weights could not be acquired or materialized.
	KindLoad Kind = iota + 1
	// KindNotReady: inference requested before a model was published.
	KindNotReady
	// KindGeneration: the producer failed during generation.
	KindGeneration
	// KindStreamStall: no fragment within the stall timeout, or the producer
	// did not exit within the join grace.
	KindStreamStall
	// KindBusy: the admission gate refused the request.
	KindBusy
	// KindCanceled: the caller's context ended first.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindNotReady:
		return "not_ready"
	case KindGeneration:
		return "generation"
	case KindStreamStall:
		return "stream_stall"
	case KindBusy:
		return "busy"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Failure is the structured error delivered for every worker-side failure.
type Failure struct {
	Kind  Kind
	Cause error
}

func newFailure(kind Kind, cause error) *Failure { return &Failure{Kind: kind, Cause: cause} }

func (f *Failure) Error() string {
	var prefix string
	switch f.Kind {
	case KindLoad:
		prefix = "model load failed"
	case KindNotReady:
		prefix = "model not ready"
	case KindGeneration:
		prefix = "generation failed"
	case KindStreamStall:
		prefix = "stream stalled"
	case KindBusy:
		prefix = "busy: a response is already being generated"
	case KindCanceled:
		prefix = "canceled"
	default:
		prefix = "failure"
	}
	if f.Cause == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// KindOf returns the Failure kind carried by err, or 0.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// IsNotReady reports whether err is a NotReady failure (return 503).
func IsNotReady(err error) bool { return KindOf(err) == KindNotReady }

// IsBusy reports whether err indicates backpressure (return 429).
func IsBusy(err error) bool { return KindOf(err) == KindBusy }

// IsStall reports whether err is a StreamStall failure.
func IsStall(err error) bool { return KindOf(err) == KindStreamStall }

// IsGeneration reports whether err is a Generation failure.
func IsGeneration(err error) bool { return KindOf(err) == KindGeneration }

// IsLoadFailure reports whether err is a Load failure.
func IsLoadFailure(err error) bool { return KindOf(err) == KindLoad }

// IsCanceled reports whether err is a Canceled failure.
func IsCanceled(err error) bool { return KindOf(err) == KindCanceled }

// ErrLoadInProgress is returned when a load is requested while one is running.
var ErrLoadInProgress = errors.New("a model load is already in progress")

// ErrClosed is returned for loads and requests after Close.
var ErrClosed = errors.New("manager closed")

// invalidRequestError marks caller mistakes (return 400).
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return e.msg }

// IsInvalidRequest reports whether err was caused by a malformed request.
func IsInvalidRequest(err error) bool {
	var ir invalidRequestError
	return errors.As(err, &ir)
}
