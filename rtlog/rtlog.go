// Package rtlog provides the ambient structured logging used by both the
// blocking lane and the readiness selector. It is a thin convenience
// layer over github.com/joeycumines/logiface fronting
// github.com/joeycumines/stumpy, mirroring the category-tagged records
// the rest of the retrieval pack's event loop emits ("worker",
// "acceptance", "deadline", "poll", "selector", "shutdown"), but built on
// a real structured-logging library instead of a hand-rolled one.
//
// A nil *Logger is always safe to use: every method degrades to a no-op,
// matching logiface's own nil-receiver safety.
package rtlog

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type shared by Pool and Selector.
type Logger = logiface.Logger[*stumpy.Event]

// Category names used as the "category" field on every record emitted by
// this module.
const (
	CategoryWorker     = "worker"
	CategoryAcceptance = "acceptance"
	CategoryDeadline   = "deadline"
	CategoryPoll       = "poll"
	CategorySelector   = "selector"
	CategoryShutdown   = "shutdown"
	CategoryChannel    = "channel"
)

// New builds a Logger writing newline-delimited JSON to w. If w is nil,
// os.Stderr is used (stumpy's own default).
func New(w io.Writer) *Logger {
	var opts []stumpy.Option
	if w != nil {
		opts = append(opts, stumpy.WithWriter(w))
	}
	return stumpy.L.New(stumpy.L.WithStumpy(opts...))
}

// NewDiscard builds a Logger that writes to io.Discard, useful for
// enabling the code paths that build log fields without producing
// output (e.g. in benchmarks).
func NewDiscard() *Logger {
	return New(io.Discard)
}

// Worker, Acceptance, Deadline, Poll, Selector, Shutdown, and Channel
// start a builder at Debug level tagged with the matching category. A
// nil logger yields a nil *Builder, which no-ops through to Log per
// logiface's nil-safety, so callers never need to check l != nil first.
func Worker(l *Logger, ticket uint64) *logiface.Builder[*stumpy.Event] {
	return category(l, CategoryWorker).Int64(`ticket`, int64(ticket))
}

func Acceptance(l *Logger) *logiface.Builder[*stumpy.Event] {
	return category(l, CategoryAcceptance)
}

func Deadline(l *Logger) *logiface.Builder[*stumpy.Event] {
	return category(l, CategoryDeadline)
}

func Poll(l *Logger) *logiface.Builder[*stumpy.Event] {
	return category(l, CategoryPoll)
}

func Selector(l *Logger) *logiface.Builder[*stumpy.Event] {
	return category(l, CategorySelector)
}

func Shutdown(l *Logger) *logiface.Builder[*stumpy.Event] {
	return category(l, CategoryShutdown)
}

func Channel(l *Logger) *logiface.Builder[*stumpy.Event] {
	return category(l, CategoryChannel)
}

// Fatal opens an Emerg-level builder tagged with category, for trapped
// invariant violations (§7: fatal/trap conditions are logged before the
// process-level panic/abort or the degrade-to-typed-error path).
func Fatal(l *Logger, category_ string) *logiface.Builder[*stumpy.Event] {
	if l == nil {
		return nil
	}
	return l.Emerg().Str(`category`, category_)
}

func category(l *Logger, name string) *logiface.Builder[*stumpy.Event] {
	if l == nil {
		return nil
	}
	return l.Debug().Str(`category`, name)
}
