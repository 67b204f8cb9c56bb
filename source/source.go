// Package source defines the boundary between the runtime and backend
// adapters. A Factory opens a Stream of already-decoded generic events; the
// runtime never sees provider wire formats. Adapters that accept arbitrary
// provider return values implement the Adapter capability and are selected
// explicitly, or resolved through a prioritized Detectors list that returns
// exactly one match — ambiguity and no-match are configuration errors, never
// silent guesses.
package source

import (
	"context"
	"io"

	"goa.design/restream/classify"
	"goa.design/restream/event"
)

type (
	// Stream is a lazily-produced sequence of generic events. The runtime
	// requires only that iteration order is emission order, that Recv
	// returns io.EOF at a clean end (no explicit terminal event required),
	// and that Recv may return a failure at any point after zero or more
	// units.
	Stream interface {
		// Recv returns the next event, io.EOF at the end of the stream, or
		// the failure that ended it.
		Recv() (event.Event, error)

		// Close releases the stream's resources. Safe to call after Recv
		// returned an error.
		Close() error
	}

	// Factory opens a fresh stream for one source attempt. The runtime
	// calls it again on every retry of the same source, so implementations
	// must be restartable.
	Factory func(ctx context.Context) (Stream, error)

	// Adapter converts a provider-native source value into a Stream.
	// Detect must be cheap and side-effect free; Events may consume the
	// value.
	Adapter interface {
		// Name identifies the adapter in configuration errors.
		Name() string
		// Detect reports whether the adapter recognizes the raw value.
		Detect(raw any) bool
		// Events converts the raw value into an event stream.
		Events(raw any) (Stream, error)
	}

	// Detectors is a prioritized adapter list. Resolution requires exactly
	// one match.
	Detectors []Adapter

	// replay yields a fixed event slice followed by a configured terminal
	// error (or io.EOF).
	replay struct {
		events []event.Event
		err    error
		pos    int
	}

	// funcStream adapts a next function to the Stream interface.
	funcStream struct {
		next  func() (event.Event, error)
		close func() error
	}
)

// Resolve converts a raw source value through the adapter list. Exactly one
// adapter must detect the value: zero matches and multiple matches are both
// configuration errors, surfaced immediately and never retried.
func (ds Detectors) Resolve(raw any) (Stream, error) {
	var matched Adapter
	for _, a := range ds {
		if !a.Detect(raw) {
			continue
		}
		if matched != nil {
			return nil, classify.NewConfigError(
				"ambiguous source shape: adapters %q and %q both match", matched.Name(), a.Name())
		}
		matched = a
	}
	if matched == nil {
		return nil, classify.NewConfigError("no adapter matches source shape %T", raw)
	}
	return matched.Events(raw)
}

// FromEvents returns a stream that replays the given events and then ends
// cleanly. Useful for tests and composition.
func FromEvents(events ...event.Event) Stream {
	return &replay{events: events, err: io.EOF}
}

// FromEventsErr returns a stream that replays the given events and then
// fails with err.
func FromEventsErr(err error, events ...event.Event) Stream {
	return &replay{events: events, err: err}
}

// Recv implements Stream.
func (r *replay) Recv() (event.Event, error) {
	if r.pos >= len(r.events) {
		return nil, r.err
	}
	ev := r.events[r.pos]
	r.pos++
	return ev, nil
}

// Close implements Stream.
func (r *replay) Close() error { return nil }

// FromFunc adapts a next function (and optional close function) to the
// Stream interface.
func FromFunc(next func() (event.Event, error), close func() error) Stream {
	if close == nil {
		close = func() error { return nil }
	}
	return &funcStream{next: next, close: close}
}

// Recv implements Stream.
func (f *funcStream) Recv() (event.Event, error) { return f.next() }

// Close implements Stream.
func (f *funcStream) Close() error { return f.close() }
