// Package event defines the generic event union delivered by the runtime to
// callers. Source adapters decode provider-native chunks into these events;
// the orchestrator consumes them, applies its resilience logic, and re-emits
// them on the public sequence with fresh ordering metadata.
//
// All event types implement the Event interface and embed Base for standard
// metadata (type, sequence number, timestamp). Events are immutable after
// construction. Consumers can filter by Type or type-assert to concrete types
// when they need structured field access.
package event

import "time"

type (
	// Event describes a single unit on the public sequence. Events are ordered:
	// Seq is strictly increasing within one orchestrator invocation, and
	// Timestamp is monotonically non-decreasing. A Complete or Error event
	// closes a source's portion of the sequence; Complete is always terminal.
	Event interface {
		// Type returns the event type constant (e.g., TypeToken, TypeComplete).
		// Consumers use this to route events without type assertions.
		Type() Type

		// Seq returns the position of this event on the public sequence,
		// starting at 1. Sequence numbers are never reused within an
		// invocation, including across retries and fallback switches.
		Seq() uint64

		// Timestamp returns the time at which the orchestrator emitted the
		// event. Timestamps are assigned at emission, not at provider receipt,
		// so gaps between consecutive timestamps reflect delivery latency.
		Timestamp() time.Time
	}

	// Token carries an incremental text fragment of the assembled output.
	// Clients concatenate Value from sequential Token events to reconstruct
	// the full content. After a checkpoint resume, the first Token event of
	// the resumed portion carries the deduplicated remainder, so concatenation
	// never repeats already-delivered text.
	Token struct {
		Base
		// Value is the text fragment. Never empty.
		Value string
	}

	// Message carries a side-channel message produced alongside the token
	// stream (for example, an assistant annotation or system notice).
	Message struct {
		Base
		// Value is the message text.
		Value string
		// Role identifies the message origin (for example, "assistant" or
		// "system"). May be empty when the source does not attribute messages.
		Role string
	}

	// Data carries structured side data emitted by the source (tool payloads,
	// provider metadata). The runtime does not interpret the payload.
	Data struct {
		Base
		// Payload is the JSON-serializable side data.
		Payload any
	}

	// Progress carries a source progress update (for example, generation
	// phase or usage counters). The runtime does not interpret the payload.
	Progress struct {
		Base
		// Payload is the JSON-serializable progress data.
		Payload any
	}

	// Error reports a failure. When emitted mid-sequence it closes the
	// abandoned source's portion before a fallback switch; when emitted last
	// it is terminal and the same failure is surfaced to the caller through
	// the orchestrator handle.
	Error struct {
		Base
		// Cause is the categorized failure that ended the source attempt.
		Cause error
		// Category is the coarse failure classification ("network",
		// "transient", "model", "fatal", or "internal"), duplicated here in
		// wire-friendly form so consumers need not unwrap Cause.
		Category string
	}

	// Complete marks successful termination of the whole invocation. It is
	// always the final event of a successful sequence.
	Complete struct {
		Base
	}

	// Base provides the default implementation of Event. Concrete event types
	// embed it to inherit Type(), Seq(), and Timestamp(). Fields are
	// unexported; construct with NewBase.
	Base struct {
		t   Type
		seq uint64
		ts  time.Time
	}
)

// Type enumerates event payload flavors.
type Type string

const (
	// TypeToken is an incremental text fragment.
	TypeToken Type = "token"

	// TypeMessage is a side-channel message with an optional role.
	TypeMessage Type = "message"

	// TypeData is structured side data passed through uninterpreted.
	TypeData Type = "data"

	// TypeProgress is a source progress update passed through uninterpreted.
	TypeProgress Type = "progress"

	// TypeError reports a source or runtime failure.
	TypeError Type = "error"

	// TypeComplete marks successful termination of the invocation.
	TypeComplete Type = "complete"
)

// NewBase constructs a Base with the given type, sequence number, and
// emission timestamp.
func NewBase(t Type, seq uint64, ts time.Time) Base {
	return Base{t: t, seq: seq, ts: ts}
}

// Type implements Event.Type.
func (b Base) Type() Type { return b.t }

// Seq implements Event.Seq.
func (b Base) Seq() uint64 { return b.seq }

// Timestamp implements Event.Timestamp.
func (b Base) Timestamp() time.Time { return b.ts }
