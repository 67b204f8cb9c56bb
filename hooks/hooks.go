// Package hooks publishes runtime lifecycle events to registered
// subscribers. The orchestrator fires an event at each significant point:
// attempt start, every emitted public event, each guardrail violation, each
// retry decision, each fallback switch, each continuation resume, and
// terminal completion or failure.
//
// Delivery is contained: a subscriber that returns an error or panics is
// logged and skipped, never aborting the stream. Observers must not be able
// to take down the run they observe.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/restream/classify"
	"goa.design/restream/event"
	"goa.design/restream/guardrail"
	"goa.design/restream/telemetry"
)

// EventType enumerates lifecycle event flavors.
type EventType string

const (
	// EventRunStarted fires at the start of every source attempt, including
	// retries and fallback attempts.
	EventRunStarted EventType = "run_started"

	// EventEmitted fires for every event delivered on the public sequence.
	EventEmitted EventType = "event_emitted"

	// EventViolation fires for every guardrail violation folded into
	// execution state.
	EventViolation EventType = "violation"

	// EventRetryScheduled fires when the retry manager grants a retry,
	// before the backoff sleep.
	EventRetryScheduled EventType = "retry_scheduled"

	// EventFallbackActivated fires when the orchestrator abandons the
	// active source and switches to the next fallback.
	EventFallbackActivated EventType = "fallback_activated"

	// EventResumed fires when continuation matching resolves after a
	// checkpoint resume.
	EventResumed EventType = "resumed"

	// EventRunCompleted fires once on successful termination.
	EventRunCompleted EventType = "run_completed"

	// EventRunFailed fires on every failure, with flags reporting whether a
	// retry or fallback will follow. The terminal failure is the instance
	// with both flags false.
	EventRunFailed EventType = "run_failed"
)

type (
	// Event is the interface all lifecycle events implement.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// RunID returns the invocation identifier shared by every event of
		// one orchestrator invocation.
		RunID() string
		// Timestamp returns the event creation time.
		Timestamp() time.Time
	}

	// RunStartedEvent fires when a source attempt begins.
	RunStartedEvent struct {
		baseEvent
		// Attempt is the 0-based attempt index on the active source.
		Attempt int
		// IsRetry reports whether this attempt follows a granted retry.
		IsRetry bool
		// IsFallback reports whether this attempt runs on a fallback
		// source.
		IsFallback bool
		// SourceIndex is the active source (0 = primary).
		SourceIndex int
	}

	// EmittedEvent fires for every public event delivered to the caller.
	EmittedEvent struct {
		baseEvent
		// Event is the delivered public event.
		Event event.Event
	}

	// ViolationEvent fires for each new guardrail violation.
	ViolationEvent struct {
		baseEvent
		// Violation is the guardrail finding.
		Violation guardrail.Violation
	}

	// RetryEvent fires when a retry is granted.
	RetryEvent struct {
		baseEvent
		// Attempt is the attempt index about to be retried.
		Attempt int
		// Reason tags the failure that triggered the retry.
		Reason classify.Reason
		// Delay is the backoff sleep before the retry.
		Delay time.Duration
	}

	// FallbackEvent fires when the orchestrator switches sources.
	FallbackEvent struct {
		baseEvent
		// FromIndex is the abandoned source (0 = primary).
		FromIndex int
		// Message summarizes the failure that exhausted the source.
		Message string
	}

	// ResumeEvent fires when continuation matching resolves.
	ResumeEvent struct {
		baseEvent
		// Checkpoint is the content prefix the buffer was re-primed with.
		Checkpoint string
		// TokenCount is the token count at the resume point.
		TokenCount int
		// OverlapLength is the number of duplicated bytes stripped from the
		// resumed output. Zero when no overlap was found.
		OverlapLength int
	}

	// CompletedEvent fires once on successful termination.
	CompletedEvent struct {
		baseEvent
		// Content is the final assembled content.
		Content string
		// TokenCount is the total number of tokens consumed.
		TokenCount int
		// ContentAttempts and NetworkRetries report the budgets consumed.
		ContentAttempts int
		NetworkRetries  int
		// Resumed reports whether any attempt resumed from a checkpoint.
		Resumed bool
	}

	// FailedEvent fires on every failure.
	FailedEvent struct {
		baseEvent
		// Cause is the classified failure.
		Cause error
		// WillRetry reports whether a retry follows.
		WillRetry bool
		// WillFallback reports whether a fallback switch follows.
		WillFallback bool
	}

	// Subscriber reacts to published lifecycle events. Errors and panics
	// are contained by the bus.
	Subscriber interface {
		HandleEvent(ctx context.Context, e Event) error
	}

	// SubscriberFunc adapts a function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, e Event) error

	// Bus fans lifecycle events out to subscribers. Thread-safe. Unlike a
	// fail-fast bus, delivery always continues past failing subscribers:
	// per the runtime's error containment policy, hooks are observers and
	// must never abort the stream they observe.
	Bus struct {
		mu   sync.RWMutex
		subs []Subscriber
		log  telemetry.Logger
	}

	baseEvent struct {
		t     EventType
		runID string
		at    time.Time
	}
)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, e Event) error { return f(ctx, e) }

// Type implements Event.
func (b baseEvent) Type() EventType { return b.t }

// RunID implements Event.
func (b baseEvent) RunID() string { return b.runID }

// Timestamp implements Event.
func (b baseEvent) Timestamp() time.Time { return b.at }

// NewRunStarted constructs a RunStartedEvent.
func NewRunStarted(runID string, at time.Time, attempt, sourceIndex int, isRetry, isFallback bool) *RunStartedEvent {
	return &RunStartedEvent{
		baseEvent:   baseEvent{t: EventRunStarted, runID: runID, at: at},
		Attempt:     attempt,
		IsRetry:     isRetry,
		IsFallback:  isFallback,
		SourceIndex: sourceIndex,
	}
}

// NewEmitted constructs an EmittedEvent.
func NewEmitted(runID string, at time.Time, ev event.Event) *EmittedEvent {
	return &EmittedEvent{baseEvent: baseEvent{t: EventEmitted, runID: runID, at: at}, Event: ev}
}

// NewViolation constructs a ViolationEvent.
func NewViolation(runID string, at time.Time, v guardrail.Violation) *ViolationEvent {
	return &ViolationEvent{baseEvent: baseEvent{t: EventViolation, runID: runID, at: at}, Violation: v}
}

// NewRetry constructs a RetryEvent.
func NewRetry(runID string, at time.Time, attempt int, reason classify.Reason, delay time.Duration) *RetryEvent {
	return &RetryEvent{baseEvent: baseEvent{t: EventRetryScheduled, runID: runID, at: at}, Attempt: attempt, Reason: reason, Delay: delay}
}

// NewFallback constructs a FallbackEvent.
func NewFallback(runID string, at time.Time, fromIndex int, message string) *FallbackEvent {
	return &FallbackEvent{baseEvent: baseEvent{t: EventFallbackActivated, runID: runID, at: at}, FromIndex: fromIndex, Message: message}
}

// NewResume constructs a ResumeEvent.
func NewResume(runID string, at time.Time, checkpoint string, tokenCount, overlapLength int) *ResumeEvent {
	return &ResumeEvent{baseEvent: baseEvent{t: EventResumed, runID: runID, at: at}, Checkpoint: checkpoint, TokenCount: tokenCount, OverlapLength: overlapLength}
}

// NewCompleted constructs a CompletedEvent.
func NewCompleted(runID string, at time.Time, content string, tokenCount, contentAttempts, networkRetries int, resumed bool) *CompletedEvent {
	return &CompletedEvent{
		baseEvent:       baseEvent{t: EventRunCompleted, runID: runID, at: at},
		Content:         content,
		TokenCount:      tokenCount,
		ContentAttempts: contentAttempts,
		NetworkRetries:  networkRetries,
		Resumed:         resumed,
	}
}

// NewFailed constructs a FailedEvent.
func NewFailed(runID string, at time.Time, cause error, willRetry, willFallback bool) *FailedEvent {
	return &FailedEvent{baseEvent: baseEvent{t: EventRunFailed, runID: runID, at: at}, Cause: cause, WillRetry: willRetry, WillFallback: willFallback}
}

// NewBus constructs a bus. The logger records contained subscriber failures;
// nil selects the noop logger.
func NewBus(log telemetry.Logger) *Bus {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Bus{log: log}
}

// Register adds a subscriber. Nil subscribers are ignored.
func (b *Bus) Register(sub Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Publish delivers the event to every subscriber in registration order.
// Subscriber errors and panics are logged and skipped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, sub := range subs {
		b.deliver(ctx, sub, e)
	}
}

func (b *Bus) deliver(ctx context.Context, sub Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn(ctx, "hook subscriber panicked", "event", string(e.Type()), "panic", fmt.Sprint(r))
		}
	}()
	if err := sub.HandleEvent(ctx, e); err != nil {
		b.log.Warn(ctx, "hook subscriber failed", "event", string(e.Type()), "err", err.Error())
	}
}
