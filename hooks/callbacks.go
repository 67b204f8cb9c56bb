package hooks

import (
	"context"

	"goa.design/restream/classify"
	"goa.design/restream/event"
	"goa.design/restream/guardrail"
)

// Callbacks adapts plain functions to the Subscriber interface for callers
// that prefer per-lifecycle callbacks over a type switch. Nil fields are
// skipped. Register the struct on the orchestrator's bus; containment
// semantics are the bus's (a panicking callback is logged, never fatal).
type Callbacks struct {
	// OnStart fires at the start of every source attempt.
	OnStart func(attempt int, isRetry, isFallback bool)
	// OnEvent fires for every event delivered on the public sequence.
	OnEvent func(ev event.Event)
	// OnViolation fires for each new guardrail violation.
	OnViolation func(v guardrail.Violation)
	// OnRetry fires when a retry is granted, before the backoff sleep.
	OnRetry func(attempt int, reason classify.Reason)
	// OnFallback fires when the orchestrator switches sources.
	OnFallback func(fromIndex int, message string)
	// OnResume fires when continuation matching resolves.
	OnResume func(checkpoint string, tokenCount int)
	// OnComplete fires once on successful termination.
	OnComplete func(e CompletedEvent)
	// OnError fires on every failure with flags reporting whether a retry
	// or fallback follows.
	OnError func(cause error, willRetry, willFallback bool)
}

// HandleEvent implements Subscriber by dispatching to the matching callback.
func (c *Callbacks) HandleEvent(_ context.Context, e Event) error {
	switch ev := e.(type) {
	case *RunStartedEvent:
		if c.OnStart != nil {
			c.OnStart(ev.Attempt, ev.IsRetry, ev.IsFallback)
		}
	case *EmittedEvent:
		if c.OnEvent != nil {
			c.OnEvent(ev.Event)
		}
	case *ViolationEvent:
		if c.OnViolation != nil {
			c.OnViolation(ev.Violation)
		}
	case *RetryEvent:
		if c.OnRetry != nil {
			c.OnRetry(ev.Attempt, ev.Reason)
		}
	case *FallbackEvent:
		if c.OnFallback != nil {
			c.OnFallback(ev.FromIndex, ev.Message)
		}
	case *ResumeEvent:
		if c.OnResume != nil {
			c.OnResume(ev.Checkpoint, ev.TokenCount)
		}
	case *CompletedEvent:
		if c.OnComplete != nil {
			c.OnComplete(*ev)
		}
	case *FailedEvent:
		if c.OnError != nil {
			c.OnError(ev.Cause, ev.WillRetry, ev.WillFallback)
		}
	}
	return nil
}
