// Package restream is a resilience runtime that sits between a caller and a
// token-stream backend. The orchestrator opens a source, re-emits its events
// on a public sequence with fresh ordering metadata, and transparently
// absorbs failures: timeouts are detected with dual token timers, failures
// are classified and retried under dual budgets, guardrail rules and drift
// heuristics sweep the assembled content, checkpoints allow resumed attempts
// to deduplicate already-delivered text, and exhausted sources fall back to
// the next factory in the list.
//
// One orchestrator serves one invocation. Construct with New, start with
// Run, drain the returned channel, then inspect Err and the execution state.
package restream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"goa.design/restream/classify"
	"goa.design/restream/drift"
	"goa.design/restream/event"
	"goa.design/restream/guardrail"
	"goa.design/restream/hooks"
	"goa.design/restream/overlap"
	"goa.design/restream/policy"
	"goa.design/restream/retry"
	"goa.design/restream/runstate"
	"goa.design/restream/source"
	"goa.design/restream/telemetry"
)

type (
	// Orchestrator drives one resilient stream invocation. Not safe for
	// concurrent Run calls; the event channel and state handle it returns
	// are safe to consume from other goroutines.
	Orchestrator struct {
		sources []source.Factory
		pol     policy.Policy
		rules   []guardrail.Rule
		drifter *drift.Detector
		subs    []hooks.Subscriber

		log     telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		now     func() time.Time

		guard   *guardrail.Engine
		retry   *retry.Manager
		bus     *hooks.Bus
		machine *runstate.Machine
		state   *ExecutionState
		runID   string

		started atomic.Bool
		errMu   sync.Mutex
		err     error

		// Run-loop bookkeeping, owned by the run goroutine.
		seq               uint64
		lastGuardLen      int
		lastDriftLen      int
		attemptViolations []guardrail.Violation
	}

	// Option customizes orchestrator construction.
	Option func(*Orchestrator)

	// StreamError is the terminal failure surfaced by Err. It wraps the
	// classified cause and snapshots the progress counters at failure time.
	StreamError struct {
		// Cause is the classified failure that exhausted every recovery path.
		Cause *classify.CategorizedError
		// CheckpointLength is the length of the last checkpoint, reporting
		// how much content survived in deliverable form.
		CheckpointLength int
		// TokenCount is the number of tokens consumed when the run failed.
		TokenCount int
		// ContentAttempts and NetworkRetries report the budgets consumed.
		ContentAttempts int
		NetworkRetries  int
	}
)

// Error implements the error interface.
func (e *StreamError) Error() string {
	return fmt.Sprintf("stream failed (%s/%s) after %d tokens, %d content attempts, %d network retries: %v",
		e.Cause.Category, e.Cause.Reason, e.TokenCount, e.ContentAttempts, e.NetworkRetries, e.Cause.Cause)
}

// Unwrap returns the classified cause to preserve the error chain.
func (e *StreamError) Unwrap() error { return e.Cause }

// WithFallbacks appends fallback source factories, tried in order after the
// primary exhausts its retries.
func WithFallbacks(factories ...source.Factory) Option {
	return func(o *Orchestrator) { o.sources = append(o.sources, factories...) }
}

// WithPolicy replaces the default policy.
func WithPolicy(pol policy.Policy) Option {
	return func(o *Orchestrator) { o.pol = pol }
}

// WithGuardrails sets the guardrail rules evaluated on each sweep.
func WithGuardrails(rules ...guardrail.Rule) Option {
	return func(o *Orchestrator) { o.rules = append(o.rules, rules...) }
}

// WithDriftDetector injects the drift detector. Required when the policy
// enables drift detection.
func WithDriftDetector(d *drift.Detector) Option {
	return func(o *Orchestrator) { o.drifter = d }
}

// WithCallbacks registers per-lifecycle callbacks on the hook bus.
func WithCallbacks(cb *hooks.Callbacks) Option {
	return func(o *Orchestrator) {
		if cb != nil {
			o.subs = append(o.subs, cb)
		}
	}
}

// WithSubscriber registers a lifecycle event subscriber on the hook bus.
func WithSubscriber(sub hooks.Subscriber) Option {
	return func(o *Orchestrator) {
		if sub != nil {
			o.subs = append(o.subs, sub)
		}
	}
}

// WithLogger sets the structured logger. Defaults to noop.
func WithLogger(log telemetry.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics sets the metrics sink. Defaults to noop.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer. Defaults to noop.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock replaces the time source used for event timestamps. Tests inject
// deterministic clocks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New constructs an orchestrator for one invocation. Misconfiguration is
// reported immediately as a ConfigError and never retried: a nil factory, an
// invalid policy, or drift detection requested without an injected detector.
func New(primary source.Factory, opts ...Option) (*Orchestrator, error) {
	if primary == nil {
		return nil, classify.NewConfigError("primary source factory is required")
	}
	o := &Orchestrator{
		sources: []source.Factory{primary},
		pol:     policy.Default(),
		log:     telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	for i, f := range o.sources {
		if f == nil {
			return nil, classify.NewConfigError("source factory at index %d is nil", i)
		}
	}
	if err := o.pol.Validate(); err != nil {
		return nil, classify.NewConfigError("%s", err)
	}
	if o.pol.DetectDrift && o.drifter == nil {
		return nil, classify.NewConfigError("policy enables drift detection but no detector was injected")
	}
	o.guard = guardrail.NewEngine(o.rules)
	o.retry = retry.NewManager(o.pol, retry.WithLogger(o.log))
	o.runID = uuid.NewString()
	o.state = newExecutionState(o.runID)
	o.machine = runstate.NewMachine()
	o.bus = hooks.NewBus(o.log)
	for _, sub := range o.subs {
		o.bus.Register(sub)
	}
	return o, nil
}

// RunID returns the invocation identifier shared by every event, hook, and
// log line of this invocation.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the live execution state handle.
func (o *Orchestrator) State() *ExecutionState { return o.state }

// Machine returns the lifecycle state machine for observation.
func (o *Orchestrator) Machine() *runstate.Machine { return o.machine }

// Run starts the invocation and returns the public event channel together
// with the live state handle. The sequence is lazy, forward-only, and
// finite; the channel is closed when the invocation terminates. Run is
// single-use: a second call fails.
//
// On successful termination the final event is Complete. On terminal failure
// the final event is Error and Err returns the StreamError.
func (o *Orchestrator) Run(ctx context.Context) (<-chan event.Event, *ExecutionState, error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, nil, classify.NewConfigError("orchestrator already ran; construct a new one per invocation")
	}
	out := make(chan event.Event)
	go o.run(ctx, out)
	return out, o.state, nil
}

// Err returns the terminal failure, or nil on success. Valid once the event
// channel returned by Run has been closed.
func (o *Orchestrator) Err() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.err
}

// run is the top-level attempt loop: consume the active source, classify
// any failure, then retry, fall back, or fail terminally.
func (o *Orchestrator) run(ctx context.Context, out chan<- event.Event) {
	defer close(out)
	ctx, span := o.tracer.Start(ctx, "restream.run")
	defer span.End()
	start := o.now()

	attempt := 0
	isRetry, isFallback := false, false
	resume := ""
	for {
		o.bus.Publish(ctx, hooks.NewRunStarted(o.runID, o.now(), attempt, o.state.FallbackIndex(), isRetry, isFallback))
		err := o.consume(ctx, out, resume)
		if err == nil {
			o.finish(ctx, out, span, start)
			return
		}

		cat := o.retry.Classify(err)
		dec := o.retry.Decide(cat)
		willFallback := !dec.ShouldRetry &&
			cat.Reason != classify.ReasonAborted &&
			cat.Category != classify.CategoryInternal &&
			o.state.FallbackIndex()+1 < len(o.sources)
		o.bus.Publish(ctx, hooks.NewFailed(o.runID, o.now(), cat, dec.ShouldRetry, willFallback))
		o.log.Warn(ctx, "source attempt failed",
			"category", string(cat.Category),
			"reason", string(cat.Reason),
			"retry", dec.ShouldRetry,
			"fallback", willFallback,
			"why", dec.Explanation,
		)
		o.metrics.IncCounter("restream.failures", 1, "category", string(cat.Category))

		switch {
		case dec.ShouldRetry:
			o.machine.Transition(runstate.StateRetrying)
			o.bus.Publish(ctx, hooks.NewRetry(o.runID, o.now(), attempt, dec.Reason, dec.Delay))
			o.metrics.IncCounter("restream.retries", 1, "category", string(cat.Category))
			if serr := o.retry.Record(ctx, cat, dec); serr != nil {
				o.abort(ctx, out, span)
				return
			}
			o.syncCounters()
			resume = o.prepareResume(ctx)
			attempt++
			isRetry, isFallback = true, false

		case willFallback:
			_ = o.retry.Record(ctx, cat, dec)
			o.machine.Transition(runstate.StateFallback)
			from := o.state.FallbackIndex()
			if !o.emit(ctx, out, o.errorEvent(cat)) {
				o.abort(ctx, out, span)
				return
			}
			o.state.advanceFallback()
			o.retry.ResetPerSource(o.pol.Continuation)
			o.syncCounters()
			o.bus.Publish(ctx, hooks.NewFallback(o.runID, o.now(), from, cat.Error()))
			o.metrics.IncCounter("restream.fallbacks", 1)
			resume = o.prepareResume(ctx)
			attempt = 0
			isRetry, isFallback = false, true

		default:
			_ = o.retry.Record(ctx, cat, dec)
			o.fail(ctx, out, span, cat)
			return
		}
	}
}

// consume runs one source attempt to completion or failure. A non-empty
// resume checkpoint puts the attempt in continuation-matching mode: tokens
// are buffered until the overlap bound is reached, deduplicated against the
// checkpoint, and the remainder is delivered as a single token.
func (o *Orchestrator) consume(ctx context.Context, out chan<- event.Event, resumeCp string) error {
	o.machine.Transition(runstate.StateWaitingForToken)
	o.attemptViolations = nil
	o.lastGuardLen = len(resumeCp)
	o.lastDriftLen = len(resumeCp)
	if o.drifter != nil {
		o.drifter.Reset()
	}

	stream, err := o.sources[o.state.FallbackIndex()](ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	// Pump Recv on its own goroutine so timer and cancellation races stay
	// in one select. The done channel releases the pump when the attempt
	// ends before the stream does.
	type unit struct {
		ev  event.Event
		err error
	}
	units := make(chan unit)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			ev, rerr := stream.Recv()
			select {
			case units <- unit{ev: ev, err: rerr}:
			case <-done:
				return
			}
			if rerr != nil {
				return
			}
		}
	}()

	matching := resumeCp != ""
	if matching {
		o.machine.Transition(runstate.StateContinuationMatching)
	}
	var (
		contBuf   strings.Builder
		received  bool
		streaming bool
		wait      time.Duration
		timer     *time.Timer
		timerC    <-chan time.Time
	)
	arm := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		wait = d
		if d > 0 {
			timer = time.NewTimer(d)
			timerC = timer.C
		}
	}
	arm(o.pol.InitialTokenTimeout)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			return o.abortErr(ctx)

		case <-timerC:
			phase := "initial_token"
			if received {
				phase = "inter_token"
			}
			return &classify.TimeoutError{Phase: phase, Wait: wait}

		case u := <-units:
			if u.err != nil {
				if errors.Is(u.err, io.EOF) {
					break loop
				}
				return u.err
			}
			switch ev := u.ev.(type) {
			case event.Token:
				received = true
				arm(o.pol.InterTokenTimeout)
				if matching {
					contBuf.WriteString(ev.Value)
					if max := o.pol.Dedup.MaxOverlap; max > 0 && contBuf.Len() >= max {
						matching, streaming = false, true
						if err := o.resolveContinuation(ctx, out, resumeCp, contBuf.String()); err != nil {
							return err
						}
					}
					continue
				}
				if !streaming {
					streaming = true
					o.machine.Transition(runstate.StateStreaming)
				}
				if err := o.deliverToken(ctx, out, ev.Value); err != nil {
					return err
				}
			case event.Message:
				if !o.emit(ctx, out, event.Message{Base: o.nextBase(event.TypeMessage), Value: ev.Value, Role: ev.Role}) {
					return o.abortErr(ctx)
				}
			case event.Data:
				if !o.emit(ctx, out, event.Data{Base: o.nextBase(event.TypeData), Payload: ev.Payload}) {
					return o.abortErr(ctx)
				}
			case event.Progress:
				if !o.emit(ctx, out, event.Progress{Base: o.nextBase(event.TypeProgress), Payload: ev.Payload}) {
					return o.abortErr(ctx)
				}
			case event.Error:
				if ev.Cause != nil {
					return ev.Cause
				}
				return &classify.ContentError{Reason: classify.ReasonIncomplete, Message: "source ended with an error event carrying no cause"}
			case event.Complete:
				break loop
			}
		}
	}

	if matching {
		if err := o.resolveContinuation(ctx, out, resumeCp, contBuf.String()); err != nil {
			return err
		}
	}
	return o.sweep(ctx, true)
}

// deliverToken folds the token into execution state, emits it, and runs the
// periodic sweeps.
func (o *Orchestrator) deliverToken(ctx context.Context, out chan<- event.Event, v string) error {
	if v == "" {
		return nil
	}
	o.state.appendToken(v)
	if !o.emit(ctx, out, event.Token{Base: o.nextBase(event.TypeToken), Value: v}) {
		return o.abortErr(ctx)
	}
	return o.sweep(ctx, false)
}

// resolveContinuation deduplicates the buffered resumed output against the
// checkpoint and delivers the remainder as a single token.
func (o *Orchestrator) resolveContinuation(ctx context.Context, out chan<- event.Event, cp, buffered string) error {
	res := overlap.Match(cp, buffered, o.overlapOptions())
	o.bus.Publish(ctx, hooks.NewResume(o.runID, o.now(), cp, o.state.TokenCount(), res.OverlapLength))
	o.log.Info(ctx, "continuation resolved",
		"checkpoint_bytes", len(cp),
		"buffered_bytes", len(buffered),
		"overlap_bytes", res.OverlapLength,
	)
	o.machine.Transition(runstate.StateStreaming)
	return o.deliverToken(ctx, out, res.Deduplicated)
}

// sweep runs the guardrail, drift, zero-output, and checkpoint passes due at
// the current token count. A non-nil return aborts the attempt with a
// content failure.
func (o *Orchestrator) sweep(ctx context.Context, completed bool) error {
	content := o.state.Content()
	n := o.state.TokenCount()

	if completed || (o.pol.GuardrailInterval > 0 && n%o.pol.GuardrailInterval == 0) {
		res := o.guard.Check(ctx, &guardrail.Context{
			Content:    content,
			Delta:      content[o.lastGuardLen:],
			TokenCount: n,
			Completed:  completed,
		})
		o.lastGuardLen = len(content)
		o.foldViolations(ctx, res.Violations)
		if res.ShouldHalt {
			return &classify.ContentError{Reason: classify.ReasonGuardrail, Message: violationSummary(res.Violations), Fatal: true}
		}
		// Recoverable violations found while streaming are acted on once the
		// content is final, not mid-delivery.
		if completed {
			if verdict := guardrail.Evaluate(o.attemptViolations); verdict.ShouldRetry {
				return &classify.ContentError{Reason: classify.ReasonGuardrail, Message: violationSummary(o.attemptViolations)}
			}
		}
	}

	if o.pol.DetectDrift && o.drifter != nil &&
		(completed || (o.pol.DriftInterval > 0 && n%o.pol.DriftInterval == 0)) {
		res := o.drifter.Check(content, content[o.lastDriftLen:])
		o.lastDriftLen = len(content)
		if res.Detected {
			o.state.markDrift()
			o.log.Warn(ctx, "drift detected", "confidence", res.Confidence, "detail", res.Detail)
			o.metrics.IncCounter("restream.drift", 1)
			return &classify.ContentError{Reason: classify.ReasonDrift, Message: res.Detail}
		}
	}

	if completed && o.pol.DetectZeroOutput && !hasMeaningfulText(content) {
		return &classify.ContentError{Reason: classify.ReasonZeroOutput, Message: fmt.Sprintf("stream completed with no meaningful text in %d bytes", len(content))}
	}

	if !completed && o.pol.CheckpointInterval > 0 && n > 0 && n%o.pol.CheckpointInterval == 0 {
		o.state.setCheckpoint()
		o.log.Debug(ctx, "checkpoint taken", "bytes", len(content), "tokens", n)
	}
	return nil
}

// prepareResume decides how the next attempt starts. With continuation
// enabled and a validated checkpoint the attempt resumes from it; otherwise
// the content is cleared and the attempt starts from empty.
func (o *Orchestrator) prepareResume(ctx context.Context) string {
	if !o.pol.Continuation {
		o.state.resetEmpty()
		return ""
	}
	cp, _ := o.state.checkpointInfo()
	if cp == "" {
		o.state.resetEmpty()
		return ""
	}
	// The candidate for resumption is the full delivered content, which is a
	// superset of the periodic snapshot; the snapshot's existence gates
	// eligibility.
	o.machine.Transition(runstate.StateCheckpointVerifying)
	if !o.verifyCheckpoint(ctx, o.state.Content(), o.state.TokenCount()) {
		o.log.Warn(ctx, "checkpoint failed validation, restarting from empty", "bytes", len(cp))
		o.state.discardCheckpoint()
		o.guard.Reset()
		return ""
	}
	return o.state.resumeFromCheckpoint()
}

// verifyCheckpoint re-runs the guardrail rules against the checkpoint alone
// on a throwaway engine, so validation never pollutes the accumulated
// violation state. Only a halting verdict invalidates the checkpoint; the
// drift probe is advisory.
func (o *Orchestrator) verifyCheckpoint(ctx context.Context, cp string, cpTokens int) bool {
	probe := guardrail.NewEngine(o.rules)
	res := probe.Check(ctx, &guardrail.Context{Content: cp, Delta: cp, TokenCount: cpTokens})
	if res.ShouldHalt {
		return false
	}
	if o.pol.DetectDrift && o.drifter != nil {
		o.drifter.Reset()
		if dres := o.drifter.Check(cp, cp); dres.Detected {
			o.log.Warn(ctx, "drift heuristics fired on checkpoint", "detail", dres.Detail)
		}
		o.drifter.Reset()
	}
	return true
}

// finish closes out a successful invocation.
func (o *Orchestrator) finish(ctx context.Context, out chan<- event.Event, span telemetry.Span, start time.Time) {
	o.machine.Transition(runstate.StateFinalizing)
	st := o.retry.State()
	o.state.syncRetry(st.ContentAttempts, st.NetworkRetries)
	o.state.freeze(true)
	o.emit(ctx, out, event.Complete{Base: o.nextBase(event.TypeComplete)})
	o.machine.Transition(runstate.StateComplete)
	o.bus.Publish(ctx, hooks.NewCompleted(o.runID, o.now(), o.state.Content(), o.state.TokenCount(),
		st.ContentAttempts, st.NetworkRetries, o.state.Resumed()))
	o.metrics.RecordTimer("restream.run", o.now().Sub(start), "status", "complete")
	o.metrics.IncCounter("restream.tokens", float64(o.state.TokenCount()))
	o.log.Info(ctx, "stream complete",
		"tokens", o.state.TokenCount(),
		"content_attempts", st.ContentAttempts,
		"network_retries", st.NetworkRetries,
		"resumed", o.state.Resumed(),
	)
	span.SetStatus(codes.Ok, "")
}

// fail closes out the invocation with a terminal failure.
func (o *Orchestrator) fail(ctx context.Context, out chan<- event.Event, span telemetry.Span, cat *classify.CategorizedError) {
	o.machine.Transition(runstate.StateError)
	st := o.retry.State()
	o.state.syncRetry(st.ContentAttempts, st.NetworkRetries)
	serr := &StreamError{
		Cause:            cat,
		CheckpointLength: len(o.state.Checkpoint()),
		TokenCount:       o.state.TokenCount(),
		ContentAttempts:  st.ContentAttempts,
		NetworkRetries:   st.NetworkRetries,
	}
	o.errMu.Lock()
	o.err = serr
	o.errMu.Unlock()
	o.state.freeze(false)
	o.emit(ctx, out, o.errorEvent(cat))
	span.RecordError(cat)
	span.SetStatus(codes.Error, string(cat.Category))
	o.metrics.IncCounter("restream.terminal_failures", 1, "category", string(cat.Category))
	o.log.Error(ctx, "stream failed",
		"category", string(cat.Category),
		"reason", string(cat.Reason),
		"err", cat.Error(),
	)
}

// abort closes out the invocation after the caller's context fired.
func (o *Orchestrator) abort(ctx context.Context, out chan<- event.Event, span telemetry.Span) {
	cat := classify.Classify(o.abortErr(ctx))
	o.bus.Publish(ctx, hooks.NewFailed(o.runID, o.now(), cat, false, false))
	o.fail(ctx, out, span, cat)
}

// emit delivers the event on the public sequence, racing cancellation. The
// hook and metric fire only for delivered events.
func (o *Orchestrator) emit(ctx context.Context, out chan<- event.Event, ev event.Event) bool {
	select {
	case out <- ev:
	case <-ctx.Done():
		return false
	}
	o.bus.Publish(ctx, hooks.NewEmitted(o.runID, o.now(), ev))
	o.metrics.IncCounter("restream.events", 1, "type", string(ev.Type()))
	return true
}

// foldViolations records new guardrail findings in execution state and on
// the hook bus.
func (o *Orchestrator) foldViolations(ctx context.Context, vs []guardrail.Violation) {
	if len(vs) == 0 {
		return
	}
	o.state.addViolations(vs)
	o.attemptViolations = append(o.attemptViolations, vs...)
	for _, v := range vs {
		o.bus.Publish(ctx, hooks.NewViolation(o.runID, o.now(), v))
		o.log.Warn(ctx, "guardrail violation",
			"rule", v.Rule,
			"severity", string(v.Severity),
			"message", v.Message,
		)
	}
	o.metrics.IncCounter("restream.violations", float64(len(vs)))
}

func (o *Orchestrator) syncCounters() {
	st := o.retry.State()
	o.state.syncRetry(st.ContentAttempts, st.NetworkRetries)
}

func (o *Orchestrator) nextBase(t event.Type) event.Base {
	o.seq++
	return event.NewBase(t, o.seq, o.now())
}

func (o *Orchestrator) errorEvent(cat *classify.CategorizedError) event.Error {
	return event.Error{Base: o.nextBase(event.TypeError), Cause: cat, Category: string(cat.Category)}
}

func (o *Orchestrator) abortErr(ctx context.Context) error {
	return &classify.AbortError{Checkpoint: o.state.Checkpoint(), Err: context.Cause(ctx)}
}

func (o *Orchestrator) overlapOptions() overlap.Options {
	opts := overlap.DefaultOptions()
	if o.pol.Dedup.MinOverlap > 0 {
		opts.MinOverlap = o.pol.Dedup.MinOverlap
	}
	if o.pol.Dedup.MaxOverlap > 0 {
		opts.MaxOverlap = o.pol.Dedup.MaxOverlap
	}
	opts.CaseInsensitive = o.pol.Dedup.CaseInsensitive
	opts.NormalizeWhitespace = o.pol.Dedup.NormalizeWhitespace
	return opts
}

// violationSummary picks the most actionable finding for an error message.
func violationSummary(vs []guardrail.Violation) string {
	for _, v := range vs {
		if v.Severity != guardrail.SeverityWarning {
			return fmt.Sprintf("%s: %s", v.Rule, v.Message)
		}
	}
	if len(vs) > 0 {
		return fmt.Sprintf("%s: %s", vs[0].Rule, vs[0].Message)
	}
	return "guardrail violation"
}
