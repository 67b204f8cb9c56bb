package restream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/restream/classify"
	"goa.design/restream/drift"
	"goa.design/restream/event"
	"goa.design/restream/guardrail"
	"goa.design/restream/hooks"
	"goa.design/restream/policy"
	"goa.design/restream/source"
)

// fastPolicy keeps retries and timers short enough for tests.
func fastPolicy() policy.Policy {
	p := policy.Default()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.InitialTokenTimeout = 2 * time.Second
	p.InterTokenTimeout = 2 * time.Second
	return p
}

// scripted returns a factory that hands out the given streams one per call
// and fails once the script is exhausted.
func scripted(streams ...source.Stream) source.Factory {
	calls := 0
	return func(context.Context) (source.Stream, error) {
		if calls >= len(streams) {
			return nil, errors.New("scripted factory exhausted")
		}
		s := streams[calls]
		calls++
		return s, nil
	}
}

func toks(vals ...string) []event.Event {
	out := make([]event.Event, len(vals))
	for i, v := range vals {
		out[i] = event.Token{Base: event.NewBase(event.TypeToken, 0, time.Time{}), Value: v}
	}
	return out
}

// blockingStream yields the given events and then blocks until Close.
func blockingStream(events ...event.Event) source.Stream {
	unblock := make(chan struct{})
	pos := 0
	return source.FromFunc(func() (event.Event, error) {
		if pos < len(events) {
			ev := events[pos]
			pos++
			return ev, nil
		}
		<-unblock
		return nil, io.EOF
	}, func() error {
		close(unblock)
		return nil
	})
}

// collect drains the public sequence and returns every event.
func collect(ch <-chan event.Event) []event.Event {
	var out []event.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func assembled(events []event.Event) string {
	var s string
	for _, ev := range events {
		if tok, ok := ev.(event.Token); ok {
			s += tok.Value
		}
	}
	return s
}

func requireOrdered(t *testing.T, events []event.Event) {
	t.Helper()
	var last uint64
	for _, ev := range events {
		require.Greater(t, ev.Seq(), last, "sequence numbers must be strictly increasing")
		last = ev.Seq()
	}
}

func TestRunHappyPath(t *testing.T) {
	events := append(toks("Hello, ", "streaming ", "world."),
		event.Message{Base: event.NewBase(event.TypeMessage, 0, time.Time{}), Value: "note", Role: "assistant"},
		event.Data{Base: event.NewBase(event.TypeData, 0, time.Time{}), Payload: map[string]any{"k": "v"}},
	)
	o, err := New(scripted(source.FromEvents(events...)), WithPolicy(fastPolicy()))
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	got := collect(ch)
	require.NoError(t, o.Err())

	requireOrdered(t, got)
	require.Equal(t, event.TypeComplete, got[len(got)-1].Type())
	require.Equal(t, "Hello, streaming world.", assembled(got))
	require.Equal(t, "Hello, streaming world.", state.Content())
	require.Equal(t, 3, state.TokenCount())
	require.True(t, state.Completed())
	require.False(t, state.Resumed())
	require.Zero(t, state.ContentAttempts())
	require.Zero(t, state.NetworkRetries())

	// Side-channel events pass through with fresh metadata.
	var sawMessage, sawData bool
	for _, ev := range got {
		switch e := ev.(type) {
		case event.Message:
			sawMessage = true
			require.Equal(t, "assistant", e.Role)
		case event.Data:
			sawData = true
		}
	}
	require.True(t, sawMessage)
	require.True(t, sawData)
}

func TestRunIsSingleUse(t *testing.T) {
	o, err := New(scripted(source.FromEvents(toks("once upon")...)), WithPolicy(fastPolicy()))
	require.NoError(t, err)

	ch, _, err := o.Run(context.Background())
	require.NoError(t, err)
	collect(ch)

	_, _, err = o.Run(context.Background())
	var cfg *classify.ConfigError
	require.ErrorAs(t, err, &cfg)
}

func TestCheckpointResumeDeduplicates(t *testing.T) {
	pol := fastPolicy()
	pol.CheckpointInterval = 2
	pol.GuardrailInterval = 0
	pol.Dedup = policy.Dedup{MinOverlap: 4, MaxOverlap: 16}

	first := source.FromEventsErr(errors.New("read: connection reset by peer"),
		toks("alpha ", "beta ", "gam")...)
	second := source.FromEvents(toks("alpha beta gam", "ma done here")...)

	var resumeOverlap int
	var retryReason classify.Reason
	o, err := New(scripted(first, second),
		WithPolicy(pol),
		WithCallbacks(&hooks.Callbacks{
			OnResume: func(string, int) {},
			OnRetry:  func(_ int, r classify.Reason) { retryReason = r },
		}),
		WithSubscriber(hooks.SubscriberFunc(func(_ context.Context, e hooks.Event) error {
			if re, ok := e.(*hooks.ResumeEvent); ok {
				resumeOverlap = re.OverlapLength
			}
			return nil
		})),
	)
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	got := collect(ch)
	require.NoError(t, o.Err())

	requireOrdered(t, got)
	// Concatenating every delivered token must never repeat text, even
	// though the resumed source regenerated the whole prefix.
	require.Equal(t, "alpha beta gamma done here", assembled(got))
	require.Equal(t, "alpha beta gamma done here", state.Content())
	require.True(t, state.Resumed())
	require.Equal(t, len("alpha beta gam"), state.ResumeOffset())
	require.Equal(t, 1, state.NetworkRetries())
	require.Zero(t, state.ContentAttempts())
	require.Equal(t, len("alpha beta gam"), resumeOverlap)
	require.Equal(t, classify.ReasonNetwork, retryReason)
	require.Equal(t, event.TypeComplete, got[len(got)-1].Type())
}

func TestContinuationDisabledRestartsFromEmpty(t *testing.T) {
	pol := fastPolicy()
	pol.CheckpointInterval = 1
	pol.Continuation = false

	first := source.FromEventsErr(errors.New("unexpected EOF"), toks("draft one ")...)
	second := source.FromEvents(toks("draft two final")...)

	o, err := New(scripted(first, second), WithPolicy(pol))
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	collect(ch)
	require.NoError(t, o.Err())

	require.Equal(t, "draft two final", state.Content())
	require.False(t, state.Resumed())
}

func TestZeroOutputConsumesContentBudget(t *testing.T) {
	pol := fastPolicy()
	pol.MaxContentAttempts = 1

	empty := func() source.Stream { return source.FromEvents() }
	o, err := New(scripted(empty(), empty()), WithPolicy(pol))
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	got := collect(ch)

	require.Equal(t, event.TypeError, got[len(got)-1].Type())

	var serr *StreamError
	require.ErrorAs(t, o.Err(), &serr)
	require.Equal(t, classify.CategoryModel, serr.Cause.Category)
	require.Equal(t, classify.ReasonZeroOutput, serr.Cause.Reason)
	require.Equal(t, 1, serr.ContentAttempts)
	require.Equal(t, 1, state.ContentAttempts())
	require.False(t, state.Completed())
}

func TestFatalGuardrailFallsBack(t *testing.T) {
	pol := fastPolicy()
	pol.GuardrailInterval = 1

	banned, err := guardrail.BannedPattern("no_secrets", `SECRET`, guardrail.SeverityFatal, false)
	require.NoError(t, err)

	primary := scripted(source.FromEvents(toks("hello ", "SECRET stuff")...))
	fallback := scripted(source.FromEvents(toks("all ", "good here.")...))

	var fellBackFrom = -1
	o, err := New(primary,
		WithPolicy(pol),
		WithFallbacks(fallback),
		WithGuardrails(banned),
		WithCallbacks(&hooks.Callbacks{
			OnFallback: func(from int, _ string) { fellBackFrom = from },
		}),
	)
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	got := collect(ch)
	require.NoError(t, o.Err())

	requireOrdered(t, got)
	require.True(t, state.Completed())
	require.Equal(t, 1, state.FallbackIndex())
	require.Equal(t, 0, fellBackFrom)
	require.Equal(t, "all good here.", state.Content())
	require.NotEmpty(t, state.Violations())

	// The abandoned source's portion is closed by a mid-sequence error event
	// before the fallback's tokens begin.
	var errIdx, firstFallbackTok = -1, -1
	for i, ev := range got {
		if ev.Type() == event.TypeError && errIdx == -1 {
			errIdx = i
		}
		if tok, ok := ev.(event.Token); ok && tok.Value == "all " {
			firstFallbackTok = i
		}
	}
	require.GreaterOrEqual(t, errIdx, 0)
	require.Greater(t, firstFallbackTok, errIdx)
	require.Equal(t, event.TypeComplete, got[len(got)-1].Type())
}

func TestRecoverableGuardrailRetriesAtCompletion(t *testing.T) {
	pol := fastPolicy()

	first := source.FromEvents(toks("hi")...)
	second := source.FromEvents(toks("hello there, this is plenty long")...)

	o, err := New(scripted(first, second),
		WithPolicy(pol),
		WithGuardrails(guardrail.MinLength(10)),
	)
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	collect(ch)
	require.NoError(t, o.Err())

	require.True(t, state.Completed())
	require.Equal(t, 1, state.ContentAttempts())
	require.Equal(t, "hello there, this is plenty long", state.Content())
}

func TestInitialTokenTimeoutRetries(t *testing.T) {
	pol := fastPolicy()
	pol.InitialTokenTimeout = 20 * time.Millisecond

	o, err := New(scripted(blockingStream(), source.FromEvents(toks("recovered fine")...)),
		WithPolicy(pol))
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	collect(ch)
	require.NoError(t, o.Err())

	require.True(t, state.Completed())
	require.Equal(t, 1, state.NetworkRetries())
	require.Equal(t, "recovered fine", state.Content())
}

func TestInterTokenTimeoutRetries(t *testing.T) {
	pol := fastPolicy()
	pol.InterTokenTimeout = 20 * time.Millisecond
	pol.CheckpointInterval = 1
	pol.Dedup = policy.Dedup{MinOverlap: 4, MaxOverlap: 8}

	first := blockingStream(toks("stalled ")...)
	second := source.FromEvents(toks("stalled but recovered")...)

	o, err := New(scripted(first, second), WithPolicy(pol))
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	got := collect(ch)
	require.NoError(t, o.Err())

	require.True(t, state.Completed())
	require.True(t, state.Resumed())
	require.Equal(t, "stalled but recovered", state.Content())
	require.Equal(t, "stalled but recovered", assembled(got))
}

func TestCancellationAborts(t *testing.T) {
	o, err := New(scripted(blockingStream(toks("partial ")...)), WithPolicy(fastPolicy()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, state, err := o.Run(ctx)
	require.NoError(t, err)

	ev := <-ch
	require.Equal(t, event.TypeToken, ev.Type())
	cancel()
	collect(ch)

	var serr *StreamError
	require.ErrorAs(t, o.Err(), &serr)
	require.Equal(t, classify.CategoryFatal, serr.Cause.Category)
	require.Equal(t, classify.ReasonAborted, serr.Cause.Reason)
	require.False(t, state.Completed())
}

func TestExhaustedFallbacksFailTerminally(t *testing.T) {
	pol := fastPolicy()
	pol.MaxTotalRetries = 0

	boom := func() source.Stream {
		return source.FromEventsErr(&classify.HTTPStatusError{StatusCode: 401, Message: "bad key"})
	}
	o, err := New(scripted(boom()), WithPolicy(pol), WithFallbacks(scripted(boom())))
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	got := collect(ch)

	var serr *StreamError
	require.ErrorAs(t, o.Err(), &serr)
	require.Equal(t, classify.CategoryFatal, serr.Cause.Category)
	require.Equal(t, 1, state.FallbackIndex())

	// One mid-sequence error event per abandoned source plus the terminal one.
	var errCount int
	for _, ev := range got {
		if ev.Type() == event.TypeError {
			errCount++
		}
	}
	require.Equal(t, 2, errCount)
}

func TestDriftAbortsAttempt(t *testing.T) {
	pol := fastPolicy()
	pol.DetectDrift = true
	pol.DriftInterval = 1
	pol.MaxContentAttempts = 0

	looping := "This sentence repeats itself verbatim. This sentence repeats itself verbatim. This sentence repeats itself verbatim. "
	o, err := New(scripted(source.FromEvents(toks(looping)...)),
		WithPolicy(pol),
		WithDriftDetector(drift.NewDetector(drift.Config{Repetition: true})),
	)
	require.NoError(t, err)

	ch, state, err := o.Run(context.Background())
	require.NoError(t, err)
	collect(ch)

	var serr *StreamError
	require.ErrorAs(t, o.Err(), &serr)
	require.Equal(t, classify.ReasonDrift, serr.Cause.Reason)
	require.True(t, state.DriftDetected())
}

func TestConfigErrors(t *testing.T) {
	_, err := New(nil)
	var cfg *classify.ConfigError
	require.ErrorAs(t, err, &cfg)

	ok := scripted(source.FromEvents())

	_, err = New(ok, WithFallbacks(nil))
	require.ErrorAs(t, err, &cfg)

	bad := policy.Default()
	bad.Backoff = "quadratic"
	_, err = New(ok, WithPolicy(bad))
	require.ErrorAs(t, err, &cfg)

	drifting := policy.Default()
	drifting.DetectDrift = true
	_, err = New(ok, WithPolicy(drifting))
	require.ErrorAs(t, err, &cfg)
	require.Contains(t, err.Error(), "drift")
}

func TestFactoryErrorsAreClassified(t *testing.T) {
	pol := fastPolicy()
	pol.MaxTotalRetries = 0

	o, err := New(func(context.Context) (source.Stream, error) {
		return nil, classify.NewConfigError("no adapter matches source shape")
	}, WithPolicy(pol), WithFallbacks(scripted(source.FromEvents(toks("never reached")...))))
	require.NoError(t, err)

	ch, _, err := o.Run(context.Background())
	require.NoError(t, err)
	collect(ch)

	// Internal failures never retry and never fall back.
	var serr *StreamError
	require.ErrorAs(t, o.Err(), &serr)
	require.Equal(t, classify.CategoryInternal, serr.Cause.Category)
}
