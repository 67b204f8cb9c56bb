// Package retry decides whether a classified failure is retried, and with
// what delay. The manager keeps two independent budgets: the content-attempt
// budget consumed only by model-category failures, and the absolute retry
// cap consumed by every granted retry. Each category also advances its own
// backoff counter, so a burst of network errors never accelerates the
// exponential curve used for content regenerations.
package retry

import (
	"context"
	"fmt"
	"time"

	"goa.design/restream/backoff"
	"goa.design/restream/classify"
	"goa.design/restream/policy"
	"goa.design/restream/telemetry"
)

// historyBound caps the retained error history per invocation.
const historyBound = 16

type (
	// Decision is the outcome of Decide for one failure.
	Decision struct {
		// ShouldRetry grants a retry when true; the orchestrator otherwise
		// falls back or fails terminally.
		ShouldRetry bool
		// Delay is the backoff sleep to perform before the retry.
		Delay time.Duration
		// Reason tags why the retry was granted or refused.
		Reason classify.Reason
		// Category is the failure's coarse classification.
		Category classify.Category
		// CountsTowardContent reports whether recording this decision
		// consumes the content-attempt budget.
		CountsTowardContent bool
		// Explanation is a human-readable account of the decision for logs.
		Explanation string
	}

	// State is a snapshot of the manager's counters.
	State struct {
		// ContentAttempts counts retries granted to model-category
		// failures.
		ContentAttempts int
		// NetworkRetries counts retries granted to network-category
		// failures.
		NetworkRetries int
		// TransientRetries counts retries granted to transient and other
		// non-network, non-model failures.
		TransientRetries int
		// History holds the most recent classified failures, oldest first,
		// bounded to a fixed window.
		History []*classify.CategorizedError
		// TotalDelay accumulates every slept backoff delay.
		TotalDelay time.Duration
		// LimitReached is set, and stays set, once the absolute retry cap
		// refuses a retry.
		LimitReached bool
	}

	// Manager wraps the classifier and backoff calculator with budget
	// tracking for one orchestrator invocation. Not safe for concurrent
	// use; the orchestrator owns it.
	Manager struct {
		pol      policy.Policy
		strategy backoff.Strategy
		log      telemetry.Logger
		sleep    func(ctx context.Context, d time.Duration) error

		state State
		// granted counts every retry ever granted in this invocation. It
		// backs the absolute cap and survives per-source counter resets.
		granted int
	}

	// Option customizes manager construction.
	Option func(*Manager)
)

// WithLogger sets the logger used for decision logging. Defaults to noop.
func WithLogger(log telemetry.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithSleep replaces the sleep function. Tests inject instant sleeps.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// NewManager constructs a manager for one invocation. The policy must have
// been validated; an invalid backoff strategy falls back to exponential.
func NewManager(pol policy.Policy, opts ...Option) *Manager {
	strategy, err := backoff.ParseStrategy(pol.Backoff)
	if err != nil {
		strategy = backoff.Exponential
	}
	m := &Manager{
		pol:      pol,
		strategy: strategy,
		log:      telemetry.NewNoopLogger(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify derives the categorized form of a failure. Already-classified
// failures pass through unchanged.
func (m *Manager) Classify(err error) *classify.CategorizedError {
	return classify.Classify(err)
}

// Decide evaluates a classified failure against the budgets and allow-list.
// The checks apply in a fixed order: non-retryable subtype, fatal category,
// reason allow-list, absolute retry cap (sticky), content-attempt budget
// (model category only), then grant with the category's own backoff counter.
func (m *Manager) Decide(cat *classify.CategorizedError) Decision {
	d := Decision{
		Reason:              cat.Reason,
		Category:            cat.Category,
		CountsTowardContent: cat.CountsTowardContent,
	}

	switch {
	case cat.Category == classify.CategoryNetwork && !cat.Retryable:
		d.Explanation = fmt.Sprintf("network subtype %s is not retryable", cat.Subtype)
	case cat.Category == classify.CategoryFatal || cat.Category == classify.CategoryInternal:
		d.Explanation = fmt.Sprintf("%s failures are never retried", cat.Category)
	case !m.pol.Allows(cat.Reason):
		d.Explanation = fmt.Sprintf("reason %s is not in the retry allow-list", cat.Reason)
	case m.totalRetries() >= m.pol.MaxTotalRetries:
		m.state.LimitReached = true
		d.Explanation = fmt.Sprintf("absolute retry cap %d reached", m.pol.MaxTotalRetries)
	case m.state.LimitReached:
		d.Explanation = "absolute retry cap previously reached"
	case cat.Category == classify.CategoryModel && m.state.ContentAttempts >= m.pol.MaxContentAttempts:
		d.Explanation = fmt.Sprintf("content-attempt budget %d exhausted", m.pol.MaxContentAttempts)
	default:
		d.ShouldRetry = true
		d.Delay = m.delay(cat)
		d.Explanation = fmt.Sprintf("retrying %s failure after %v", cat.Category, d.Delay)
	}
	return d
}

// delay computes the backoff for the failure using the counter appropriate
// to its category, so each category's delay sequence is independent.
func (m *Manager) delay(cat *classify.CategorizedError) time.Duration {
	base := m.pol.BaseDelay
	if override, ok := m.pol.SubtypeDelays[cat.Subtype]; ok {
		base = override
	}
	var attempt int
	switch cat.Category {
	case classify.CategoryModel:
		attempt = m.state.ContentAttempts
	case classify.CategoryNetwork:
		attempt = m.state.NetworkRetries
	default:
		attempt = m.state.TransientRetries
	}
	return backoff.Delay(m.strategy, attempt, base, m.pol.MaxDelay)
}

// Record advances the counter matching the failure's category, appends the
// failure to the bounded history, and performs the decided sleep. The sleep
// honors context cancellation; a cancellation error is returned unslept.
// Refused decisions record history only.
func (m *Manager) Record(ctx context.Context, cat *classify.CategorizedError, d Decision) error {
	m.state.History = append(m.state.History, cat)
	if len(m.state.History) > historyBound {
		m.state.History = m.state.History[1:]
	}
	if !d.ShouldRetry {
		return nil
	}

	switch cat.Category {
	case classify.CategoryModel:
		m.state.ContentAttempts++
	case classify.CategoryNetwork:
		m.state.NetworkRetries++
	default:
		m.state.TransientRetries++
	}
	m.granted++
	m.state.TotalDelay += d.Delay

	m.log.Debug(ctx, "retry sleeping",
		"category", string(cat.Category),
		"reason", string(cat.Reason),
		"delay", d.Delay.String(),
	)
	return m.sleep(ctx, d.Delay)
}

// State returns a copy of the current counters and bounded history.
func (m *Manager) State() State {
	s := m.state
	s.History = make([]*classify.CategorizedError, len(m.state.History))
	copy(s.History, m.state.History)
	return s
}

// ResetPerSource clears the counters local to a source when the orchestrator
// switches to a fallback. The content-attempt counter survives the switch
// only when the caller opted into checkpoint continuation; the sticky
// LimitReached flag and absolute totals are preserved through History and
// TotalDelay semantics regardless.
func (m *Manager) ResetPerSource(preserveContentAttempts bool) {
	m.state.NetworkRetries = 0
	m.state.TransientRetries = 0
	if !preserveContentAttempts {
		m.state.ContentAttempts = 0
	}
}

// totalRetries counts every granted retry across categories and fallback
// switches.
func (m *Manager) totalRetries() int { return m.granted }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
