// Package guardrail evaluates pluggable content rules against partial and
// completed output. The engine holds an ordered rule list; the orchestrator
// calls Check on each sweep with a content snapshot, folds the reported
// violations into execution state, and acts on the aggregate verdict
// (continue, retry, or halt).
//
// Rule failures are contained: a rule that returns an error or panics is
// converted into a single recoverable warning violation naming the rule, so
// a broken rule can never abort the stream.
package guardrail

import (
	"context"
	"fmt"
)

// Severity grades a violation.
type Severity string

const (
	// SeverityWarning is informational; it never triggers a retry or halt.
	SeverityWarning Severity = "warning"

	// SeverityError marks content that should be regenerated (when
	// recoverable) or that halts the stream (when not).
	SeverityError Severity = "error"

	// SeverityFatal always halts evaluation and the stream.
	SeverityFatal Severity = "fatal"
)

type (
	// Violation is one rule finding against a content snapshot.
	Violation struct {
		// Rule names the rule that produced the violation.
		Rule string
		// Message is the human-readable description.
		Message string
		// Severity grades the violation.
		Severity Severity
		// Recoverable reports whether regenerating the content may clear
		// the violation.
		Recoverable bool
		// Position is the byte offset of the offending span when known, -1
		// otherwise.
		Position int
		// Suggestion optionally describes how to fix the content.
		Suggestion string
	}

	// Result aggregates one check's violations into a verdict.
	Result struct {
		// Pass reports whether the check produced no violations.
		Pass bool
		// Violations are the findings of this check, in rule order.
		Violations []Violation
		// ShouldRetry reports whether regeneration may clear the findings:
		// true iff any recoverable violation of severity error or fatal.
		ShouldRetry bool
		// ShouldHalt reports whether the stream must stop: true iff any
		// fatal violation, or any non-recoverable error-severity violation.
		ShouldHalt bool
		// Warnings, Errors, and Fatals count findings by severity.
		Warnings, Errors, Fatals int
	}

	// Context is the snapshot a rule evaluates. The engine fills
	// PreviousViolations with the findings accumulated earlier in the same
	// invocation so rules can suppress duplicate reporting.
	Context struct {
		// Content is the full assembled content so far.
		Content string
		// Delta is the content added since the previous check. Empty on
		// completion re-checks.
		Delta string
		// TokenCount is the number of tokens consumed so far.
		TokenCount int
		// Completed reports whether the stream has ended and Content is
		// final.
		Completed bool
		// PreviousViolations holds the findings accumulated across earlier
		// checks of this invocation.
		PreviousViolations []Violation
	}

	// Rule is a single pluggable content check.
	Rule interface {
		// Name identifies the rule in violations and logs.
		Name() string
		// Streaming reports whether the rule runs on partial content.
		// Non-streaming rules run only when Context.Completed is true.
		Streaming() bool
		// Check evaluates the snapshot and returns any violations. An error
		// is contained by the engine and reported as a warning violation.
		Check(ctx context.Context, gc *Context) ([]Violation, error)
	}

	// Engine evaluates an ordered rule list and accumulates per-rule and
	// total violation state across a whole invocation. Not safe for
	// concurrent use; the orchestrator owns it for one invocation.
	Engine struct {
		rules       []Rule
		stopOnFatal bool
		accumulated []Violation
		perRule     map[string]int
	}

	// EngineOption customizes engine construction.
	EngineOption func(*Engine)
)

// WithStopOnFatal controls whether evaluation stops at the first rule that
// produces a fatal violation. Enabled by default.
func WithStopOnFatal(stop bool) EngineOption {
	return func(e *Engine) { e.stopOnFatal = stop }
}

// NewEngine constructs an engine over the given rules. Rules execute in list
// order on every check.
func NewEngine(rules []Rule, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:       rules,
		stopOnFatal: true,
		perRule:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate derives the verdict for a violation list. The derivation is
// deterministic: ShouldHalt iff the list contains a fatal violation or a
// non-recoverable error-severity violation; ShouldRetry iff it contains a
// recoverable violation of severity error or fatal.
func Evaluate(violations []Violation) Result {
	res := Result{Pass: len(violations) == 0, Violations: violations}
	for _, v := range violations {
		switch v.Severity {
		case SeverityWarning:
			res.Warnings++
		case SeverityError:
			res.Errors++
			if v.Recoverable {
				res.ShouldRetry = true
			} else {
				res.ShouldHalt = true
			}
		case SeverityFatal:
			res.Fatals++
			res.ShouldHalt = true
			if v.Recoverable {
				res.ShouldRetry = true
			}
		}
	}
	return res
}

// Check runs every applicable rule against the snapshot and returns the
// verdict for this check's findings. Findings accumulate into the engine so
// later checks observe them through Context.PreviousViolations.
//
// Rules that declare Streaming() false are skipped until gc.Completed.
// With stop-on-fatal enabled (the default) evaluation stops at the first
// rule producing a fatal violation.
func (e *Engine) Check(ctx context.Context, gc *Context) Result {
	var found []Violation
	for _, rule := range e.rules {
		if !gc.Completed && !rule.Streaming() {
			continue
		}
		gc.PreviousViolations = e.accumulated
		vs := e.runRule(ctx, rule, gc)
		found = append(found, vs...)
		e.accumulated = append(e.accumulated, vs...)
		for _, v := range vs {
			e.perRule[v.Rule]++
		}
		if e.stopOnFatal && hasFatal(vs) {
			break
		}
	}
	return Evaluate(found)
}

// runRule executes one rule, converting errors and panics into a single
// recoverable warning violation naming the rule.
func (e *Engine) runRule(ctx context.Context, rule Rule, gc *Context) (out []Violation) {
	defer func() {
		if r := recover(); r != nil {
			out = []Violation{ruleFailure(rule.Name(), fmt.Sprintf("panic: %v", r))}
		}
	}()
	vs, err := rule.Check(ctx, gc)
	if err != nil {
		return []Violation{ruleFailure(rule.Name(), err.Error())}
	}
	return vs
}

func ruleFailure(name, detail string) Violation {
	return Violation{
		Rule:        name,
		Message:     fmt.Sprintf("rule %q failed: %s", name, detail),
		Severity:    SeverityWarning,
		Recoverable: true,
		Position:    -1,
	}
}

func hasFatal(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// Violations returns the findings accumulated across the invocation so far.
func (e *Engine) Violations() []Violation {
	out := make([]Violation, len(e.accumulated))
	copy(out, e.accumulated)
	return out
}

// Count returns how many violations the named rule has produced in this
// invocation.
func (e *Engine) Count(rule string) int { return e.perRule[rule] }

// Reset clears the accumulated violation state. The orchestrator calls it
// when restarting from empty content after a discarded checkpoint.
func (e *Engine) Reset() {
	e.accumulated = nil
	e.perRule = make(map[string]int)
}
