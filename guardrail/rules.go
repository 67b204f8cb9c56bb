package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

type (
	// ruleFunc adapts a function to the Rule interface.
	ruleFunc struct {
		name      string
		streaming bool
		fn        func(ctx context.Context, gc *Context) ([]Violation, error)
	}

	// minLengthRule flags completed content shorter than a minimum.
	minLengthRule struct {
		min int
	}

	// bannedPatternRule flags content matching a regular expression. It
	// runs on partial content and reports each match position once: matches
	// already reported in PreviousViolations are suppressed.
	bannedPatternRule struct {
		name        string
		re          *regexp.Regexp
		severity    Severity
		recoverable bool
	}
)

// NewRule adapts a check function to the Rule interface. Streaming rules run
// on partial snapshots as well as on completion.
func NewRule(name string, streaming bool, fn func(ctx context.Context, gc *Context) ([]Violation, error)) Rule {
	return &ruleFunc{name: name, streaming: streaming, fn: fn}
}

func (r *ruleFunc) Name() string    { return r.name }
func (r *ruleFunc) Streaming() bool { return r.streaming }
func (r *ruleFunc) Check(ctx context.Context, gc *Context) ([]Violation, error) {
	return r.fn(ctx, gc)
}

// MinLength returns a completed-only rule that reports a recoverable
// error-severity violation when the final content is shorter than min runes.
func MinLength(min int) Rule {
	return &minLengthRule{min: min}
}

func (r *minLengthRule) Name() string    { return "min_length" }
func (r *minLengthRule) Streaming() bool { return false }

func (r *minLengthRule) Check(_ context.Context, gc *Context) ([]Violation, error) {
	n := len([]rune(strings.TrimSpace(gc.Content)))
	if n >= r.min {
		return nil, nil
	}
	return []Violation{{
		Rule:        r.Name(),
		Message:     fmt.Sprintf("content has %d runes, need at least %d", n, r.min),
		Severity:    SeverityError,
		Recoverable: true,
		Position:    -1,
		Suggestion:  "regenerate with a longer completion",
	}}, nil
}

// BannedPattern returns a streaming rule that reports a violation at every
// new match of pattern in the content. The severity and recoverable flag
// determine whether a match retries the generation or halts the stream.
func BannedPattern(name, pattern string, severity Severity, recoverable bool) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("guardrail: invalid pattern for rule %q: %w", name, err)
	}
	return &bannedPatternRule{name: name, re: re, severity: severity, recoverable: recoverable}, nil
}

func (r *bannedPatternRule) Name() string    { return r.name }
func (r *bannedPatternRule) Streaming() bool { return true }

func (r *bannedPatternRule) Check(_ context.Context, gc *Context) ([]Violation, error) {
	seen := make(map[int]bool)
	for _, prev := range gc.PreviousViolations {
		if prev.Rule == r.name {
			seen[prev.Position] = true
		}
	}
	var out []Violation
	for _, loc := range r.re.FindAllStringIndex(gc.Content, -1) {
		if seen[loc[0]] {
			continue
		}
		out = append(out, Violation{
			Rule:        r.name,
			Message:     fmt.Sprintf("banned pattern matched at offset %d: %q", loc[0], gc.Content[loc[0]:loc[1]]),
			Severity:    r.severity,
			Recoverable: r.recoverable,
			Position:    loc[0],
		})
	}
	return out, nil
}
