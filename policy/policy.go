// Package policy defines the configuration surface of the stream runtime:
// retry budgets and backoff, timeout durations, sweep intervals, and
// checkpoint-continuation behavior. Policies are plain data with defaults
// and validation; they can be built in code or loaded from YAML.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/restream/backoff"
	"goa.design/restream/classify"
)

type (
	// Policy is the full option set recognized by the orchestrator.
	Policy struct {
		// MaxContentAttempts is the content-attempt budget: the number of
		// retries allowed for failures attributable to the generated
		// content itself (model category). Network and transient retries do
		// not consume it.
		MaxContentAttempts int `yaml:"max_content_attempts"`

		// MaxTotalRetries is the absolute retry cap across every category.
		// Once reached no further retry is granted regardless of category.
		MaxTotalRetries int `yaml:"max_total_retries"`

		// BaseDelay seeds the backoff calculation.
		BaseDelay time.Duration `yaml:"base_delay"`

		// MaxDelay caps every computed backoff delay.
		MaxDelay time.Duration `yaml:"max_delay"`

		// Backoff selects the delay-growth strategy: "fixed", "linear",
		// "exponential", "full_jitter", or "fixed_jitter". Empty selects
		// exponential.
		Backoff string `yaml:"backoff"`

		// AllowedReasons restricts retries to the listed reason tags. Empty
		// allows every reason.
		AllowedReasons []classify.Reason `yaml:"allowed_reasons"`

		// SubtypeDelays overrides the base delay for specific network
		// subtypes (for example, a longer base for "dns").
		SubtypeDelays map[classify.Subtype]time.Duration `yaml:"subtype_delays"`

		// InitialTokenTimeout bounds the wait for the first token of each
		// source attempt. Zero disables the timer.
		InitialTokenTimeout time.Duration `yaml:"initial_token_timeout"`

		// InterTokenTimeout bounds the gap between consecutive tokens once
		// streaming. Zero disables the timer.
		InterTokenTimeout time.Duration `yaml:"inter_token_timeout"`

		// GuardrailInterval runs the guardrail engine every N tokens.
		// Zero disables partial checks; the completion check always runs.
		GuardrailInterval int `yaml:"guardrail_interval"`

		// DriftInterval runs the drift detector every N tokens. Zero
		// disables partial checks; the completion check always runs when
		// drift detection is enabled.
		DriftInterval int `yaml:"drift_interval"`

		// CheckpointInterval snapshots the checkpoint every N tokens. Zero
		// disables checkpointing.
		CheckpointInterval int `yaml:"checkpoint_interval"`

		// Continuation re-primes the buffer from the last checkpoint after
		// a retry or fallback switch and deduplicates the resumed output
		// against it. The content-attempt counter survives a fallback
		// switch only when continuation is enabled.
		Continuation bool `yaml:"continuation"`

		// Dedup bounds and normalizes continuation deduplication.
		Dedup Dedup `yaml:"dedup"`

		// DetectZeroOutput raises a recoverable zero-output failure when a
		// completed stream assembled no meaningful text.
		DetectZeroOutput bool `yaml:"detect_zero_output"`

		// DetectDrift runs the drift detector. Requires a detector to be
		// injected into the orchestrator; requesting drift without one is a
		// configuration error.
		DetectDrift bool `yaml:"detect_drift"`
	}

	// Dedup configures the overlap matcher used for continuation
	// deduplication.
	Dedup struct {
		// MinOverlap is the shortest overlap considered a match.
		MinOverlap int `yaml:"min_overlap"`
		// MaxOverlap is the longest overlap considered and the resumed
		// buffering bound.
		MaxOverlap int `yaml:"max_overlap"`
		// CaseInsensitive matches ignoring case.
		CaseInsensitive bool `yaml:"case_insensitive"`
		// NormalizeWhitespace collapses whitespace runs before matching.
		NormalizeWhitespace bool `yaml:"normalize_whitespace"`
	}
)

// Default returns the policy used when the caller configures nothing:
// exponential backoff, two content attempts, continuation enabled, and every
// detection feature except drift (which needs an injected detector).
func Default() Policy {
	return Policy{
		MaxContentAttempts:  2,
		MaxTotalRetries:     10,
		BaseDelay:           500 * time.Millisecond,
		MaxDelay:            30 * time.Second,
		Backoff:             string(backoff.Exponential),
		InitialTokenTimeout: 30 * time.Second,
		InterTokenTimeout:   15 * time.Second,
		GuardrailInterval:   25,
		DriftInterval:       50,
		CheckpointInterval:  25,
		Continuation:        true,
		Dedup:               Dedup{MinOverlap: 4, MaxOverlap: 256},
		DetectZeroOutput:    true,
	}
}

// Validate checks the policy for values the orchestrator cannot run with.
func (p Policy) Validate() error {
	if p.MaxContentAttempts < 0 {
		return fmt.Errorf("policy: max_content_attempts must be >= 0, got %d", p.MaxContentAttempts)
	}
	if p.MaxTotalRetries < 0 {
		return fmt.Errorf("policy: max_total_retries must be >= 0, got %d", p.MaxTotalRetries)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("policy: delays must be >= 0")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("policy: base_delay %v exceeds max_delay %v", p.BaseDelay, p.MaxDelay)
	}
	if _, err := backoff.ParseStrategy(p.Backoff); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if p.GuardrailInterval < 0 || p.DriftInterval < 0 || p.CheckpointInterval < 0 {
		return fmt.Errorf("policy: intervals must be >= 0")
	}
	if p.Dedup.MinOverlap < 0 || p.Dedup.MaxOverlap < 0 {
		return fmt.Errorf("policy: dedup overlaps must be >= 0")
	}
	if p.Dedup.MaxOverlap > 0 && p.Dedup.MinOverlap > p.Dedup.MaxOverlap {
		return fmt.Errorf("policy: dedup min_overlap %d exceeds max_overlap %d", p.Dedup.MinOverlap, p.Dedup.MaxOverlap)
	}
	valid := make(map[classify.Reason]bool)
	for _, r := range classify.Reasons() {
		valid[r] = true
	}
	for _, r := range p.AllowedReasons {
		if !valid[r] {
			return fmt.Errorf("policy: unknown retry reason %q", r)
		}
	}
	return nil
}

// Allows reports whether the policy permits retries for the given reason.
// An empty allow-list permits every reason.
func (p Policy) Allows(r classify.Reason) bool {
	if len(p.AllowedReasons) == 0 {
		return true
	}
	for _, allowed := range p.AllowedReasons {
		if allowed == r {
			return true
		}
	}
	return false
}

// Parse decodes a policy from YAML, applying defaults for absent fields and
// validating the result.
func Parse(data []byte) (Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("policy: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Load reads and parses a policy YAML file.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}
