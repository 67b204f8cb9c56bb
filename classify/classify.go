// Package classify maps failures raised during stream consumption to a
// network-error subtype and a coarse category. Classification is performed
// once per failure; the resulting CategorizedError is never mutated and is
// the sole input (together with retry state) to retry decisions.
//
// The category routing is deliberate: only model-category failures consume
// the caller's content-attempt budget, so transient infrastructure noise
// never starves the limited number of content re-generations.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Category is the coarse failure classification that drives retry routing.
type Category string

const (
	// CategoryNetwork covers transport-level failures. Always retryable
	// except the SSL/certificate subtype.
	CategoryNetwork Category = "network"

	// CategoryTransient covers rate limits, server 5xx responses, and
	// timeouts reported with an HTTP status. Retryable.
	CategoryTransient Category = "transient"

	// CategoryModel covers failures attributable to the generated content
	// itself: guardrail violations, drift, zero output, incomplete streams.
	// Retryable up to the content-attempt budget.
	CategoryModel Category = "model"

	// CategoryFatal covers auth failures, non-retryable 4xx responses,
	// halting guardrail violations, and caller aborts. Never retried.
	CategoryFatal Category = "fatal"

	// CategoryInternal covers misconfiguration (a requested feature with no
	// registered dependency, an unresolvable source shape). Surfaced
	// immediately, never retried, and never produced by Classify itself.
	CategoryInternal Category = "internal"
)

// Subtype refines network-category failures for delay overrides and
// diagnostics.
type Subtype string

const (
	SubtypeConnectionDropped   Subtype = "connection_dropped"
	SubtypeReset               Subtype = "connection_reset"
	SubtypeRefused             Subtype = "connection_refused"
	SubtypeDNS                 Subtype = "dns"
	SubtypeSSL                 Subtype = "ssl"
	SubtypeTimeout             Subtype = "timeout"
	SubtypeAbortedStream       Subtype = "aborted_stream"
	SubtypeNoBytes             Subtype = "no_bytes"
	SubtypePartialChunk        Subtype = "partial_chunk"
	SubtypeRuntimeKilled       Subtype = "runtime_killed"
	SubtypeBackgroundThrottled Subtype = "background_throttled"
	SubtypeUnknown             Subtype = "unknown"
)

// Reason tags a retry cause. Policies may restrict retries to an allow-list
// of reasons.
type Reason string

const (
	ReasonNetwork    Reason = "network_error"
	ReasonTransient  Reason = "transient_error"
	ReasonTimeout    Reason = "timeout"
	ReasonGuardrail  Reason = "guardrail_violation"
	ReasonDrift      Reason = "drift_detected"
	ReasonZeroOutput Reason = "zero_output"
	ReasonIncomplete Reason = "incomplete_stream"
	ReasonModel      Reason = "model_error"
	ReasonAborted    Reason = "aborted"
	ReasonFatal      Reason = "fatal"
)

// Reasons returns every retry reason tag. Policies use this as the implicit
// allow-list when none is configured.
func Reasons() []Reason {
	return []Reason{
		ReasonNetwork, ReasonTransient, ReasonTimeout, ReasonGuardrail,
		ReasonDrift, ReasonZeroOutput, ReasonIncomplete, ReasonModel,
		ReasonAborted, ReasonFatal,
	}
}

type (
	// CategorizedError is the classified form of a failure. It is derived
	// once by Classify and carries everything the retry manager needs to
	// decide retry vs. fallback vs. terminal failure.
	CategorizedError struct {
		// Cause is the underlying failure. Never nil.
		Cause error
		// Category is the coarse classification.
		Category Category
		// Subtype refines network failures; SubtypeUnknown otherwise.
		Subtype Subtype
		// Reason tags the failure for allow-list filtering.
		Reason Reason
		// CountsTowardContent reports whether a retry of this failure
		// consumes the content-attempt budget. True only for CategoryModel.
		CountsTowardContent bool
		// Retryable reports whether retrying may succeed at all. Decision
		// logic still applies budgets and allow-lists on top of this.
		Retryable bool
		// StatusCode is the HTTP status when the failure carried one, 0
		// otherwise.
		StatusCode int
	}

	// HTTPStatusError represents a failure with an HTTP status code, as
	// surfaced by source adapters for providers that report statuses.
	HTTPStatusError struct {
		StatusCode int
		Message    string
	}

	// TimeoutError is raised by the orchestrator when the initial-token or
	// inter-token timer fires before the next unit arrives.
	TimeoutError struct {
		// Phase is "initial_token" or "inter_token".
		Phase string
		// Wait is the timeout that elapsed.
		Wait time.Duration
	}

	// ContentError is raised by the orchestrator for failures attributable
	// to the generated content: guardrail verdicts, drift detection, zero
	// output, incomplete streams.
	ContentError struct {
		// Reason tags the content failure.
		Reason Reason
		// Message is a human-readable description.
		Message string
		// Fatal marks halting verdicts that must never be retried.
		Fatal bool
	}

	// AbortError is raised when the cancellation token fires. It carries the
	// best-known checkpoint so callers do not lose delivered progress.
	AbortError struct {
		// Checkpoint is the last known-good content prefix at abort time.
		Checkpoint string
		// Err is the triggering cancellation cause.
		Err error
	}

	// ConfigError reports misconfiguration detected at construction or
	// source resolution time. Never retried.
	ConfigError struct {
		Message string
	}
)

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no token within %v (%s timeout)", e.Wait, e.Phase)
}

// Timeout reports true so TimeoutError satisfies net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// Error implements the error interface.
func (e *ContentError) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Error implements the error interface.
func (e *AbortError) Error() string {
	return fmt.Sprintf("stream aborted with %d checkpointed bytes: %v", len(e.Checkpoint), e.Err)
}

// Unwrap returns the triggering cancellation cause.
func (e *AbortError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *ConfigError) Error() string { return "configuration: " + e.Message }

// NewConfigError constructs a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Category, e.Reason, e.Cause)
}

// Unwrap returns the underlying failure to preserve the error chain.
func (e *CategorizedError) Unwrap() error { return e.Cause }

// Classify derives the category, subtype, reason, and budget routing for a
// failure. Passing an already-classified error returns it unchanged.
//
// Routing: network-pattern matches map to CategoryNetwork; HTTP 429, 5xx,
// and timeouts map to CategoryTransient; HTTP 401/403 and remaining 4xx map
// to CategoryFatal; everything else maps to CategoryModel.
func Classify(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce
	}

	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return &CategorizedError{Cause: err, Category: CategoryInternal, Subtype: SubtypeUnknown, Reason: ReasonFatal}
	}

	var abort *AbortError
	if errors.As(err, &abort) || errors.Is(err, context.Canceled) {
		return &CategorizedError{Cause: err, Category: CategoryFatal, Subtype: SubtypeAbortedStream, Reason: ReasonAborted}
	}

	var content *ContentError
	if errors.As(err, &content) {
		if content.Fatal {
			return &CategorizedError{Cause: err, Category: CategoryFatal, Subtype: SubtypeUnknown, Reason: content.Reason}
		}
		return &CategorizedError{
			Cause:               err,
			Category:            CategoryModel,
			Subtype:             SubtypeUnknown,
			Reason:              content.Reason,
			CountsTowardContent: true,
			Retryable:           true,
		}
	}

	var timeout *TimeoutError
	if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) {
		return &CategorizedError{Cause: err, Category: CategoryNetwork, Subtype: SubtypeTimeout, Reason: ReasonTimeout, Retryable: true}
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return classifyStatus(err, httpErr.StatusCode)
	}

	if sub, ok := networkSubtype(err); ok {
		return &CategorizedError{
			Cause:     err,
			Category:  CategoryNetwork,
			Subtype:   sub,
			Reason:    ReasonNetwork,
			Retryable: sub != SubtypeSSL,
		}
	}

	// Unrecognized failures are attributed to the model so they consume the
	// content-attempt budget rather than retrying forever on infrastructure
	// counters.
	return &CategorizedError{
		Cause:               err,
		Category:            CategoryModel,
		Subtype:             SubtypeUnknown,
		Reason:              ReasonModel,
		CountsTowardContent: true,
		Retryable:           true,
	}
}

func classifyStatus(err error, status int) *CategorizedError {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return &CategorizedError{Cause: err, Category: CategoryTransient, Subtype: SubtypeUnknown, Reason: ReasonTransient, Retryable: true, StatusCode: status}
	case status >= 400:
		return &CategorizedError{Cause: err, Category: CategoryFatal, Subtype: SubtypeUnknown, Reason: ReasonFatal, StatusCode: status}
	default:
		return &CategorizedError{Cause: err, Category: CategoryTransient, Subtype: SubtypeUnknown, Reason: ReasonTransient, Retryable: true, StatusCode: status}
	}
}

// networkSubtype matches transport-level failures by error type and message
// heuristics. The message patterns mirror the strings surfaced by common
// transports; typed checks (net.Error, DNSError) take precedence.
func networkSubtype(err error) (Subtype, bool) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return SubtypeDNS, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SubtypeTimeout, true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range subtypePatterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.subtype, true
			}
		}
	}
	if errors.As(err, &netErr) {
		return SubtypeUnknown, true
	}
	return SubtypeUnknown, false
}

var subtypePatterns = []struct {
	subtype Subtype
	needles []string
}{
	{SubtypeSSL, []string{"tls", "ssl", "x509", "certificate"}},
	{SubtypeReset, []string{"connection reset", "econnreset"}},
	{SubtypeRefused, []string{"connection refused", "econnrefused"}},
	{SubtypeDNS, []string{"no such host", "dns", "name resolution"}},
	{SubtypeTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{SubtypeRuntimeKilled, []string{"killed", "out of memory", "oom"}},
	{SubtypeBackgroundThrottled, []string{"throttl", "backgrounded"}},
	{SubtypePartialChunk, []string{"partial chunk", "truncated", "incomplete chunk"}},
	{SubtypeNoBytes, []string{"no bytes", "empty response body", "empty reply"}},
	{SubtypeAbortedStream, []string{"stream aborted", "aborted", "stream closed", "unexpected eof"}},
	{SubtypeConnectionDropped, []string{"connection dropped", "broken pipe", "connection closed", "eof"}},
}
