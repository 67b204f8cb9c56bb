package restream

import (
	"sync"

	"goa.design/restream/guardrail"
)

type (
	// ExecutionState is the shared record of one orchestrator invocation.
	// The orchestrator owns it exclusively and mutates it in place; callers
	// hold a read handle and observe progress through the accessors or
	// Snapshot. It is created at invocation start, reset with selective
	// field preservation before each retry or fallback attempt, and frozen
	// once completion or terminal failure is reached.
	//
	// Invariant: a token count of zero implies empty content.
	ExecutionState struct {
		mu sync.Mutex

		runID            string
		content          string
		checkpoint       string
		checkpointTokens int
		tokenCount       int
		contentAttempts  int
		networkRetries   int
		fallbackIndex    int
		violations       []guardrail.Violation
		driftDetected    bool
		completed        bool
		resumed          bool
		resumeOffset     int
		frozen           bool
	}

	// Snapshot is a point-in-time copy of the execution state.
	Snapshot struct {
		RunID           string
		Content         string
		Checkpoint      string
		TokenCount      int
		ContentAttempts int
		NetworkRetries  int
		FallbackIndex   int
		Violations      []guardrail.Violation
		DriftDetected   bool
		Completed       bool
		Resumed         bool
		ResumeOffset    int
	}
)

func newExecutionState(runID string) *ExecutionState {
	return &ExecutionState{runID: runID}
}

// RunID returns the invocation identifier.
func (s *ExecutionState) RunID() string { return s.runID }

// Content returns the accumulated content.
func (s *ExecutionState) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Checkpoint returns the last checkpointed content prefix.
func (s *ExecutionState) Checkpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint
}

// TokenCount returns the number of tokens consumed so far.
func (s *ExecutionState) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCount
}

// ContentAttempts returns the consumed content-attempt budget.
func (s *ExecutionState) ContentAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentAttempts
}

// NetworkRetries returns the number of granted network retries.
func (s *ExecutionState) NetworkRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkRetries
}

// FallbackIndex returns the active source index (0 = primary).
func (s *ExecutionState) FallbackIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackIndex
}

// Violations returns a copy of every guardrail violation recorded during
// the invocation, including those from attempts that were later retried.
func (s *ExecutionState) Violations() []guardrail.Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]guardrail.Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

// DriftDetected reports whether any attempt triggered the drift detector.
func (s *ExecutionState) DriftDetected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driftDetected
}

// Completed reports whether the invocation terminated successfully.
func (s *ExecutionState) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Resumed reports whether any attempt resumed from a checkpoint.
func (s *ExecutionState) Resumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed
}

// ResumeOffset returns the content length at the last checkpoint resume.
func (s *ExecutionState) ResumeOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeOffset
}

// Snapshot returns a point-in-time copy of the whole record.
func (s *ExecutionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	violations := make([]guardrail.Violation, len(s.violations))
	copy(violations, s.violations)
	return Snapshot{
		RunID:           s.runID,
		Content:         s.content,
		Checkpoint:      s.checkpoint,
		TokenCount:      s.tokenCount,
		ContentAttempts: s.contentAttempts,
		NetworkRetries:  s.networkRetries,
		FallbackIndex:   s.fallbackIndex,
		Violations:      violations,
		DriftDetected:   s.driftDetected,
		Completed:       s.completed,
		Resumed:         s.resumed,
		ResumeOffset:    s.resumeOffset,
	}
}

// appendToken folds a token into the content and advances the count.
func (s *ExecutionState) appendToken(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.content += v
	s.tokenCount++
}

// setCheckpoint snapshots the current content and token count as the
// checkpoint.
func (s *ExecutionState) setCheckpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.checkpoint = s.content
	s.checkpointTokens = s.tokenCount
}

// checkpointInfo returns the checkpoint together with its token count.
func (s *ExecutionState) checkpointInfo() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, s.checkpointTokens
}

// resetEmpty clears the content for a fresh attempt. The checkpoint,
// violation history, counters, and fallback index are preserved.
func (s *ExecutionState) resetEmpty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.content = ""
	s.tokenCount = 0
}

// discardCheckpoint drops an invalidated checkpoint and clears the content.
func (s *ExecutionState) discardCheckpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.checkpoint = ""
	s.checkpointTokens = 0
	s.content = ""
	s.tokenCount = 0
}

// resumeFromCheckpoint promotes the delivered content to the checkpoint and
// marks the attempt resumed, returning the promoted checkpoint. Promotion
// matters: tokens delivered after the last periodic snapshot are already on
// the public sequence, so continuation matching must deduplicate against
// everything the caller has received, not just the snapshot.
func (s *ExecutionState) resumeFromCheckpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return s.checkpoint
	}
	s.checkpoint = s.content
	s.checkpointTokens = s.tokenCount
	s.resumed = true
	s.resumeOffset = len(s.content)
	return s.checkpoint
}

// addViolations folds new guardrail findings into the record.
func (s *ExecutionState) addViolations(vs []guardrail.Violation) {
	if len(vs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.violations = append(s.violations, vs...)
}

// markDrift latches the drift-detected flag.
func (s *ExecutionState) markDrift() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.driftDetected = true
}

// syncRetry mirrors the retry manager's counters into the record.
func (s *ExecutionState) syncRetry(contentAttempts, networkRetries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.contentAttempts = contentAttempts
	s.networkRetries = networkRetries
}

// advanceFallback moves to the next source.
func (s *ExecutionState) advanceFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.fallbackIndex++
}

// freeze marks the record terminal. Further mutation is ignored.
func (s *ExecutionState) freeze(completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = completed
	s.frozen = true
}
