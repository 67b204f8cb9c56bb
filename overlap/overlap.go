// Package overlap deduplicates resumed output against a checkpoint. After a
// retry the source typically re-generates some of the text that was already
// delivered; Match finds the longest suffix of the checkpoint that the
// continuation starts with and returns the continuation with that span
// stripped, so concatenating checkpoint + deduplicated never repeats text.
package overlap

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type (
	// Options bounds and normalizes the suffix/prefix search.
	Options struct {
		// MinOverlap is the shortest overlap considered a match, in bytes of
		// the (possibly normalized) text. Short incidental matches below
		// this bound are ignored.
		MinOverlap int
		// MaxOverlap is the longest overlap considered, and the amount of
		// continuation the orchestrator buffers before forcing a match.
		MaxOverlap int
		// CaseInsensitive compares candidate spans ignoring case.
		CaseInsensitive bool
		// NormalizeWhitespace collapses whitespace runs to a single space
		// before comparing. The returned overlap length is re-mapped onto
		// the original continuation so the caller's dedup slice stays
		// byte-exact.
		NormalizeWhitespace bool
	}

	// Result reports the outcome of a match.
	Result struct {
		// OverlapLength is the number of bytes of the original continuation
		// covered by the matched overlap. Zero when HasOverlap is false.
		OverlapLength int
		// Deduplicated is the continuation with the overlap stripped. Equal
		// to the full continuation when no overlap was found.
		Deduplicated string
		// HasOverlap reports whether a match within the bounds was found.
		HasOverlap bool
	}
)

// DefaultOptions returns the bounds used when the caller does not configure
// deduplication explicitly.
func DefaultOptions() Options {
	return Options{MinOverlap: 4, MaxOverlap: 256}
}

// Match finds the longest suffix of checkpoint that continuation begins
// with, scanning lengths from min(|checkpoint|, |continuation|, MaxOverlap)
// down to MinOverlap. The longest match wins: this bias avoids under-trimming
// when short incidental overlaps exist. No match within the bounds returns
// the continuation unmodified with HasOverlap false.
func Match(checkpoint, continuation string, opts Options) Result {
	if opts.MinOverlap <= 0 {
		opts.MinOverlap = 1
	}
	miss := Result{Deduplicated: continuation}
	if checkpoint == "" || continuation == "" {
		return miss
	}

	cp, _ := normalize(checkpoint, opts)
	cont, origIdx := normalize(continuation, opts)

	longest := len(cp)
	if len(cont) < longest {
		longest = len(cont)
	}
	if opts.MaxOverlap > 0 && opts.MaxOverlap < longest {
		longest = opts.MaxOverlap
	}
	for l := longest; l >= opts.MinOverlap; l-- {
		if !spanEqual(cp[len(cp)-l:], cont[:l], opts.CaseInsensitive) {
			continue
		}
		// Map the normalized match length back onto the original
		// continuation. origIdx[l] is the original byte offset where the
		// l-th normalized byte begins, so the slice boundary is byte-exact.
		cut := origIdx[l]
		return Result{
			OverlapLength: cut,
			Deduplicated:  continuation[cut:],
			HasOverlap:    true,
		}
	}
	return miss
}

// spanEqual compares two equal-length spans, optionally ignoring case.
func spanEqual(a, b string, caseInsensitive bool) bool {
	if caseInsensitive {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// normalize collapses whitespace runs to single spaces when requested and
// returns the normalized text together with a boundary map: idx[i] is the
// byte offset in the original string where normalized byte i begins, with
// idx[len(normalized)] == len(original). Without normalization the map is
// the identity.
func normalize(s string, opts Options) (string, []int) {
	if !opts.NormalizeWhitespace {
		idx := make([]int, len(s)+1)
		for i := range idx {
			idx[i] = i
		}
		return s, idx
	}
	var b strings.Builder
	idx := make([]int, 0, len(s)+1)
	inSpace := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				idx = append(idx, i)
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		for j := 0; j < utf8.RuneLen(r); j++ {
			idx = append(idx, i)
		}
		b.WriteRune(r)
	}
	idx = append(idx, len(s))
	return b.String(), idx
}
