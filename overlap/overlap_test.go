package overlap

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		name       string
		checkpoint string
		cont       string
		opts       Options
		wantLen    int
		wantDedup  string
		wantHas    bool
	}{
		{
			name:       "exact resume overlap",
			checkpoint: "The quick brown fox ",
			cont:       "brown fox jumps over",
			opts:       DefaultOptions(),
			wantLen:    10,
			wantDedup:  "jumps over",
			wantHas:    true,
		},
		{
			name:       "suffix prefix overlap",
			checkpoint: "The quick brown fox",
			cont:       "brown fox jumps over",
			opts:       DefaultOptions(),
			wantLen:    9,
			wantDedup:  " jumps over",
			wantHas:    true,
		},
		{
			name:       "whole checkpoint regenerated",
			checkpoint: "alpha beta ",
			cont:       "alpha beta gamma",
			opts:       DefaultOptions(),
			wantLen:    11,
			wantDedup:  "gamma",
			wantHas:    true,
		},
		{
			name:       "no overlap",
			checkpoint: "completely different",
			cont:       "fresh continuation text",
			opts:       DefaultOptions(),
			wantDedup:  "fresh continuation text",
		},
		{
			name:       "below min overlap ignored",
			checkpoint: "xxab",
			cont:       "abyy",
			opts:       Options{MinOverlap: 4, MaxOverlap: 64},
			wantDedup:  "abyy",
		},
		{
			name:       "empty continuation",
			checkpoint: "anything",
			cont:       "",
			opts:       DefaultOptions(),
			wantDedup:  "",
		},
		{
			name:       "empty checkpoint",
			checkpoint: "",
			cont:       "anything",
			opts:       DefaultOptions(),
			wantDedup:  "anything",
		},
		{
			name:       "case insensitive",
			checkpoint: "Hello World",
			cont:       "WORLD again",
			opts:       Options{MinOverlap: 4, MaxOverlap: 64, CaseInsensitive: true},
			wantLen:    5,
			wantDedup:  " again",
			wantHas:    true,
		},
		{
			name:       "max overlap bounds the search",
			checkpoint: strings.Repeat("a", 100),
			cont:       strings.Repeat("a", 100) + "b",
			opts:       Options{MinOverlap: 4, MaxOverlap: 10},
			wantLen:    10,
			wantDedup:  strings.Repeat("a", 90) + "b",
			wantHas:    true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Match(tc.checkpoint, tc.cont, tc.opts)
			require.Equal(t, tc.wantHas, res.HasOverlap)
			require.Equal(t, tc.wantLen, res.OverlapLength)
			require.Equal(t, tc.wantDedup, res.Deduplicated)
		})
	}
}

func TestMatchNormalizeWhitespace(t *testing.T) {
	opts := Options{MinOverlap: 4, MaxOverlap: 64, NormalizeWhitespace: true}

	// The continuation repeats the checkpoint tail with different spacing.
	// The overlap must be found on the normalized text but the cut must be
	// byte-exact on the original continuation.
	res := Match("one two three", "two\t\tthree four", opts)
	require.True(t, res.HasOverlap)
	require.Equal(t, " four", res.Deduplicated)
	require.Equal(t, len("two\t\tthree"), res.OverlapLength)
}

func TestMatchMultibyte(t *testing.T) {
	res := Match("héllo wörld", "wörld again", DefaultOptions())
	require.True(t, res.HasOverlap)
	require.Equal(t, " again", res.Deduplicated)
	require.Equal(t, len("wörld"), res.OverlapLength)
}

func TestMatchProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	opts := Options{MinOverlap: 2, MaxOverlap: 128}
	text := gen.RegexMatch("[ab ]{0,40}")

	properties.Property("dedup is the continuation minus the overlap", prop.ForAll(
		func(cp, cont string) bool {
			res := Match(cp, cont, opts)
			if res.HasOverlap {
				return res.Deduplicated == cont[res.OverlapLength:] &&
					strings.HasSuffix(cp, cont[:res.OverlapLength]) &&
					res.OverlapLength >= opts.MinOverlap
			}
			return res.OverlapLength == 0 && res.Deduplicated == cont
		},
		text, text,
	))

	properties.Property("constructed overlaps are stripped", prop.ForAll(
		func(prefix, ov, suffix string) bool {
			if len(ov) < opts.MinOverlap {
				return true
			}
			res := Match(prefix+ov, ov+suffix, opts)
			if !res.HasOverlap {
				return false
			}
			// The match may be longer than ov when prefix+ov re-aligns, but
			// concatenating checkpoint and dedup must never lose text.
			return strings.HasSuffix(prefix+ov+res.Deduplicated, suffix)
		},
		gen.RegexMatch("[xy]{0,20}"),
		gen.RegexMatch("[pq]{0,12}"),
		gen.RegexMatch("[rs]{0,20}"),
	))

	properties.TestingRun(t)
}
