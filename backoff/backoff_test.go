package backoff

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Strategy
		err  bool
	}{
		{name: "empty defaults to exponential", in: "", want: Exponential},
		{name: "fixed", in: "fixed", want: Fixed},
		{name: "linear", in: "linear", want: Linear},
		{name: "exponential", in: "exponential", want: Exponential},
		{name: "full jitter", in: "full_jitter", want: FullJitter},
		{name: "fixed jitter", in: "fixed_jitter", want: FixedJitter},
		{name: "unknown", in: "fibonacci", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseStrategy(tc.in)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDelayDeterministic(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	require.Equal(t, base, Delay(Fixed, 0, base, max))
	require.Equal(t, base, Delay(Fixed, 7, base, max))

	require.Equal(t, 100*time.Millisecond, Delay(Linear, 0, base, max))
	require.Equal(t, 300*time.Millisecond, Delay(Linear, 2, base, max))
	require.Equal(t, max, Delay(Linear, 50, base, max))

	require.Equal(t, 100*time.Millisecond, Delay(Exponential, 0, base, max))
	require.Equal(t, 400*time.Millisecond, Delay(Exponential, 2, base, max))
	require.Equal(t, 800*time.Millisecond, Delay(Exponential, 3, base, max))
	require.Equal(t, max, Delay(Exponential, 4, base, max))
	require.Equal(t, max, Delay(Exponential, 60, base, max))
}

func TestDelayZeroBase(t *testing.T) {
	for _, s := range []Strategy{Fixed, Linear, Exponential, FullJitter, FixedJitter} {
		require.Zero(t, Delay(s, 3, 0, time.Second), "strategy %s", s)
		require.Zero(t, Delay(s, 3, -time.Second, time.Second), "strategy %s", s)
	}
}

func TestDelayNegativeAttempt(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, Delay(Exponential, -5, 100*time.Millisecond, time.Second))
}

func TestDelayUncapped(t *testing.T) {
	// max <= 0 disables the cap but must still saturate instead of
	// overflowing into a negative duration.
	d := Delay(Exponential, 500, time.Second, 0)
	require.Greater(t, d, time.Duration(0))
}

func TestDelayJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := Delay(FullJitter, 3, base, time.Second)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 800*time.Millisecond)

		d = Delay(FixedJitter, 3, base, time.Second)
		require.GreaterOrEqual(t, d, base)
		require.LessOrEqual(t, d, base+base/2)
	}
}

func TestDelayProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	strategies := gen.OneConstOf(Fixed, Linear, Exponential, FullJitter, FixedJitter)

	properties.Property("delay is within [0, max]", prop.ForAll(
		func(s Strategy, attempt int, baseMs, maxMs int64) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			d := Delay(s, attempt, base, max)
			return d >= 0 && d <= max
		},
		strategies,
		gen.IntRange(0, 64),
		gen.Int64Range(1, 10_000),
		gen.Int64Range(10_000, 100_000),
	))

	properties.Property("exponential is non-decreasing in attempt", prop.ForAll(
		func(attempt int, baseMs int64) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Hour
			return Delay(Exponential, attempt, base, max) <= Delay(Exponential, attempt+1, base, max)
		},
		gen.IntRange(0, 40),
		gen.Int64Range(1, 1_000),
	))

	properties.TestingRun(t)
}
