package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/restream/backoff"
	"goa.design/restream/classify"
	"goa.design/restream/policy"
)

func newTestManager(t *testing.T, mod func(*policy.Policy)) (*Manager, *[]time.Duration) {
	t.Helper()
	pol := policy.Default()
	pol.BaseDelay = 100 * time.Millisecond
	pol.Backoff = string(backoff.Exponential)
	if mod != nil {
		mod(&pol)
	}
	require.NoError(t, pol.Validate())
	var slept []time.Duration
	m := NewManager(pol, WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	return m, &slept
}

func networkErr() *classify.CategorizedError {
	return classify.Classify(errors.New("read: connection reset by peer"))
}

func modelErr() *classify.CategorizedError {
	return classify.Classify(&classify.ContentError{Reason: classify.ReasonZeroOutput})
}

func TestDecideGrantsNetworkRetry(t *testing.T) {
	m, _ := newTestManager(t, nil)
	d := m.Decide(networkErr())
	require.True(t, d.ShouldRetry)
	require.Equal(t, classify.CategoryNetwork, d.Category)
	require.False(t, d.CountsTowardContent)
	require.Equal(t, 100*time.Millisecond, d.Delay)
}

func TestBudgetsAreIndependent(t *testing.T) {
	m, _ := newTestManager(t, func(p *policy.Policy) {
		p.MaxContentAttempts = 1
		p.MaxTotalRetries = 10
	})
	ctx := context.Background()

	// Burn several network retries; the content budget must be untouched.
	for i := 0; i < 3; i++ {
		d := m.Decide(networkErr())
		require.True(t, d.ShouldRetry)
		require.NoError(t, m.Record(ctx, networkErr(), d))
	}
	st := m.State()
	require.Equal(t, 3, st.NetworkRetries)
	require.Zero(t, st.ContentAttempts)

	// The single content attempt is still available, then exhausted.
	d := m.Decide(modelErr())
	require.True(t, d.ShouldRetry)
	require.True(t, d.CountsTowardContent)
	require.NoError(t, m.Record(ctx, modelErr(), d))

	d = m.Decide(modelErr())
	require.False(t, d.ShouldRetry)
	require.Contains(t, d.Explanation, "content-attempt budget")

	// Content exhaustion does not block network retries.
	require.True(t, m.Decide(networkErr()).ShouldRetry)
}

func TestAbsoluteCapIsSticky(t *testing.T) {
	m, _ := newTestManager(t, func(p *policy.Policy) { p.MaxTotalRetries = 2 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d := m.Decide(networkErr())
		require.True(t, d.ShouldRetry)
		require.NoError(t, m.Record(ctx, networkErr(), d))
	}

	d := m.Decide(networkErr())
	require.False(t, d.ShouldRetry)
	require.True(t, m.State().LimitReached)

	// The flag survives a per-source reset: the cap is invocation-global.
	m.ResetPerSource(true)
	d = m.Decide(networkErr())
	require.False(t, d.ShouldRetry)
	require.True(t, m.State().LimitReached)
}

func TestFatalAndInternalNeverRetry(t *testing.T) {
	m, _ := newTestManager(t, nil)
	require.False(t, m.Decide(classify.Classify(&classify.HTTPStatusError{StatusCode: 401})).ShouldRetry)
	require.False(t, m.Decide(classify.Classify(classify.NewConfigError("bad"))).ShouldRetry)
	require.False(t, m.Decide(classify.Classify(context.Canceled)).ShouldRetry)
}

func TestSSLSubtypeNotRetryable(t *testing.T) {
	m, _ := newTestManager(t, nil)
	cat := classify.Classify(errors.New("x509: certificate has expired"))
	require.Equal(t, classify.SubtypeSSL, cat.Subtype)
	d := m.Decide(cat)
	require.False(t, d.ShouldRetry)
	require.Contains(t, d.Explanation, "not retryable")
}

func TestAllowList(t *testing.T) {
	m, _ := newTestManager(t, func(p *policy.Policy) {
		p.AllowedReasons = []classify.Reason{classify.ReasonNetwork}
	})
	require.True(t, m.Decide(networkErr()).ShouldRetry)
	require.False(t, m.Decide(modelErr()).ShouldRetry)
	require.False(t, m.Decide(classify.Classify(&classify.TimeoutError{Phase: "inter_token", Wait: time.Second})).ShouldRetry)
}

func TestSubtypeDelayOverride(t *testing.T) {
	m, _ := newTestManager(t, func(p *policy.Policy) {
		p.SubtypeDelays = map[classify.Subtype]time.Duration{classify.SubtypeDNS: 2 * time.Second}
	})
	cat := classify.Classify(errors.New("lookup api: no such host"))
	require.Equal(t, classify.SubtypeDNS, cat.Subtype)
	require.Equal(t, 2*time.Second, m.Decide(cat).Delay)
	require.Equal(t, 100*time.Millisecond, m.Decide(networkErr()).Delay)
}

func TestPerCategoryBackoffCounters(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	// Two recorded network retries advance the network curve to 400ms...
	for i := 0; i < 2; i++ {
		require.NoError(t, m.Record(ctx, networkErr(), m.Decide(networkErr())))
	}
	require.Equal(t, 400*time.Millisecond, m.Decide(networkErr()).Delay)

	// ...while the model curve still starts at the base delay.
	require.Equal(t, 100*time.Millisecond, m.Decide(modelErr()).Delay)
}

func TestRecordSleepsAndAccumulates(t *testing.T) {
	m, slept := newTestManager(t, nil)
	ctx := context.Background()

	d := m.Decide(networkErr())
	require.NoError(t, m.Record(ctx, networkErr(), d))
	require.Equal(t, []time.Duration{100 * time.Millisecond}, *slept)
	require.Equal(t, 100*time.Millisecond, m.State().TotalDelay)
	require.Len(t, m.State().History, 1)
}

func TestRecordRefusedDecisionKeepsHistoryOnly(t *testing.T) {
	m, slept := newTestManager(t, nil)
	cat := classify.Classify(classify.NewConfigError("bad"))
	require.NoError(t, m.Record(context.Background(), cat, m.Decide(cat)))
	require.Empty(t, *slept)
	require.Len(t, m.State().History, 1)
	require.Zero(t, m.State().NetworkRetries)
}

func TestRecordHonorsCancellation(t *testing.T) {
	pol := policy.Default()
	pol.BaseDelay = time.Hour
	pol.MaxDelay = time.Hour
	m := NewManager(pol)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Record(ctx, networkErr(), m.Decide(networkErr()))
	require.ErrorIs(t, err, context.Canceled)
}

func TestResetPerSource(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.Record(ctx, networkErr(), m.Decide(networkErr())))
	require.NoError(t, m.Record(ctx, modelErr(), m.Decide(modelErr())))

	m.ResetPerSource(true)
	st := m.State()
	require.Zero(t, st.NetworkRetries)
	require.Equal(t, 1, st.ContentAttempts, "content attempts survive with continuation")

	m.ResetPerSource(false)
	require.Zero(t, m.State().ContentAttempts)
}

func TestHistoryIsBounded(t *testing.T) {
	m, _ := newTestManager(t, func(p *policy.Policy) { p.MaxTotalRetries = 100 })
	ctx := context.Background()
	for i := 0; i < historyBound+10; i++ {
		require.NoError(t, m.Record(ctx, networkErr(), m.Decide(networkErr())))
	}
	require.Len(t, m.State().History, historyBound)
}
