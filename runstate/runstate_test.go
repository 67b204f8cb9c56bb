package runstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineStartsAtInit(t *testing.T) {
	m := NewMachine()
	require.Equal(t, StateInit, m.Current())
	require.Empty(t, m.History())
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	m.Transition(StateWaitingForToken)
	m.Transition(StateStreaming)
	m.Transition(StateFinalizing)
	m.Transition(StateComplete)

	require.Equal(t, StateComplete, m.Current())
	h := m.History()
	require.Len(t, h, 4)
	require.Equal(t, StateInit, h[0].From)
	require.Equal(t, StateWaitingForToken, h[0].To)
	require.Equal(t, StateFinalizing, h[3].From)
	require.Equal(t, StateComplete, h[3].To)
}

func TestMachineSameStateIsNoop(t *testing.T) {
	m := NewMachine()
	m.Transition(StateStreaming)
	m.Transition(StateStreaming)
	require.Len(t, m.History(), 1)
}

func TestMachineReset(t *testing.T) {
	m := NewMachine()
	m.Transition(StateStreaming)
	m.Reset()
	require.Equal(t, StateInit, m.Current())
	require.Empty(t, m.History())
}

func TestTerminal(t *testing.T) {
	require.True(t, StateComplete.Terminal())
	require.True(t, StateError.Terminal())
	for _, s := range []State{StateInit, StateWaitingForToken, StateStreaming,
		StateContinuationMatching, StateCheckpointVerifying, StateRetrying,
		StateFallback, StateFinalizing} {
		require.False(t, s.Terminal(), "state %s", s)
	}
}

func TestSubscribe(t *testing.T) {
	m := NewMachine()
	var seen []Transition
	m.Subscribe(func(tr Transition) { seen = append(seen, tr) })

	m.Transition(StateWaitingForToken)
	m.Transition(StateStreaming)

	require.Len(t, seen, 2)
	require.Equal(t, StateWaitingForToken, seen[0].To)
	require.Equal(t, StateStreaming, seen[1].To)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	m := NewMachine()
	m.Subscribe(func(Transition) { panic("observer bug") })
	require.NotPanics(t, func() { m.Transition(StateStreaming) })
	require.Equal(t, StateStreaming, m.Current())
}
