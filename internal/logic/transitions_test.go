package logic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionEffects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to CallState
		want     Effects
	}{
		{CallIdle, CallRingingOut, Effects{StartRingback: true}},
		{CallIdle, CallRingingIn, Effects{StartRingback: true}},
		{CallRingingOut, CallConnected, Effects{StopRingback: true, Cue: CueConnected}},
		{CallRingingOut, CallEnded, Effects{StopRingback: true, Cue: CueDisconnected}},
		{CallConnected, CallEnded, Effects{StopRingback: true, Cue: CueDisconnected}},
		{CallConnected, CallConnected, Effects{}},
		{CallRingingOut, CallRingingOut, Effects{}},
		{CallEnded, CallIdle, Effects{}},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, Transition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIndicatorFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, IndicatorOff, IndicatorFor(CallIdle))
	require.Equal(t, IndicatorBlink, IndicatorFor(CallRingingOut))
	require.Equal(t, IndicatorBlink, IndicatorFor(CallRingingIn))
	require.Equal(t, IndicatorSolid, IndicatorFor(CallConnected))
	require.Equal(t, IndicatorOff, IndicatorFor(CallEnded))
}

func TestCallStateActive(t *testing.T) {
	t.Parallel()

	require.False(t, CallIdle.Active())
	require.True(t, CallRingingOut.Active())
	require.True(t, CallRingingIn.Active())
	require.True(t, CallConnected.Active())
	require.False(t, CallEnded.Active())
}
