package logic

// Transition returns the side effects of moving a call from one state to
// another. Re-entering the same state has no effects.
func Transition(from, to CallState) Effects {
	if from == to {
		return Effects{}
	}

	switch to {
	case CallRingingOut, CallRingingIn:
		return Effects{StartRingback: true}
	case CallConnected:
		return Effects{StopRingback: true, Cue: CueConnected}
	case CallEnded:
		return Effects{StopRingback: true, Cue: CueDisconnected}
	default:
		return Effects{}
	}
}

// IndicatorFor maps a call state to the green LED mode: blinking while the
// call is being established, solid while connected, off otherwise.
func IndicatorFor(s CallState) Indicator {
	switch {
	case s.Ringing():
		return IndicatorBlink
	case s == CallConnected:
		return IndicatorSolid
	default:
		return IndicatorOff
	}
}
