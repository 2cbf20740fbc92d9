package telephony

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/logic"
)

type recorder struct {
	mu     sync.Mutex
	states []logic.CallState
	media  []bool
}

func (r *recorder) OnStateChanged(_ Session, state logic.CallState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recorder) OnMediaStateChanged(_ Session, active bool) {
	r.mu.Lock()
	r.media = append(r.media, active)
	r.mu.Unlock()
}

func TestPlacementError(t *testing.T) {
	t.Parallel()

	cause := errors.New("no route")
	err := error(&PlacementError{Target: "sip:door@x", Err: cause})

	require.True(t, IsPlacementError(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "sip:door@x")
	require.False(t, IsPlacementError(cause))
}

func TestFakeEngineOutbound(t *testing.T) {
	t.Parallel()

	f := NewFakeEngine()
	r := &recorder{}

	sess, err := f.PlaceCall(context.Background(), "sip:door@x", r)
	require.NoError(t, err)
	require.Empty(t, r.states, "no callback from inside PlaceCall")
	require.Equal(t, Outbound, sess.Direction())

	s := f.Last()
	f.Fire(s, logic.CallRingingOut)
	f.Fire(s, logic.CallConnected)
	f.FireMedia(s, true)

	require.NoError(t, f.Hangup(context.Background(), s))
	f.FireMedia(s, false)
	f.Fire(s, logic.CallEnded)

	require.False(t, s.Valid())
	require.ErrorIs(t, f.Hangup(context.Background(), s), ErrSessionClosed)
	require.Equal(t, []logic.CallState{logic.CallRingingOut, logic.CallConnected, logic.CallEnded}, r.states)
	require.Equal(t, []bool{true, false}, r.media)
	require.Equal(t, []string{s.ID()}, f.Hangups())
}

func TestFakeEnginePlaceError(t *testing.T) {
	t.Parallel()

	f := NewFakeEngine()
	f.SetPlaceError(errors.New("no line"))

	_, err := f.PlaceCall(context.Background(), "sip:door@x", &recorder{})
	require.True(t, IsPlacementError(err))
	require.Empty(t, f.Placed())
}

func TestFakeEngineInbound(t *testing.T) {
	t.Parallel()

	f := NewFakeEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &recorder{}
	busy := false
	go func() {
		_ = f.Serve(ctx, func(Session) Handler {
			if busy {
				return nil
			}
			return r
		})
	}()
	<-f.Serving()

	s := f.Incoming("sip:guest@x")
	require.NotNil(t, s)
	require.Equal(t, Inbound, s.Direction())
	require.Equal(t, []logic.CallState{logic.CallRingingIn}, r.states)

	require.NoError(t, f.Answer(ctx, s))
	require.Equal(t, []string{s.ID()}, f.Answers())

	f.Fire(s, logic.CallConnected)
	require.ErrorIs(t, f.Answer(ctx, s), ErrNotRinging)

	busy = true
	require.Nil(t, f.Incoming("sip:other@x"))
}

func TestDiagoAdmitWhileClosingEndsCall(t *testing.T) {
	t.Parallel()

	e := &DiagoEngine{log: zap.NewNop().Sugar(), sessions: make(map[string]*diagoSession), closed: true}

	r := &recorder{}
	s := e.newSession("sip:guest@x", Inbound, nil)

	require.ErrorIs(t, e.admit(s, r), errEngineClosed)
	require.Equal(t, []logic.CallState{logic.CallEnded}, r.states)
	require.False(t, s.Valid())
	require.Empty(t, e.sessions)
}

func TestDiagoAdmitTracksSession(t *testing.T) {
	t.Parallel()

	e := &DiagoEngine{log: zap.NewNop().Sugar(), sessions: make(map[string]*diagoSession)}
	r := &recorder{}
	s := e.newSession("sip:guest@x", Inbound, nil)

	require.NoError(t, e.admit(s, r))
	require.Empty(t, r.states)

	got, err := e.lookup(s)
	require.NoError(t, err)
	require.Same(t, s, got)

	e.forget(s)
}
