package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/intercom/internal/audio"
	"github.com/sweeney/intercom/internal/config"
	"github.com/sweeney/intercom/internal/gpio"
	"github.com/sweeney/intercom/internal/intercom"
	"github.com/sweeney/intercom/internal/logic"
	"github.com/sweeney/intercom/internal/mqtt"
	"github.com/sweeney/intercom/internal/status"
	"github.com/sweeney/intercom/internal/telephony"
	"github.com/sweeney/intercom/internal/web"
)

const target = "sip:kitchen@example.com"

var (
	pins   = config.GPIO{LedRed: 17, LedGreen: 27, Door: 22, Button: 23}
	cues   = audio.Cues{Ring: "ring.wav", Connected: "connected.wav", Disconnected: "disconnected.wav", Error: "error.wav"}
	secret = []byte("integration-secret")

	tokenRe = regexp.MustCompile(`action="/door/([a-z0-9]+)"`)
)

type stack struct {
	driver *gpio.FakeDriver
	engine *telephony.FakeEngine
	player *audio.FakePlayer
	bridge *audio.FakeBridge
	pub    *mqtt.FakePublisher
	ic     *intercom.Intercom
	web    *web.Server
	cancel context.CancelFunc
	done   chan error
}

func newStack(t *testing.T, doorDuration time.Duration, listen bool) *stack {
	t.Helper()

	s := &stack{
		driver: gpio.NewFakeDriver(),
		engine: telephony.NewFakeEngine(),
		player: audio.NewFakePlayer(),
		bridge: audio.NewFakeBridge(),
		pub:    mqtt.NewFakePublisher(),
		done:   make(chan error, 1),
	}

	ic, err := intercom.New(intercom.Options{
		Target:       target,
		Listen:       listen,
		DoorDuration: doorDuration,
		BlinkPeriod:  time.Millisecond,
		PollInterval: time.Millisecond,
		Pins:         pins,
		Driver:       s.driver,
		Engine:       s.engine,
		Player:       s.player,
		Bridge:       s.bridge,
		Cues:         cues,
		Tracker:      status.NewTracker(time.Now(), status.Config{Target: target}),
		Publisher:    s.pub,
	})
	require.NoError(t, err)
	s.ic = ic

	s.web, err = web.New(web.Config{
		AllowedUsers: []string{"alice@example.com"},
		CookieSecret: secret,
		SessionTTL:   time.Hour,
		TokenLength:  6,
		MaxSessions:  4,
	}, ic)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { s.done <- ic.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-s.done
		_ = ic.Close()
	})

	select {
	case <-s.engine.Serving():
	case <-time.After(time.Second):
		t.Fatal("engine never served")
	}

	return s
}

func (s *stack) get(t *testing.T, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.web.Handler().ServeHTTP(rec, req)

	return rec
}

func (s *stack) press(t *testing.T) {
	t.Helper()

	btn := s.driver.InputPin(pins.Button)
	select {
	case <-btn.Armed():
	case <-time.After(time.Second):
		t.Fatal("button never armed")
	}
	require.True(t, btn.Edge())
}

func signedIn(t *testing.T, email string) *http.Cookie {
	t.Helper()

	c, _, err := web.NewSessions(secret, time.Hour, false).Cookie(email)
	require.NoError(t, err)

	return c
}

func pageToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	m := tokenRe.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2, "no token in page")

	return m[1]
}

// TestIntegrationButtonCallLifecycle follows a button press through a
// connected call and back to idle.
func TestIntegrationButtonCallLifecycle(t *testing.T) {
	s := newStack(t, time.Hour, false)
	green := s.driver.OutputPin(pins.LedGreen)

	s.press(t)
	require.Eventually(t, func() bool { return s.engine.Last() != nil }, time.Second, time.Millisecond)
	sess := s.engine.Last()
	require.Equal(t, target, sess.Target())

	require.Eventually(t, func() bool { return len(s.player.Looping()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"ring.wav"}, s.player.Looping())
	require.Eventually(t, func() bool { return len(green.Writes()) >= 3 }, time.Second, time.Millisecond)

	s.engine.Fire(sess, logic.CallConnected)
	s.engine.FireMedia(sess, true)
	require.True(t, green.Level())
	require.Empty(t, s.player.Looping())
	require.True(t, s.bridge.Connected(sess.ID()))

	s.engine.FireMedia(sess, false)
	s.engine.Fire(sess, logic.CallEnded)
	require.False(t, green.Level())
	require.False(t, s.bridge.Connected(sess.ID()))
	require.Equal(t, []string{"connected.wav", "disconnected.wav"}, s.player.Once())

	snap := s.ic.Status()
	require.Equal(t, logic.CallIdle, snap.Call.State)
	require.Equal(t, logic.IndicatorOff, snap.Green)
	require.Equal(t, 1, snap.Counts.Presses)
	require.Equal(t, 1, snap.Counts.CallsConnected)

	// A second press places a fresh call.
	s.press(t)
	require.Eventually(t, func() bool { return len(s.engine.Placed()) == 2 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return len(s.pub.EventTypes()) >= 6
	}, time.Second, time.Millisecond)
	require.Equal(t, []logic.EventType{
		logic.EventButtonPressed,
		logic.EventCallState,
		logic.EventCallState,
		logic.EventCallState,
		logic.EventButtonPressed,
		logic.EventCallState,
	}, s.pub.EventTypes()[:6])

	var payload mqtt.Payload
	require.NoError(t, json.Unmarshal(s.pub.Payloads()[2], &payload))
	require.Equal(t, "CALL_STATE", payload.Intercom.Event)
	require.Equal(t, "CONNECTED", payload.Intercom.State)
	require.Equal(t, sess.ID(), payload.Intercom.CallID)
}

// TestIntegrationRemoteDoorOpen walks the remote trigger: the token on the
// page opens the door once, the relay drops after the hold time, and the
// page then carries a new token.
func TestIntegrationRemoteDoorOpen(t *testing.T) {
	s := newStack(t, 30*time.Millisecond, false)
	door := s.driver.OutputPin(pins.Door)
	red := s.driver.OutputPin(pins.LedRed)
	cookie := signedIn(t, "alice@example.com")

	rec := s.get(t, "/door", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := pageToken(t, rec)
	require.False(t, door.Level())

	rec = s.get(t, "/door/"+tok, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Door opened")
	require.True(t, door.Level())
	require.True(t, red.Level())

	require.Eventually(t, func() bool { return !door.Level() }, time.Second, time.Millisecond)
	require.False(t, red.Level())
	require.Equal(t, []bool{true, false}, door.Writes())

	rec = s.get(t, "/door", cookie)
	next := pageToken(t, rec)
	require.NotEqual(t, tok, next)

	// Replaying the consumed token does nothing.
	s.get(t, "/door/"+tok, cookie)
	require.False(t, door.Level())
	require.Equal(t, 1, s.ic.Status().Counts.DoorOpens)

	require.Eventually(t, func() bool {
		types := s.pub.EventTypes()
		return len(types) == 2 && types[0] == logic.EventDoorOpened && types[1] == logic.EventDoorClosed
	}, time.Second, time.Millisecond)
}

func TestIntegrationRemoteDoorForbidden(t *testing.T) {
	s := newStack(t, time.Hour, false)
	door := s.driver.OutputPin(pins.Door)

	require.Equal(t, http.StatusForbidden, s.get(t, "/door", nil).Code)

	cookie := signedIn(t, "mallory@example.com")
	require.Equal(t, http.StatusForbidden, s.get(t, "/door/abcdef", cookie).Code)
	require.Empty(t, door.Writes())
}

func TestIntegrationPlacementFailure(t *testing.T) {
	s := newStack(t, time.Hour, false)
	s.engine.SetPlaceError(errors.New("no route to host"))

	s.press(t)
	require.Eventually(t, func() bool { return s.ic.Status().Counts.CallsFailed == 1 }, time.Second, time.Millisecond)

	require.Equal(t, []string{"error.wav"}, s.player.Once())
	require.Equal(t, logic.CallIdle, s.ic.CallSession().State)
	require.False(t, s.driver.OutputPin(pins.LedGreen).Level())

	require.Eventually(t, func() bool { return len(s.pub.Events()) == 2 }, time.Second, time.Millisecond)
	failed := s.pub.Events()[1]
	require.Equal(t, logic.EventCallFailed, failed.Type)
	require.Contains(t, failed.Detail, "no route to host")

	// The controller recovers for the next press.
	s.engine.SetPlaceError(nil)
	s.press(t)
	require.Eventually(t, func() bool { return s.engine.Last() != nil }, time.Second, time.Millisecond)
}

func TestIntegrationInboundAnsweredByButton(t *testing.T) {
	s := newStack(t, time.Hour, true)

	in := s.engine.Incoming("sip:visitor@example.com")
	require.NotNil(t, in)
	require.Equal(t, []string{"ring.wav"}, s.player.Looping())

	s.press(t)
	require.Eventually(t, func() bool { return len(s.engine.Answers()) == 1 }, time.Second, time.Millisecond)

	s.engine.Fire(in, logic.CallConnected)
	require.True(t, s.driver.OutputPin(pins.LedGreen).Level())

	// A second inbound call while busy is rejected.
	require.Nil(t, s.engine.Incoming("sip:other@example.com"))
}

func TestIntegrationStartupAndShutdown(t *testing.T) {
	s := newStack(t, time.Hour, false)

	require.NoError(t, s.ic.OpenDoorFor(time.Hour))

	s.cancel()
	require.NoError(t, <-s.done)
	s.done <- nil

	s.ic.Announce("SHUTDOWN", "SIGTERM")
	require.NoError(t, s.ic.Close())

	sys := s.pub.SystemEvents()
	require.Len(t, sys, 2)
	require.Equal(t, "STARTUP", sys[0].Event)
	require.Equal(t, "SHUTDOWN", sys[1].Event)
	require.True(t, sys[1].Retained)

	var parsed status.StatusJSON
	require.NoError(t, json.Unmarshal(sys[1].RawPayload, &parsed))
	require.Equal(t, "SHUTDOWN", parsed.Status.Event)
	require.Equal(t, "SIGTERM", parsed.Status.Reason)
	require.True(t, parsed.Status.Door.Open)

	require.False(t, s.driver.OutputPin(pins.Door).Level())
	require.True(t, s.driver.Closed())
	require.True(t, s.engine.Closed())
	require.True(t, s.pub.Closed())
}
