package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/intercom/internal/logic"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	t.Parallel()

	cfg := Config{Target: "sip:door@x", PollMs: 50, Broker: "tcp://localhost:1883", HTTPAddr: ":8888"}
	tr := NewTracker(testStart, cfg)

	snap := tr.Snapshot()
	require.True(t, snap.StartTime.Equal(testStart))
	require.Equal(t, cfg, snap.Config)
	require.Equal(t, logic.CallIdle, snap.Call.State)
	require.Equal(t, logic.IndicatorOff, snap.Green)
	require.False(t, snap.DoorOpen)
	require.False(t, snap.MQTTConnected)
}

func TestSetCallAndEndedResetsToIdle(t *testing.T) {
	t.Parallel()

	tr := NewTracker(testStart, Config{})

	tr.SetCall(Call{ID: "c1", State: logic.CallConnected, Target: "sip:door@x", Direction: "outbound"})
	snap := tr.Snapshot()
	require.Equal(t, logic.CallConnected, snap.Call.State)
	require.Equal(t, "c1", snap.Call.ID)

	tr.SetCall(Call{ID: "c1", State: logic.CallEnded, Target: "sip:door@x"})
	require.Equal(t, Call{State: logic.CallIdle}, tr.Snapshot().Call)
}

func TestDoorMirrorsRedLED(t *testing.T) {
	t.Parallel()

	tr := NewTracker(testStart, Config{})

	tr.SetDoorOpen(true)
	snap := tr.Snapshot()
	require.True(t, snap.DoorOpen)
	require.True(t, snap.Red)

	tr.SetDoorOpen(false)
	require.False(t, tr.Snapshot().Red)
}

func TestUpdateCounts(t *testing.T) {
	t.Parallel()

	tr := NewTracker(testStart, Config{})
	tr.UpdateCounts(func(c *logic.Counts) { c.Presses++ })
	tr.UpdateCounts(func(c *logic.Counts) { c.Presses++; c.DoorOpens++ })

	counts := tr.Snapshot().Counts
	require.Equal(t, 2, counts.Presses)
	require.Equal(t, 1, counts.DoorOpens)
}

func TestSetMQTTConnected(t *testing.T) {
	t.Parallel()

	tr := NewTracker(testStart, Config{})

	tr.SetMQTTConnected(true)
	require.True(t, tr.Snapshot().MQTTConnected)

	tr.SetMQTTConnected(false)
	require.False(t, tr.Snapshot().MQTTConnected)
}

func TestSnapshotUptime(t *testing.T) {
	t.Parallel()

	snap := Snapshot{StartTime: testStart, Now: testStart.Add(15 * time.Minute)}
	require.Equal(t, 15*time.Minute, snap.Uptime())
}

func TestSnapshotNowIsSet(t *testing.T) {
	t.Parallel()

	tr := NewTracker(testStart, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	require.False(t, snap.Now.Before(before))
	require.False(t, snap.Now.After(after))
}

func TestSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker(testStart, Config{})
	tr.SetGreen(logic.IndicatorBlink)
	snap1 := tr.Snapshot()

	tr.SetGreen(logic.IndicatorSolid)
	require.Equal(t, logic.IndicatorBlink, snap1.Green)
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Call: Call{
			ID:        "c1",
			State:     logic.CallConnected,
			Target:    "sip:door@x",
			Direction: "outbound",
			StartedAt: testStart.Add(time.Minute),
		},
		Green:         logic.IndicatorSolid,
		Red:           true,
		DoorOpen:      true,
		Counts:        logic.Counts{Presses: 5, CallsPlaced: 4, CallsFailed: 1, DoorOpens: 2},
		StartTime:     testStart,
		Now:           testStart.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Target: "sip:door@x", DoorDurationMs: 5000, Broker: "tcp://localhost:1883"},
	}

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(snap), &parsed))

	s := parsed.Status
	require.Equal(t, "CONNECTED", s.Call.State)
	require.Equal(t, "sip:door@x", s.Call.Target)
	require.Equal(t, "2026-01-01T00:01:00Z", s.Call.StartedAt)
	require.Equal(t, LEDsJSON{Green: "ON", Red: "ON"}, s.LEDs)
	require.True(t, s.Door.Open)
	require.Equal(t, int64(900), s.UptimeSeconds)
	require.True(t, s.MQTT.Connected)
	require.Equal(t, "tcp://localhost:1883", s.MQTT.Broker)
	require.Equal(t, 5, s.Counts.Presses)
	require.Equal(t, 2, s.Counts.DoorOpens)
	require.Equal(t, int64(5000), s.Config.DoorDurationMs)
	require.Empty(t, s.Event)
	require.Empty(t, s.Reason)
}

func TestFormatJSONUnknownState(t *testing.T) {
	t.Parallel()

	snap := Snapshot{StartTime: testStart, Now: testStart.Add(time.Second)}

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(snap), &parsed))
	require.Equal(t, "UNKNOWN", parsed.Status.Call.State)
	require.Equal(t, "UNKNOWN", parsed.Status.LEDs.Green)
	require.Empty(t, parsed.Status.Call.StartedAt)
}

func TestFormatStatusEvent(t *testing.T) {
	t.Parallel()

	snap := Snapshot{
		Call:      Call{State: logic.CallIdle},
		Green:     logic.IndicatorOff,
		StartTime: testStart,
		Now:       testStart.Add(30 * time.Minute),
	}

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed))
	require.Equal(t, "SHUTDOWN", parsed.Status.Event)
	require.Equal(t, "SIGTERM", parsed.Status.Reason)
	require.Equal(t, "IDLE", parsed.Status.Call.State)
	require.Equal(t, int64(1800), parsed.Status.UptimeSeconds)
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	t.Parallel()

	snap := Snapshot{StartTime: testStart, Now: testStart.Add(time.Second)}

	var raw map[string]any
	require.NoError(t, json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw))

	status, ok := raw["status"].(map[string]any)
	require.True(t, ok)
	require.NotContains(t, status, "reason")
	require.Equal(t, "STARTUP", status["event"])
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.SetCall(Call{State: logic.CallRingingOut})
			tr.SetGreen(logic.IndicatorBlink)
			tr.SetDoorOpen(i%2 == 0)
			tr.UpdateCounts(func(c *logic.Counts) { c.Presses++ })
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = tr.Snapshot().Uptime()
		}
	}()

	wg.Wait()
	require.Equal(t, 1000, tr.Snapshot().Counts.Presses)
}

func TestNetworkInfo(t *testing.T) {
	t.Parallel()

	tr := NewTracker(testStart, Config{})

	var parsed StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed))
	require.Nil(t, parsed.Status.Network)

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"})
	require.NoError(t, json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed))
	require.Equal(t, &NetworkJSON{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"}, parsed.Status.Network)
}
