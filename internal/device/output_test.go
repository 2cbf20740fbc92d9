package device

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/intercom/internal/gpio"
)

const testPeriod = 2 * time.Millisecond

func newTestOutput(t *testing.T, invert bool) (*Output, *gpio.FakeOutput) {
	t.Helper()

	d := gpio.NewFakeDriver()
	o, err := OpenOutput(d, 17, OutputConfig{Name: "led", Invert: invert})
	require.NoError(t, err)
	t.Cleanup(o.StopBlinking)

	return o, d.OutputPin(17)
}

func TestOpenOutputStartsLogicallyOff(t *testing.T) {
	t.Parallel()

	for _, invert := range []bool{false, true} {
		o, line := newTestOutput(t, invert)
		require.Equal(t, invert, line.Level())

		on, err := o.Get()
		require.NoError(t, err)
		require.False(t, on)
	}
}

func TestSetAppliesPolarity(t *testing.T) {
	t.Parallel()

	o, line := newTestOutput(t, true)

	require.NoError(t, o.Set(true))
	require.False(t, line.Level())

	on, err := o.Get()
	require.NoError(t, err)
	require.True(t, on)

	require.NoError(t, o.Set(false))
	require.True(t, line.Level())
}

func TestToggleIgnoresPolarity(t *testing.T) {
	t.Parallel()

	o, line := newTestOutput(t, true)
	require.True(t, line.Level())

	require.NoError(t, o.Toggle())
	require.False(t, line.Level())
}

func TestBlinkTogglesUntilStopped(t *testing.T) {
	t.Parallel()

	o, line := newTestOutput(t, false)

	require.NoError(t, o.StartBlinking(testPeriod))
	require.True(t, o.Blinking())
	require.Eventually(t, func() bool { return len(line.Writes()) >= 4 }, time.Second, time.Millisecond)

	o.StopBlinking()
	require.False(t, o.Blinking())

	settled := len(line.Writes())
	time.Sleep(10 * testPeriod)
	require.Len(t, line.Writes(), settled, "no toggles after StopBlinking returns")
}

func TestStartBlinkingRestarts(t *testing.T) {
	t.Parallel()

	o, _ := newTestOutput(t, false)

	require.NoError(t, o.StartBlinking(time.Hour))
	first := o.blink
	require.NoError(t, o.StartBlinking(testPeriod))
	require.NotSame(t, first, o.blink)
	require.Equal(t, testPeriod, o.blink.period)

	select {
	case <-first.done:
	default:
		t.Fatal("previous blink activity still running")
	}
}

func TestStartBlinkingRejectsBadPeriod(t *testing.T) {
	t.Parallel()

	o, _ := newTestOutput(t, false)
	require.Error(t, o.StartBlinking(0))
	require.False(t, o.Blinking())
}

func TestStopBlinkingIdempotent(t *testing.T) {
	t.Parallel()

	o, _ := newTestOutput(t, false)
	o.StopBlinking()
	require.NoError(t, o.StartBlinking(testPeriod))
	o.StopBlinking()
	o.StopBlinking()
	require.False(t, o.Blinking())
}

// After any Set(x) the line holds x XOR invert and nothing is blinking,
// whatever happened before.
func TestSetAfterRandomOperations(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))

	for _, invert := range []bool{false, true} {
		o, line := newTestOutput(t, invert)

		for i := 0; i < 200; i++ {
			switch rng.Intn(4) {
			case 0:
				require.NoError(t, o.StartBlinking(time.Duration(1+rng.Intn(3))*time.Millisecond))
			case 1:
				o.StopBlinking()
			case 2:
				time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
			default:
				want := rng.Intn(2) == 1
				require.NoError(t, o.Set(want))
				require.False(t, o.Blinking())
				require.Equal(t, want != invert, line.Level())

				time.Sleep(2 * time.Millisecond)
				require.Equal(t, want != invert, line.Level(), "blink clobbered set")
			}
		}
	}
}

func TestBlinkFaultReported(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		faults []error
	)

	d := gpio.NewFakeDriver()
	o, err := OpenOutput(d, 17, OutputConfig{
		Name: "led",
		OnFault: func(err error) {
			mu.Lock()
			faults = append(faults, err)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(o.StopBlinking)

	d.OutputPin(17).SetWriteError(errors.New("bus fault"))
	require.NoError(t, o.StartBlinking(testPeriod))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(faults) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.True(t, gpio.IsIOError(faults[0]))
	mu.Unlock()
}

func TestSetPropagatesIOError(t *testing.T) {
	t.Parallel()

	o, line := newTestOutput(t, false)
	line.SetWriteError(errors.New("bus fault"))

	require.True(t, gpio.IsIOError(o.Set(true)))
}

func TestCloseTurnsOffAndReleases(t *testing.T) {
	t.Parallel()

	o, line := newTestOutput(t, true)
	require.NoError(t, o.StartBlinking(testPeriod))

	require.NoError(t, o.Close())
	require.True(t, line.Closed())
	require.True(t, line.Level())
	require.False(t, o.Blinking())
}
