package gpio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeInputSamplesRepeatLast(t *testing.T) {
	t.Parallel()

	in := NewFakeInput(23)
	in.SetSamples(true, false, true)

	for _, want := range []bool{true, false, true, true} {
		got, err := in.Read()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, 4, in.Reads())
}

func TestFakeInputNoSamplesReadsLow(t *testing.T) {
	t.Parallel()

	got, err := NewFakeInput(23).Read()
	require.NoError(t, err)
	require.False(t, got)
}

func TestFakeInputReadError(t *testing.T) {
	t.Parallel()

	in := NewFakeInput(23)
	in.SetReadError(errors.New("simulated error"))

	_, err := in.Read()
	require.Error(t, err)
	require.True(t, IsIOError(err))

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, 23, ioErr.Pin)
	require.Equal(t, "read", ioErr.Op)
}

func TestFakeInputEdgeOnlyWhileWaiting(t *testing.T) {
	t.Parallel()

	in := NewFakeInput(23)
	require.False(t, in.Edge(), "edge before wait must be lost")

	done := make(chan error, 1)
	go func() { done <- in.WaitForRisingEdge(context.Background()) }()

	select {
	case <-in.Armed():
	case <-time.After(time.Second):
		t.Fatal("wait never armed")
	}

	require.True(t, in.Edge())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after edge")
	}
}

func TestFakeInputWaitCancelled(t *testing.T) {
	t.Parallel()

	in := NewFakeInput(23)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, in.WaitForRisingEdge(ctx), context.Canceled)
}

func TestFakeOutputRecordsWrites(t *testing.T) {
	t.Parallel()

	o := NewFakeOutput(17, false)
	require.NoError(t, o.Write(true))
	require.NoError(t, o.Write(false))

	level, err := o.Read()
	require.NoError(t, err)
	require.False(t, level)
	require.Equal(t, []bool{true, false}, o.Writes())
}

func TestFakeOutputErrors(t *testing.T) {
	t.Parallel()

	o := NewFakeOutput(17, false)
	o.WriteError = errors.New("bus fault")
	require.True(t, IsIOError(o.Write(true)))

	o.WriteError = nil
	require.NoError(t, o.Close())
	require.ErrorIs(t, o.Write(true), ErrClosed)
}

func TestFakeDriver(t *testing.T) {
	t.Parallel()

	d := NewFakeDriver()

	scripted := d.InputPin(23)
	in, err := d.Input(23)
	require.NoError(t, err)
	require.Same(t, scripted, in)

	out, err := d.Output(17, true)
	require.NoError(t, err)
	require.Same(t, d.OutputPin(17), out)
	require.True(t, d.OutputPin(17).Level())

	require.NoError(t, d.Close())
	require.True(t, d.Closed())
	require.True(t, d.OutputPin(17).Closed())
	require.True(t, scripted.Closed())
}

func TestFakeDriverConfigureError(t *testing.T) {
	t.Parallel()

	d := NewFakeDriver()
	d.OutputError = errors.New("busy")

	_, err := d.Output(17, false)
	require.True(t, IsIOError(err))
}

func TestPinName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "GPIO17", PinName(NamingBCM, 17))
	require.Equal(t, "P1_11", PinName(NamingBoard, 11))
}
