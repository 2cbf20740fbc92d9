package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func firstBytes(msgs []pending) []byte {
	out := make([]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestOutboxEmptyTake(t *testing.T) {
	t.Parallel()

	msgs, dropped := newOutbox(10).take()
	require.Nil(t, msgs)
	require.Zero(t, dropped)
}

func TestOutboxKeepsOrder(t *testing.T) {
	t.Parallel()

	o := newOutbox(10)
	for i := 0; i < 5; i++ {
		require.False(t, o.add(pending{topic: "t", payload: []byte{byte(i)}}))
	}
	require.Equal(t, 5, o.len())

	msgs, dropped := o.take()
	require.Equal(t, []byte{0, 1, 2, 3, 4}, firstBytes(msgs))
	require.Zero(t, dropped)

	msgs, _ = o.take()
	require.Nil(t, msgs, "second take is empty")
	require.Zero(t, o.len())
}

func TestOutboxEvictsOldest(t *testing.T) {
	t.Parallel()

	o := newOutbox(5)

	var reports int
	for i := 0; i < 8; i++ {
		if o.add(pending{topic: "t", payload: []byte{byte(i)}}) {
			reports++
		}
	}

	require.Equal(t, 1, reports, "eviction is reported once per take")

	msgs, dropped := o.take()
	require.Equal(t, []byte{3, 4, 5, 6, 7}, firstBytes(msgs))
	require.Equal(t, 3, dropped)
}

func TestOutboxReuseAfterTake(t *testing.T) {
	t.Parallel()

	o := newOutbox(3)

	for i := 0; i < 5; i++ {
		o.add(pending{payload: []byte{byte(i)}})
	}
	msgs, _ := o.take()
	require.Equal(t, []byte{2, 3, 4}, firstBytes(msgs))

	o.add(pending{payload: []byte{9}})
	msgs, dropped := o.take()
	require.Equal(t, []byte{9}, firstBytes(msgs))
	require.Zero(t, dropped)

	for i := 0; i < 4; i++ {
		require.Equal(t, i == 3, o.add(pending{payload: []byte{byte(10 + i)}}))
	}
	msgs, _ = o.take()
	require.Equal(t, []byte{11, 12, 13}, firstBytes(msgs))
}

func TestOutboxKeepsDeliveryOptions(t *testing.T) {
	t.Parallel()

	o := newOutbox(2)
	want := pending{topic: "home/intercom/system", payload: []byte("x"), qos: 1, retained: true}
	o.add(want)

	msgs, _ := o.take()
	require.Equal(t, []pending{want}, msgs)
}
