package mqtt

// pending is a message held back until the broker connection returns.
type pending struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds the newest pending messages in a fixed ring. The caller
// guards it with its own mutex.
type outbox struct {
	msgs    []pending
	oldest  int
	n       int
	dropped int
}

func newOutbox(size int) *outbox {
	return &outbox{msgs: make([]pending, size)}
}

// add queues m, evicting the oldest message once full. It reports true on
// the first eviction since the last take.
func (o *outbox) add(m pending) bool {
	size := len(o.msgs)

	if o.n < size {
		o.msgs[(o.oldest+o.n)%size] = m
		o.n++
		return false
	}

	o.msgs[o.oldest] = m
	o.oldest = (o.oldest + 1) % size
	o.dropped++

	return o.dropped == 1
}

// take empties the outbox, returning its messages oldest first and how many
// were evicted while it filled.
func (o *outbox) take() ([]pending, int) {
	if o.n == 0 {
		return nil, 0
	}

	out := make([]pending, o.n)
	for i := range out {
		out[i] = o.msgs[(o.oldest+i)%len(o.msgs)]
	}
	dropped := o.dropped

	o.oldest, o.n, o.dropped = 0, 0, 0

	return out, dropped
}

func (o *outbox) len() int { return o.n }

func (o *outbox) size() int { return len(o.msgs) }
