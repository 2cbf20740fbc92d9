package audio

import (
	"io"
	"sync"
)

// FakePlayer records playback requests.
type FakePlayer struct {
	mu sync.Mutex

	once    []string
	loops   map[Clip]string
	stopped []Clip
	next    Clip

	// OnceError, if set, is returned by PlayOnce.
	OnceError error
}

// NewFakePlayer creates an empty FakePlayer.
func NewFakePlayer() *FakePlayer {
	return &FakePlayer{loops: make(map[Clip]string)}
}

func (f *FakePlayer) PlayOnce(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OnceError != nil {
		return f.OnceError
	}
	f.once = append(f.once, path)

	return nil
}

func (f *FakePlayer) PlayLoop(path string) (Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	f.loops[f.next] = path

	return f.next, nil
}

func (f *FakePlayer) Stop(c Clip) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.loops[c]; !ok {
		return ErrUnknownClip
	}
	delete(f.loops, c)
	f.stopped = append(f.stopped, c)

	return nil
}

func (f *FakePlayer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loops = make(map[Clip]string)

	return nil
}

// Once returns the one-shot clips played so far.
func (f *FakePlayer) Once() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.once...)
}

// Looping returns the paths of loops still playing.
func (f *FakePlayer) Looping() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	paths := make([]string, 0, len(f.loops))
	for _, p := range f.loops {
		paths = append(paths, p)
	}
	return paths
}

// Stopped returns the clips stopped so far.
func (f *FakePlayer) Stopped() []Clip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Clip(nil), f.stopped...)
}

// FakeBridge records which calls have media connected.
type FakeBridge struct {
	mu sync.Mutex

	connected map[string]bool
	history   []string

	// ConnectError, if set, is returned by Connect.
	ConnectError error
}

// NewFakeBridge creates an empty FakeBridge.
func NewFakeBridge() *FakeBridge {
	return &FakeBridge{connected: make(map[string]bool)}
}

func (f *FakeBridge) Connect(id string, _ io.Reader, _ io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ConnectError != nil {
		return f.ConnectError
	}
	f.connected[id] = true
	f.history = append(f.history, "connect "+id)

	return nil
}

func (f *FakeBridge) Disconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.connected, id)
	f.history = append(f.history, "disconnect "+id)

	return nil
}

func (f *FakeBridge) Close() error {
	return nil
}

// Connected reports whether id has media connected.
func (f *FakeBridge) Connected(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

// History returns connect and disconnect calls in order.
func (f *FakeBridge) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.history...)
}
