// Package gate guards the remote door trigger with single-use tokens. Each
// web session owns one Gate; a token is reused across page renders until a
// submission matches it, which consumes it and issues a new one.
package gate

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// Alphabet is the token character set.
	Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// DefaultLength is the token length used when none is given.
	DefaultLength = 6

	// Largest multiple of len(Alphabet) below 256; bytes above it are
	// redrawn so every character is equally likely.
	unbiasedLimit = 256 - 256%len(Alphabet)
)

// Opener actuates the door.
type Opener interface {
	OpenDoor() error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func() error

func (f OpenerFunc) OpenDoor() error { return f() }

// Gate holds the current token of one session.
type Gate struct {
	length int
	opener Opener

	mu    sync.Mutex
	token string
}

// New creates a Gate with no token issued yet.
func New(length int, opener Opener) *Gate {
	if length <= 0 {
		length = DefaultLength
	}
	return &Gate{length: length, opener: opener}
}

// Token returns the current token, issuing one if none exists. Repeated
// calls return the same value until it is consumed.
func (g *Gate) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token == "" {
		g.token = g.newTokenLocked()
	}
	return g.token
}

// Issue replaces the current token with a fresh one.
func (g *Gate) Issue() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token = g.newTokenLocked()
	return g.token
}

// Validate reports whether candidate is the current token. A match
// consumes the token and rotates to a new one, so a replay fails.
func (g *Gate) Validate(candidate string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token == "" || candidate == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(g.token)) != 1 {
		return false
	}

	g.token = g.newTokenLocked()

	return true
}

// Submit validates candidate and opens the door on a match. It reports
// whether the token matched; the error comes from the opener.
func (g *Gate) Submit(candidate string) (bool, error) {
	if !g.Validate(candidate) {
		return false, nil
	}

	if err := g.opener.OpenDoor(); err != nil {
		return true, fmt.Errorf("open door: %w", err)
	}

	return true, nil
}

// newTokenLocked never returns the token it replaces.
func (g *Gate) newTokenLocked() string {
	for {
		t := randomToken(g.length)
		if t != g.token {
			return t
		}
	}
}

func randomToken(length int) string {
	out := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(out) < length {
		// crypto/rand.Read does not fail on supported platforms.
		_, _ = rand.Read(buf)
		for _, b := range buf {
			if int(b) >= unbiasedLimit {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out)
}

// Registry maps web sessions to their gates. The least recently used
// sessions are dropped once size is exceeded; their next request simply
// gets a fresh gate.
type Registry struct {
	length int
	opener Opener
	gates  *lru.Cache[string, *Gate]
}

// NewRegistry creates a registry holding at most size gates.
func NewRegistry(size, length int, opener Opener) (*Registry, error) {
	gates, err := lru.New[string, *Gate](size)
	if err != nil {
		return nil, fmt.Errorf("create gate cache: %w", err)
	}

	return &Registry{length: length, opener: opener, gates: gates}, nil
}

// For returns the gate of sessionID, creating it on first use. Concurrent
// first requests of one session get the same gate.
func (r *Registry) For(sessionID string) *Gate {
	if g, ok := r.gates.Get(sessionID); ok {
		return g
	}

	g := New(r.length, r.opener)
	if prev, ok, _ := r.gates.PeekOrAdd(sessionID, g); ok {
		return prev
	}

	return g
}

// Forget drops the gate of sessionID.
func (r *Registry) Forget(sessionID string) {
	r.gates.Remove(sessionID)
}

// Len returns the number of live gates.
func (r *Registry) Len() int {
	return r.gates.Len()
}
