package relay

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureSender records frames instead of writing to a socket.
type captureSender struct {
	mu     sync.Mutex
	frames []wire.Envelope
	closed bool
}

func (c *captureSender) Write(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, env)
	return nil
}

func (c *captureSender) WriteFinal(env wire.Envelope) error {
	return c.Write(env)
}

func (c *captureSender) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSender) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *captureSender) byType(frameType string) []wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wire.Envelope
	for _, env := range c.frames {
		if env.Type == frameType {
			out = append(out, env)
		}
	}
	return out
}

type noEvents struct{}

func (noEvents) sessionRegistered(*Session, string)   {}
func (noEvents) sessionChat(string, string, string)   {}
func (noEvents) sessionHistoryRequest(string, string) {}

func pendingSession(t *testing.T, r *Registry) (*Session, *captureSender) {
	t.Helper()
	s := newSession(testLogger(), noEvents{})
	out := &captureSender{}
	s.attach(out)
	r.AddPending(s)
	return s, out
}

func TestRegistry_ClaimMovesPendingToActive(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	s, _ := pendingSession(t, registry)

	// Given an unregistered connection
	req.Empty(registry.Usernames())

	// When it claims a free username
	req.True(registry.Claim("alice", s))

	// Then it is active under that name and no longer pending
	req.Equal([]string{"alice"}, registry.Usernames())
	got, ok := registry.Lookup("alice")
	req.True(ok)
	req.Same(s, got)
	req.Equal("alice", s.Username())
	req.True(s.registered())
}

func TestRegistry_ClaimRejectsTakenUsername(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	first, _ := pendingSession(t, registry)
	second, _ := pendingSession(t, registry)

	req.True(registry.Claim("alice", first))

	// The racing second connection loses; the first is unaffected.
	req.False(registry.Claim("alice", second))
	got, ok := registry.Lookup("alice")
	req.True(ok)
	req.Same(first, got)
	req.False(second.registered())
}

func TestRegistry_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	const racers = 16
	sessions := make([]*Session, racers)
	for i := range sessions {
		sessions[i], _ = pendingSession(t, registry)
	}

	var mu sync.Mutex
	winners := 0
	var wg sync.WaitGroup
	wg.Add(racers)
	for _, s := range sessions {
		go func(s *Session) {
			defer wg.Done()
			if registry.Claim("alice", s) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	req.Equal(1, winners)
	req.Equal([]string{"alice"}, registry.Usernames())
}

func TestRegistry_RemoveActiveSession(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	s, _ := pendingSession(t, registry)
	req.True(registry.Claim("alice", s))

	username, wasActive := registry.Remove(s)

	req.Equal("alice", username)
	req.True(wasActive)
	req.Empty(registry.Usernames())
	_, ok := registry.Lookup("alice")
	req.False(ok)
}

func TestRegistry_RemovePendingSession(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	s, _ := pendingSession(t, registry)

	username, wasActive := registry.Remove(s)

	req.Empty(username)
	req.False(wasActive)
}

func TestRegistry_UsernamesSorted(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	for _, name := range []string{"zoe", "alice", "mike"} {
		s, _ := pendingSession(t, registry)
		req.True(registry.Claim(name, s))
	}

	req.Equal([]string{"alice", "mike", "zoe"}, registry.Usernames())
}
