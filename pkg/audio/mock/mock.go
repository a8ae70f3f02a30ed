// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	conn := mock.NewConnection("voice-7")
//	platform := &mock.Platform{}
//	got, err := platform.Connect(ctx, "guild-42", "voice-7")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vcplay/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock [audio.Connection]. Frames written to its output stream
// are collected and can be inspected with [Connection.Frames].
type Connection struct {
	channelID string
	output    chan audio.AudioFrame
	done      chan struct{}
	closeOnce sync.Once
	drained   chan struct{}

	mu     sync.Mutex
	frames []audio.AudioFrame

	// DisconnectError is returned by the first Disconnect call.
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int
}

// NewConnection returns a Connection bound to channelID whose output stream is
// drained by a background goroutine until the connection terminates.
func NewConnection(channelID string) *Connection {
	c := &Connection{
		channelID: channelID,
		output:    make(chan audio.AudioFrame, 4),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
	}
	go c.drain()
	return c
}

func (c *Connection) drain() {
	defer close(c.drained)
	for {
		select {
		case <-c.done:
			return
		case f := <-c.output:
			c.mu.Lock()
			c.frames = append(c.frames, f)
			c.mu.Unlock()
		}
	}
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string { return c.channelID }

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame { return c.output }

// Done implements [audio.Connection].
func (c *Connection) Done() <-chan struct{} { return c.done }

// Disconnect implements [audio.Connection]. Only the first call returns
// DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.drained
		err = c.DisconnectError
	})
	return err
}

// Drop simulates the platform losing the connection.
func (c *Connection) Drop() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.drained
	})
}

// Frames returns a copy of every frame received so far.
func (c *Connection) Frames() []audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.AudioFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of one [Platform.Connect] invocation.
type ConnectCall struct {
	GroupID   string
	ChannelID string
}

// Platform is a mock [audio.Platform]. Unless ConnectFunc or ConnectError is
// set, every Connect returns a fresh [Connection].
type Platform struct {
	mu sync.Mutex

	// ConnectFunc, when set, replaces the default behaviour.
	ConnectFunc func(ctx context.Context, groupID, channelID string) (audio.Connection, error)

	// ConnectError is returned by Connect when non-nil.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections holds every connection handed out, in order.
	Connections []*Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, groupID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GroupID: groupID, ChannelID: channelID})
	fn, connErr := p.ConnectFunc, p.ConnectError
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, groupID, channelID)
	}
	if connErr != nil {
		return nil, connErr
	}
	c := NewConnection(channelID)
	p.mu.Lock()
	p.Connections = append(p.Connections, c)
	p.mu.Unlock()
	return c, nil
}

// Calls returns a copy of the recorded Connect calls.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Conn returns the i-th connection handed out, or nil.
func (p *Platform) Conn(i int) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Connections) {
		return nil
	}
	return p.Connections[i]
}
