package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vovakirdan/groupchat-server/internal/channel"
)

// State is a step of the session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one live connection as seen by the core layer. The registry
// only keeps a reference; the transport owns the session's lifetime.
type Session struct {
	ID      string
	Channel channel.Key
	// UserID is the authenticated user, zero for anonymous connections.
	UserID int64

	outbound chan []byte
	state    atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewSession constructs a session bound to key with a bounded outbound queue.
func NewSession(key channel.Key, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Session{
		ID:       uuid.NewString(),
		Channel:  key,
		outbound: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// Outbound yields frames in the order they were queued.
func (s *Session) Outbound() <-chan []byte {
	return s.outbound
}

// Send queues payload without blocking. A full queue or a closed session
// yields ErrMemberUnreachable.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: session closed", ErrMemberUnreachable)
	default:
	}

	select {
	case s.outbound <- payload:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", ErrMemberUnreachable)
	}
}

// Kick stops the session. The first reason wins; later calls are no-ops.
func (s *Session) Kick(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the session has been kicked or disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the kick reason, nil for a plain disconnect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) setState(to State) {
	s.state.Store(int32(to))
}
