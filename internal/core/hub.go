package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

// Options tunes the hub.
type Options struct {
	// HistoryLimit caps the replay on group join; zero replays everything.
	HistoryLimit int
	// SendQueueSize bounds each session's outbound queue.
	SendQueueSize int
}

// Hub ties sessions to the registry, router and message store.
type Hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	router     *Router
	messages   store.MessageStore
	opts       Options
	log        *zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub creates a new chat hub instance.
func NewHub(directory store.Directory, messages store.MessageStore, opts Options, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}

	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, logger)
	return &Hub{
		registry:   registry,
		dispatcher: dispatcher,
		router:     NewRouter(directory, messages, registry, dispatcher, logger),
		messages:   messages,
		opts:       opts,
		log:        logger,
		sessions:   make(map[string]*Session),
	}
}

// Registry exposes the channel registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Dispatcher exposes the broadcast dispatcher.
func (h *Hub) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// Connect creates a session for key and joins it. For group channels the
// stored history is returned; it must be delivered before Activate. History
// read and join happen in one critical section, so every message is either
// part of the returned history or queued live on the session, exactly once.
func (h *Hub) Connect(ctx context.Context, key channel.Key, userID int64) (*Session, []*store.Message, error) {
	if !key.Valid() {
		return nil, nil, fmt.Errorf("connect: invalid channel %s", key)
	}

	s := NewSession(key, h.opts.SendQueueSize)
	s.UserID = userID

	var history []*store.Message
	err := h.registry.Sequence(key, func() error {
		if key.IsGroup() {
			var err error
			history, err = h.messages.History(ctx, key, h.opts.HistoryLimit)
			if err != nil {
				return coreError(ErrCodeStoreUnavailable, "failed to load history", err)
			}
		}
		return h.registry.Join(key, s)
	})
	if err != nil {
		s.setState(StateClosed)
		s.Kick(err)
		return nil, nil, err
	}

	s.setState(StateJoined)
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.log.Debug().
		Str("session_id", s.ID).
		Str("channel", key.String()).
		Int("history", len(history)).
		Msg("session joined")
	return s, history, nil
}

// Activate marks history replay as finished; inbound frames are accepted
// from now on.
func (h *Hub) Activate(s *Session) bool {
	return s.transition(StateJoined, StateActive)
}

// Handle routes one inbound frame of an active session.
func (h *Hub) Handle(ctx context.Context, s *Session, raw []byte) error {
	if s.State() != StateActive {
		return ErrNotActive
	}
	return h.router.Handle(ctx, s, raw)
}

// Disconnect removes s from its channel and releases it. It is safe to call
// more than once and after the dispatcher already dropped the session.
func (h *Hub) Disconnect(s *Session) {
	if s == nil {
		return
	}
	for {
		st := s.State()
		if st == StateClosing || st == StateClosed {
			return
		}
		if s.transition(st, StateClosing) {
			break
		}
	}

	removed := h.registry.Leave(s.Channel, s)
	s.Kick(nil)

	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	s.setState(StateClosed)
	h.log.Debug().
		Str("session_id", s.ID).
		Str("channel", s.Channel.String()).
		Bool("was_member", removed).
		Msg("session left")
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Run blocks until ctx is cancelled and then kicks every live session so
// their transports close.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.Kick(ErrServerShutdown)
	}
	h.log.Info().Int("sessions", len(live)).Msg("hub stopped")
}
