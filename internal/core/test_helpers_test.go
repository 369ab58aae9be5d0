package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

// memStore is an in-memory store.Directory and store.MessageStore.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]*store.User
	rooms    map[int64]*store.Room
	groups   map[int64]*store.Group
	messages map[channel.Key][]*store.Message
	nextID   int64

	appendErr  error
	historyErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*store.User),
		rooms:    make(map[int64]*store.Room),
		groups:   make(map[int64]*store.Group),
		messages: make(map[channel.Key][]*store.Message),
	}
}

func (m *memStore) addUser(id int64, name string) *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &store.User{ID: id, Name: name}
	m.users[id] = u
	return u
}

func (m *memStore) addRoom(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[id] = &store.Room{ID: id, Name: fmt.Sprintf("room-%d", id)}
}

func (m *memStore) addGroup(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[id] = &store.Group{ID: id, Name: fmt.Sprintf("group-%d", id)}
}

func (m *memStore) stored(key channel.Key) []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.Message(nil), m.messages[key]...)
}

func (m *memStore) CreateUser(_ context.Context, name, _ string) (*store.User, error) {
	m.mu.Lock()
	id := int64(len(m.users) + 1)
	m.mu.Unlock()
	return m.addUser(id, name), nil
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
}

func (m *memStore) GetUserByName(_ context.Context, name string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) CreateRoom(_ context.Context, name string) (*store.Room, error) {
	return nil, errors.New("not implemented")
}

func (m *memStore) GetRoomByID(_ context.Context, id int64) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
}

func (m *memStore) ListRooms(context.Context) ([]*store.Room, error) {
	return nil, nil
}

func (m *memStore) CreateGroup(_ context.Context, name string) (*store.Group, error) {
	return nil, errors.New("not implemented")
}

func (m *memStore) GetGroupByID(_ context.Context, id int64) (*store.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[id]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("group %d: %w", id, store.ErrNotFound)
}

func (m *memStore) ListGroups(context.Context) ([]*store.Group, error) {
	return nil, nil
}

func (m *memStore) AppendMessage(_ context.Context, key channel.Key, sender *store.User, body string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, m.appendErr
	}

	var last time.Time
	if msgs := m.messages[key]; len(msgs) > 0 {
		last = msgs[len(msgs)-1].CreatedAt
	}
	m.nextID++
	msg := &store.Message{
		ID:         m.nextID,
		Channel:    key,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Body:       body,
		CreatedAt:  store.NextStamp(time.Now(), last),
	}
	m.messages[key] = append(m.messages[key], msg)
	return msg, nil
}

func (m *memStore) History(_ context.Context, key channel.Key, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	msgs := m.messages[key]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*store.Message(nil), msgs...), nil
}

func newTestHub(t *testing.T, st *memStore, opts Options) *Hub {
	t.Helper()
	logger := zerolog.Nop()
	return NewHub(st, st, opts, &logger)
}

// connectActive joins a session and marks it active, skipping transport.
func connectActive(t *testing.T, hub *Hub, key channel.Key) (*Session, []*store.Message) {
	t.Helper()
	s, history, err := hub.Connect(context.Background(), key, 0)
	if err != nil {
		t.Fatalf("connect %s: %v", key, err)
	}
	if !hub.Activate(s) {
		t.Fatalf("activate %s: unexpected state %s", key, s.State())
	}
	return s, history
}

func mustFrame(t *testing.T, s *Session, v any) {
	t.Helper()

	select {
	case payload := <-s.Outbound():
		if err := json.Unmarshal(payload, v); err != nil {
			t.Fatalf("decode frame %s: %v", payload, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected frame for session %s not received", s.ID)
	}
}

func mustNoFrame(t *testing.T, s *Session) {
	t.Helper()

	select {
	case payload := <-s.Outbound():
		t.Fatalf("unexpected frame for session %s: %s", s.ID, payload)
	case <-time.After(50 * time.Millisecond):
	}
}
