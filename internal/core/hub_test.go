package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/proto"
)

func TestRoomMessageIsPersistedAndBroadcast(t *testing.T) {
	st := newMemStore()
	st.addUser(7, "Alice")
	st.addRoom(42)
	hub := newTestHub(t, st, Options{})
	key := channel.Room(42)

	sender, history := connectActive(t, hub, key)
	require.Empty(t, history, "rooms never replay history")
	other, _ := connectActive(t, hub, key)

	err := hub.Handle(context.Background(), sender, []byte(`{"message":"hello","sender_id":7}`))
	require.NoError(t, err)

	stored := st.stored(key)
	require.Len(t, stored, 1)
	require.Equal(t, int64(7), stored[0].SenderID)
	require.Equal(t, "hello", stored[0].Body)

	for _, s := range []*Session{sender, other} {
		var frame map[string]any
		mustFrame(t, s, &frame)
		require.Equal(t, map[string]any{"message": "hello", "sender": "Alice"}, frame)
	}
}

func TestGroupLiveBroadcastCarriesTypeAndTimestamp(t *testing.T) {
	st := newMemStore()
	st.addUser(3, "Bob")
	st.addGroup(5)
	hub := newTestHub(t, st, Options{})

	s, _ := connectActive(t, hub, channel.Group(5))
	require.NoError(t, hub.Handle(context.Background(), s, []byte(`{"message":"yo","sender_id":3}`)))

	var frame proto.GroupMessage
	mustFrame(t, s, &frame)
	require.Equal(t, proto.TypeChatMessage, frame.Type)
	require.Equal(t, "yo", frame.Message)
	require.Equal(t, "Bob", frame.Sender)
	require.Equal(t, int64(3), frame.SenderID)
	require.Equal(t, proto.FormatTimestamp(st.stored(channel.Group(5))[0].CreatedAt), frame.Timestamp)
}

func TestGroupJoinReplaysHistoryInOrder(t *testing.T) {
	st := newMemStore()
	alice := st.addUser(1, "Alice")
	bob := st.addUser(2, "Bob")
	st.addGroup(5)
	key := channel.Group(5)
	ctx := context.Background()

	_, err := st.AppendMessage(ctx, key, alice, "first")
	require.NoError(t, err)
	_, err = st.AppendMessage(ctx, key, bob, "second")
	require.NoError(t, err)

	hub := newTestHub(t, st, Options{})
	s, history := connectActive(t, hub, key)

	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Body)
	require.Equal(t, "Alice", history[0].SenderName)
	require.Equal(t, "second", history[1].Body)
	mustNoFrame(t, s)

	frame := HistoryFrame(history[0])
	require.Empty(t, frame.Type)
	require.Equal(t, int64(1), frame.SenderID)
}

func TestGroupHistoryLimit(t *testing.T) {
	st := newMemStore()
	alice := st.addUser(1, "Alice")
	key := channel.Group(8)
	for i := 0; i < 5; i++ {
		_, err := st.AppendMessage(context.Background(), key, alice, fmt.Sprint(i))
		require.NoError(t, err)
	}

	hub := newTestHub(t, st, Options{HistoryLimit: 2})
	_, history := connectActive(t, hub, key)
	require.Len(t, history, 2)
	require.Equal(t, "3", history[0].Body)
	require.Equal(t, "4", history[1].Body)
}

func TestIncompleteGroupFrameIsIgnored(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "Alice")
	st.addGroup(5)
	hub := newTestHub(t, st, Options{})
	s, _ := connectActive(t, hub, channel.Group(5))

	for _, raw := range []string{`{"message": ""}`, `{"sender_id": 1}`, `{"message":"x","sender_id":0}`} {
		require.NoError(t, hub.Handle(context.Background(), s, []byte(raw)), raw)
	}

	require.Empty(t, st.stored(channel.Group(5)))
	mustNoFrame(t, s)
	require.Equal(t, StateActive, s.State())
}

func TestIncompleteRoomFrameIsFatal(t *testing.T) {
	st := newMemStore()
	st.addRoom(42)
	hub := newTestHub(t, st, Options{})
	s, _ := connectActive(t, hub, channel.Room(42))

	err := hub.Handle(context.Background(), s, []byte(`{"message":"hello"}`))
	var ce *CoreError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, ErrCodeMalformedFrame, ce.Code)
	require.True(t, ce.Fatal())
	require.Empty(t, st.stored(channel.Room(42)))
}

func TestUnparseableFrameIsFatal(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(t, st, Options{})

	for _, key := range []channel.Key{channel.Room(1), channel.Group(1)} {
		s, _ := connectActive(t, hub, key)
		err := hub.Handle(context.Background(), s, []byte(`{not json`))
		require.True(t, IsCode(err, ErrCodeMalformedFrame), "channel %s: %v", key, err)
	}
}

func TestUnknownSenderAndChannel(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "Alice")
	st.addRoom(1)
	hub := newTestHub(t, st, Options{})
	ctx := context.Background()

	room, _ := connectActive(t, hub, channel.Room(1))
	err := hub.Handle(ctx, room, []byte(`{"message":"hi","sender_id":99}`))
	require.True(t, IsCode(err, ErrCodeUnknownSender), "%v", err)

	ghostRoom, _ := connectActive(t, hub, channel.Room(404))
	err = hub.Handle(ctx, ghostRoom, []byte(`{"message":"hi","sender_id":1}`))
	require.True(t, IsCode(err, ErrCodeUnknownChannel), "%v", err)

	ghostGroup, _ := connectActive(t, hub, channel.Group(404))
	err = hub.Handle(ctx, ghostGroup, []byte(`{"message":"hi","sender_id":1}`))
	require.True(t, IsCode(err, ErrCodeUnknownChannel), "%v", err)

	var ce *CoreError
	require.True(t, errors.As(err, &ce))
	require.False(t, ce.Fatal())
	mustNoFrame(t, room)
}

func TestFailedAppendIsNotBroadcast(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "Alice")
	st.addGroup(1)
	st.appendErr = errors.New("disk full")
	hub := newTestHub(t, st, Options{})

	s, _ := connectActive(t, hub, channel.Group(1))
	err := hub.Handle(context.Background(), s, []byte(`{"message":"hi","sender_id":1}`))
	require.True(t, IsCode(err, ErrCodeStoreUnavailable), "%v", err)
	mustNoFrame(t, s)
}

func TestConnectFailsWhenHistoryUnavailable(t *testing.T) {
	st := newMemStore()
	st.historyErr = errors.New("db down")
	hub := newTestHub(t, st, Options{})

	_, _, err := hub.Connect(context.Background(), channel.Group(1), 0)
	require.True(t, IsCode(err, ErrCodeStoreUnavailable), "%v", err)
	require.Equal(t, 0, hub.Registry().Channels())
	require.Equal(t, 0, hub.Sessions())
}

func TestFramesBeforeActivateAreRejected(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(t, st, Options{})

	s, _, err := hub.Connect(context.Background(), channel.Group(1), 0)
	require.NoError(t, err)
	require.Equal(t, StateJoined, s.State())
	require.ErrorIs(t, hub.Handle(context.Background(), s, []byte(`{}`)), ErrNotActive)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(t, st, Options{})
	key := channel.Room(1)

	s, _ := connectActive(t, hub, key)
	require.True(t, hub.Registry().Contains(key, s))

	hub.Disconnect(s)
	hub.Disconnect(s)

	require.False(t, hub.Registry().Contains(key, s))
	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 0, hub.Sessions())
	require.Equal(t, 0, hub.Registry().Channels())
}

func TestManyDisconnectsLeakNoMembership(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "Alice")
	for i := 0; i < 4; i++ {
		st.addGroup(int64(i))
	}
	hub := newTestHub(t, st, Options{SendQueueSize: 2})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, _ := connectActive(t, hub, channel.Group(int64(i%4)))
			defer hub.Disconnect(s)
			_ = hub.Handle(context.Background(), s, []byte(`{"message":"hi","sender_id":1}`))
		}()
	}
	wg.Wait()

	require.Equal(t, 0, hub.Sessions())
	require.Equal(t, 0, hub.Registry().Channels())
}

// Messages sent while members join must reach each joiner exactly once,
// either through history or live.
func TestJoinDuringTrafficSeesEveryMessageOnce(t *testing.T) {
	st := newMemStore()
	st.addUser(1, "Alice")
	st.addGroup(1)
	key := channel.Group(1)
	hub := newTestHub(t, st, Options{SendQueueSize: 1024})
	ctx := context.Background()

	sender, _ := connectActive(t, hub, key)
	go func() {
		for range sender.Outbound() {
		}
	}()

	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			_ = hub.Handle(ctx, sender, []byte(fmt.Sprintf(`{"message":"m%d","sender_id":1}`, i)))
		}
	}()

	type joiner struct {
		s       *Session
		history []string
	}
	var joiners []joiner
	for j := 0; j < 10; j++ {
		s, history := connectActive(t, hub, key)
		j := joiner{s: s}
		for _, m := range history {
			j.history = append(j.history, m.Body)
		}
		joiners = append(joiners, j)
	}
	<-done

	for _, j := range joiners {
		seen := append([]string(nil), j.history...)
	drain:
		for {
			select {
			case payload := <-j.s.Outbound():
				var frame proto.GroupMessage
				require.NoError(t, json.Unmarshal(payload, &frame))
				seen = append(seen, frame.Message)
			default:
				break drain
			}
		}

		require.Len(t, seen, total)
		for i, body := range seen {
			require.Equal(t, fmt.Sprintf("m%d", i), body)
		}
	}
}

func TestRunKicksSessionsOnShutdown(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(t, st, Options{})
	s, _ := connectActive(t, hub, channel.Room(1))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	<-s.Done()
	require.ErrorIs(t, s.Err(), ErrServerShutdown)
}
