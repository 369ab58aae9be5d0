package store

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/groupchat-server/internal/channel"
)

var (
	// ErrNotFound is wrapped by lookups that miss.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique name is already taken.
	ErrConflict = errors.New("already exists")
)

// User is a chat participant. Name is the display name used as "sender".
type User struct {
	ID           int64
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// Room is the entity behind a room channel.
type Room struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Group is the entity behind a group channel.
type Group struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Message is a persisted chat message. It is never updated or deleted.
type Message struct {
	ID         int64
	Channel    channel.Key
	SenderID   int64
	SenderName string
	Body       string
	CreatedAt  time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a user with an optional password hash.
	CreateUser(ctx context.Context, name, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByName retrieves a user by display name.
	GetUserByName(ctx context.Context, name string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	CreateRoom(ctx context.Context, name string) (*Room, error)
	GetRoomByID(ctx context.Context, id int64) (*Room, error)
	ListRooms(ctx context.Context) ([]*Room, error)
}

// GroupStore handles group persistence.
type GroupStore interface {
	CreateGroup(ctx context.Context, name string) (*Group, error)
	GetGroupByID(ctx context.Context, id int64) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
}

// Directory resolves senders and channel entities.
type Directory interface {
	UserStore
	RoomStore
	GroupStore
}

// MessageStore is the append-only message log, partitioned by channel.
type MessageStore interface {
	// AppendMessage persists body from sender on the given channel. The store
	// assigns CreatedAt, never earlier than the previous message of the channel.
	AppendMessage(ctx context.Context, key channel.Key, sender *User, body string) (*Message, error)

	// History returns messages of a channel ordered by CreatedAt ascending.
	// With limit > 0 only the newest limit messages are returned.
	History(ctx context.Context, key channel.Key, limit int) ([]*Message, error)
}

// Store aggregates the directory and the message log.
type Store interface {
	Directory
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

// NextStamp returns the creation time for a message appended at now, given
// the last timestamp of the same channel. Timestamps have microsecond
// precision and are never earlier than last.
func NextStamp(now, last time.Time) time.Time {
	stamp := now.UTC().Truncate(time.Microsecond)
	if stamp.Before(last) {
		return last.UTC()
	}
	return stamp
}
