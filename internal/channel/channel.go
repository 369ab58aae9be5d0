package channel

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Kind discriminates the two channel flavours.
type Kind int

const (
	// KindRoom is a simple 1:1 or small room.
	KindRoom Kind = iota + 1
	// KindGroup is a multi-member group with history replay on join.
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindRoom:
		return "room"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// ErrUnknownRoute is returned when a connection target matches neither route.
var ErrUnknownRoute = errors.New("unknown channel route")

var (
	roomRoute  = regexp.MustCompile(`^/?chat/(\d+)/?$`)
	groupRoute = regexp.MustCompile(`^/?chat/group/(\d+)/?$`)
)

// Key identifies a logical chat channel. The zero value is invalid.
type Key struct {
	Kind Kind
	ID   int64
}

// Room returns the key of room id.
func Room(id int64) Key {
	return Key{Kind: KindRoom, ID: id}
}

// Group returns the key of group id.
func Group(id int64) Key {
	return Key{Kind: KindGroup, ID: id}
}

// Parse derives a key from a connection path such as "chat/42/" or
// "chat/group/5/". The leading "/ws" prefix must already be stripped.
func Parse(path string) (Key, error) {
	if m := groupRoute.FindStringSubmatch(path); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Key{}, fmt.Errorf("%w: group id %q: %v", ErrUnknownRoute, m[1], err)
		}
		return Group(id), nil
	}
	if m := roomRoute.FindStringSubmatch(path); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Key{}, fmt.Errorf("%w: room id %q: %v", ErrUnknownRoute, m[1], err)
		}
		return Room(id), nil
	}
	return Key{}, fmt.Errorf("%w: %q", ErrUnknownRoute, path)
}

// IsGroup reports whether the key addresses a group channel.
func (k Key) IsGroup() bool {
	return k.Kind == KindGroup
}

// Valid reports whether the key was built through Room, Group or Parse.
func (k Key) Valid() bool {
	return k.Kind == KindRoom || k.Kind == KindGroup
}

// String returns the fanout group name, e.g. "chat_42" or "group_5".
func (k Key) String() string {
	switch k.Kind {
	case KindRoom:
		return "chat_" + strconv.FormatInt(k.ID, 10)
	case KindGroup:
		return "group_" + strconv.FormatInt(k.ID, 10)
	default:
		return "invalid"
	}
}
