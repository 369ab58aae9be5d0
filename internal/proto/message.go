package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	// TypeChatMessage tags live group broadcasts.
	TypeChatMessage = "chat_message"
	// TypeError tags error frames sent back to the originating connection.
	TypeError = "error"
)

// Inbound is a chat frame sent by a client on either channel kind.
type Inbound struct {
	Message  string   `json:"message"`
	SenderID SenderID `json:"sender_id"`
}

// SenderID accepts a JSON number or a numeric string. A missing or null
// value leaves it unset.
type SenderID struct {
	Value int64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *SenderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = SenderID{}
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("sender_id: %q is not an integer", raw)
	}
	*id = SenderID{Value: v, Set: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (id SenderID) MarshalJSON() ([]byte, error) {
	if !id.Set {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, id.Value, 10), nil
}

// Present reports whether a usable (set, non-zero) id was supplied.
func (id SenderID) Present() bool {
	return id.Set && id.Value != 0
}

// Complete reports whether both required fields are present and non-empty.
func (in Inbound) Complete() bool {
	return in.Message != "" && in.SenderID.Present()
}

// RoomMessage is broadcast to every member of a room.
type RoomMessage struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// GroupMessage is broadcast to group members (Type set to TypeChatMessage)
// and replayed as history on join (Type empty and omitted).
type GroupMessage struct {
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	SenderID  int64  `json:"sender_id"`
	Timestamp string `json:"timestamp"`
}

// Error describes a per-frame failure reported to the sender only.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(code, msg string) Error {
	return Error{Type: TypeError, Code: code, Message: msg}
}

// FormatTimestamp renders t as ISO-8601 with a numeric UTC offset and
// microsecond precision, omitting the fraction when it is zero.
func FormatTimestamp(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
