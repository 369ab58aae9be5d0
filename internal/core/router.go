package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/proto"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

// Router validates inbound frames, persists them and hands the formatted
// outbound frame to the dispatcher.
type Router struct {
	directory  store.Directory
	messages   store.MessageStore
	registry   *Registry
	dispatcher *Dispatcher
	log        *zerolog.Logger
}

// NewRouter builds a router.
func NewRouter(directory store.Directory, messages store.MessageStore, registry *Registry, dispatcher *Dispatcher, logger *zerolog.Logger) *Router {
	return &Router{
		directory:  directory,
		messages:   messages,
		registry:   registry,
		dispatcher: dispatcher,
		log:        logger,
	}
}

// Handle processes one raw frame received on s. A nil error means the frame
// was either published or deliberately ignored.
func (r *Router) Handle(ctx context.Context, s *Session, raw []byte) error {
	var in proto.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return coreError(ErrCodeMalformedFrame, "frame is not valid JSON", err)
	}

	switch s.Channel.Kind {
	case channel.KindRoom:
		return r.handleRoom(ctx, s, in)
	case channel.KindGroup:
		return r.handleGroup(ctx, s, in)
	default:
		return coreError(ErrCodeUnknownChannel, "unsupported channel", fmt.Errorf("channel %s", s.Channel))
	}
}

func (r *Router) handleRoom(ctx context.Context, s *Session, in proto.Inbound) error {
	if !in.Complete() {
		return coreError(ErrCodeMalformedFrame, "message and sender_id are required", nil)
	}

	sender, err := r.resolveSender(ctx, in.SenderID.Value)
	if err != nil {
		return err
	}
	if _, err := r.directory.GetRoomByID(ctx, s.Channel.ID); err != nil {
		return lookupError(ErrCodeUnknownChannel, "room not found", err)
	}

	return r.publish(ctx, s.Channel, sender, in.Message, func(msg *store.Message) any {
		return proto.RoomMessage{
			Message: msg.Body,
			Sender:  msg.SenderName,
		}
	})
}

func (r *Router) handleGroup(ctx context.Context, s *Session, in proto.Inbound) error {
	if !in.Complete() {
		r.log.Debug().
			Str("session_id", s.ID).
			Str("channel", s.Channel.String()).
			Str("code", ErrCodeGroupFrameIncomplete).
			Msg("ignoring incomplete group frame")
		return nil
	}

	if _, err := r.directory.GetGroupByID(ctx, s.Channel.ID); err != nil {
		return lookupError(ErrCodeUnknownChannel, "group not found", err)
	}
	sender, err := r.resolveSender(ctx, in.SenderID.Value)
	if err != nil {
		return err
	}

	return r.publish(ctx, s.Channel, sender, in.Message, func(msg *store.Message) any {
		frame := HistoryFrame(msg)
		frame.Type = proto.TypeChatMessage
		return frame
	})
}

func (r *Router) resolveSender(ctx context.Context, id int64) (*store.User, error) {
	sender, err := r.directory.GetUserByID(ctx, id)
	if err != nil {
		return nil, lookupError(ErrCodeUnknownSender, "sender not found", err)
	}
	return sender, nil
}

// publish appends and broadcasts inside the channel's critical section so
// that a concurrent history replay sees the message either in history or
// live, never both and never neither.
func (r *Router) publish(ctx context.Context, key channel.Key, sender *store.User, text string, format func(*store.Message) any) error {
	return r.registry.Sequence(key, func() error {
		msg, err := r.messages.AppendMessage(ctx, key, sender, text)
		if err != nil {
			return coreError(ErrCodeStoreUnavailable, "failed to store message", err)
		}

		payload, err := json.Marshal(format(msg))
		if err != nil {
			return fmt.Errorf("encode outbound frame: %w", err)
		}

		delivery := r.dispatcher.Broadcast(key, payload)
		r.log.Debug().
			Str("channel", key.String()).
			Int64("message_id", msg.ID).
			Int("delivered", delivery.Delivered).
			Int("unreachable", len(delivery.Unreachable)).
			Msg("message broadcast")
		return nil
	})
}

// HistoryFrame renders a stored group message the way it is replayed on join.
func HistoryFrame(msg *store.Message) proto.GroupMessage {
	return proto.GroupMessage{
		Message:   msg.Body,
		Sender:    msg.SenderName,
		SenderID:  msg.SenderID,
		Timestamp: proto.FormatTimestamp(msg.CreatedAt),
	}
}

func lookupError(code, msg string, err error) *CoreError {
	if errors.Is(err, store.ErrNotFound) {
		return coreError(code, msg, err)
	}
	return coreError(ErrCodeStoreUnavailable, "lookup failed", err)
}
