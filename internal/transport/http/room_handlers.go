package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/core"
	"github.com/vovakirdan/groupchat-server/internal/proto"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	rooms        store.RoomStore
	messages     store.MessageStore
	historyLimit int
	log          *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(rooms store.RoomStore, messages store.MessageStore, historyLimit int, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms:        rooms,
		messages:     messages,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// CreateChannelRequest is the body for creating rooms and groups.
type CreateChannelRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// ChannelResponse represents a room or group in API responses.
type ChannelResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
}

func toChannelResponse(key channel.Key, name string, createdAt time.Time) ChannelResponse {
	path := "/ws/chat/" + strconv.FormatInt(key.ID, 10) + "/"
	if key.IsGroup() {
		path = "/ws/chat/group/" + strconv.FormatInt(key.ID, 10) + "/"
	}
	return ChannelResponse{
		ID:        key.ID,
		Name:      name,
		Kind:      key.Kind.String(),
		Path:      path,
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), req.Name)
	if errors.Is(err, store.ErrConflict) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "room with this name already exists"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("room_name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_name", room.Name).Int64("room_id", room.ID).Msg("room created")
	c.JSON(http.StatusCreated, toChannelResponse(channel.Room(room.ID), room.Name, room.CreatedAt))
}

// ListRooms lists all rooms.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(rooms, func(r *store.Room, _ int) ChannelResponse {
		return toChannelResponse(channel.Room(r.ID), r.Name, r.CreatedAt)
	}))
}

// History returns stored room messages, oldest first.
// GET /api/rooms/:id/messages?limit=N
func (h *RoomHandlers) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	writeHistory(c, channel.Room(id), h.historyLimit, h.messages, h.log, func(ctx context.Context) error {
		_, err := h.rooms.GetRoomByID(ctx, id)
		return err
	})
}

// writeHistory answers with the history of key after exists confirmed the
// channel entity.
func writeHistory(c *gin.Context, key channel.Key, defaultLimit int, messages store.MessageStore, logger *zerolog.Logger, exists func(context.Context) error) {
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	if err := exists(ctx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: key.Kind.String() + " not found"})
			return
		}
		logger.Error().Err(err).Str("channel", key.String()).Msg("failed to look up channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	msgs, err := messages.History(ctx, key, limit)
	if err != nil {
		logger.Error().Err(err).Str("channel", key.String()).Msg("failed to load history")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history unavailable"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(msgs, func(m *store.Message, _ int) proto.GroupMessage {
		return core.HistoryFrame(m)
	}))
}
