package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

// GroupHandlers provides HTTP handlers for group endpoints.
type GroupHandlers struct {
	groups       store.GroupStore
	messages     store.MessageStore
	historyLimit int
	log          *zerolog.Logger
}

// NewGroupHandlers creates a new group handlers instance.
func NewGroupHandlers(groups store.GroupStore, messages store.MessageStore, historyLimit int, logger *zerolog.Logger) *GroupHandlers {
	return &GroupHandlers{
		groups:       groups,
		messages:     messages,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// CreateGroup handles group creation.
// POST /api/groups
func (h *GroupHandlers) CreateGroup(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	group, err := h.groups.CreateGroup(c.Request.Context(), req.Name)
	if errors.Is(err, store.ErrConflict) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "group with this name already exists"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("group_name", req.Name).Msg("failed to create group")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("group_name", group.Name).Int64("group_id", group.ID).Msg("group created")
	c.JSON(http.StatusCreated, toChannelResponse(channel.Group(group.ID), group.Name, group.CreatedAt))
}

// ListGroups lists all groups.
// GET /api/groups
func (h *GroupHandlers) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListGroups(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list groups")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(groups, func(g *store.Group, _ int) ChannelResponse {
		return toChannelResponse(channel.Group(g.ID), g.Name, g.CreatedAt)
	}))
}

// History returns stored group messages in replay format.
// GET /api/groups/:id/messages?limit=N
func (h *GroupHandlers) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	writeHistory(c, channel.Group(id), h.historyLimit, h.messages, h.log, func(ctx context.Context) error {
		_, err := h.groups.GetGroupByID(ctx, id)
		return err
	})
}
