package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/auth"
	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/core"
	"github.com/vovakirdan/groupchat-server/internal/proto"
)

// Close reasons are limited to 123 bytes by RFC 6455.
const maxCloseReason = 123

var errMissingToken = errors.New("missing token")

// WSOptions configures chat sockets.
type WSOptions struct {
	AuthRequired       bool
	MaxMessageBytes    int64
	WriteTimeout       time.Duration
	RateLimitPerMinute int
}

// WSHandler upgrades HTTP connections and bridges them to core sessions.
type WSHandler struct {
	hub  *core.Hub
	auth *auth.Service
	opts WSOptions
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &WSHandler{hub: hub, auth: authService, opts: opts, log: logger}
}

// Handle serves GET /ws/chat/{id}/ and GET /ws/chat/group/{id}/.
func (h *WSHandler) Handle(c *gin.Context) {
	key, err := channel.Parse(c.Param("path"))
	if err != nil {
		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "unknown chat route"})
		return
	}

	userID, err := h.authenticate(c.Request)
	if err != nil {
		h.log.Debug().Err(err).Str("channel", key.String()).Msg("ws auth rejected")
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}

	h.serve(c.Request.Context(), conn, key, userID, c.ClientIP())
}

// authenticate returns the user behind the token, zero for anonymous
// connections when auth is optional.
func (h *WSHandler) authenticate(r *stdhttp.Request) (int64, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = bearerToken(r.Header.Get("Authorization")); err != nil {
			return 0, err
		}
	}
	if token == "" {
		if h.opts.AuthRequired {
			return 0, errMissingToken
		}
		return 0, nil
	}

	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func (h *WSHandler) serve(ctx context.Context, conn *websocket.Conn, key channel.Key, userID int64, remoteAddr string) {
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	session, history, err := h.hub.Connect(ctx, key, userID)
	if err != nil {
		h.log.Error().Err(err).Str("channel", key.String()).Msg("failed to join channel")
		conn.Close(websocket.StatusInternalError, "history unavailable")
		return
	}
	defer h.hub.Disconnect(session)

	logger := h.log.With().
		Str("session_id", session.ID).
		Str("channel", key.String()).
		Str("remote_addr", remoteAddr).
		Logger()
	logger.Info().Int64("user_id", userID).Int("history", len(history)).Msg("ws connected")

	for _, msg := range history {
		if err := h.writeJSON(ctx, conn, core.HistoryFrame(msg)); err != nil {
			logger.Warn().Err(err).Msg("history replay failed")
			conn.Close(websocket.StatusInternalError, "history replay failed")
			return
		}
	}
	h.hub.Activate(session)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	status, reason := closeStatus(err)
	if status == websocket.StatusInternalError {
		logger.Warn().Err(err).Msg("ws connection closed with error")
	} else {
		logger.Info().Int("status", int(status)).Str("reason", reason).Msg("ws disconnected")
	}

	// The close frame must go out before cancel tears the connection down.
	conn.Close(status, reason)
	cancel()
	<-errCh
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.opts.RateLimitPerMinute)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow(time.Now()) {
			h.sendError(session, core.ErrCodeRateLimited, "too many messages", logger)
			continue
		}

		err = h.hub.Handle(ctx, session, data)
		if err == nil {
			continue
		}
		var ce *core.CoreError
		if !errors.As(err, &ce) || ce.Fatal() {
			return err
		}
		logger.Debug().Err(err).Str("code", ce.Code).Msg("frame rejected")
		h.sendError(session, ce.Code, ce.Message, logger)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	for {
		select {
		case payload := <-session.Outbound():
			writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		case <-session.Done():
			return session.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}

// sendError queues an error frame behind any pending broadcasts.
func (h *WSHandler) sendError(session *core.Session, code, msg string, logger *zerolog.Logger) {
	payload, err := json.Marshal(proto.NewError(code, msg))
	if err != nil {
		logger.Error().Err(err).Msg("encode error frame")
		return
	}
	if err := session.Send(payload); err != nil {
		logger.Debug().Err(err).Str("code", code).Msg("error frame dropped")
	}
}

func closeStatus(err error) (websocket.StatusCode, string) {
	var ce *core.CoreError
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case websocket.CloseStatus(err) != -1:
		return websocket.StatusNormalClosure, "closing"
	case errors.As(err, &ce):
		return websocket.StatusProtocolError, truncateReason(ce.Code + ": " + ce.Message)
	case errors.Is(err, core.ErrServerShutdown):
		return websocket.StatusGoingAway, "server shutting down"
	case errors.Is(err, core.ErrMemberUnreachable):
		return websocket.StatusPolicyViolation, "slow consumer"
	default:
		return websocket.StatusInternalError, "internal error"
	}
}

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	return reason[:maxCloseReason]
}
