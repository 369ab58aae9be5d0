package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/auth"
	"github.com/vovakirdan/groupchat-server/internal/config"
	"github.com/vovakirdan/groupchat-server/internal/core"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

// NewServer builds the HTTP server: the chat sockets under /ws and the REST API under /api.
func NewServer(hub *core.Hub, authService *auth.Service, directory store.Directory, messages store.MessageStore, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	ws := NewWSHandler(hub, authService, WSOptions{
		AuthRequired:       cfg.AuthRequired,
		MaxMessageBytes:    cfg.MaxMessageBytes,
		WriteTimeout:       cfg.WriteTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, logger)
	router.GET("/ws/*path", ws.Handle)

	apiHandlers := NewAPIHandlers(authService, logger)
	userHandlers := NewUserHandlers(directory, logger)
	roomHandlers := NewRoomHandlers(directory, messages, cfg.HistoryLimit, logger)
	groupHandlers := NewGroupHandlers(directory, messages, cfg.HistoryLimit, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)
	api.GET("/users/:id", userHandlers.GetUser)
	api.GET("/rooms", roomHandlers.ListRooms)
	api.GET("/rooms/:id/messages", roomHandlers.History)
	api.GET("/groups", groupHandlers.ListGroups)
	api.GET("/groups/:id/messages", groupHandlers.History)

	protected := api.Group("", AuthMiddleware(authService, logger))
	protected.POST("/rooms", roomHandlers.CreateRoom)
	protected.POST("/groups", groupHandlers.CreateGroup)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
