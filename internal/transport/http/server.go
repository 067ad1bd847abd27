package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ndenisov/chatsync/internal/auth"
	"github.com/ndenisov/chatsync/internal/config"
	"github.com/ndenisov/chatsync/internal/feed"
	"github.com/ndenisov/chatsync/internal/store"
)

// NewServer builds the HTTP server: REST auth surface, user lookup for
// the create-chat dialog, and the WebSocket synchronizer session.
func NewServer(authService *auth.Service, st store.Store, f *feed.Feed, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(authService, st, logger)
	ws := NewWSHandler(st, f, logger)

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	router.POST("/api/signup", api.SignUp)
	router.POST("/api/signin", api.SignIn)

	authorized := router.Group("/", AuthMiddleware(authService, logger))
	authorized.GET("/api/me", api.Me)
	authorized.GET("/api/users", api.SearchUsers)
	authorized.GET("/ws", ws.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
