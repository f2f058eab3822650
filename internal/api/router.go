package api

import (
	"context"
	"log/slog"
	"net/http"

	"go-relay/internal/auth"
	"go-relay/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Router struct {
	ah       *AuthHandlers
	mh       *MessageHandlers
	uh       *UserHandlers
	resolver auth.Resolver
}

func NewRouter(ah *AuthHandlers, mh *MessageHandlers, uh *UserHandlers, resolver auth.Resolver) *Router {
	return &Router{ah: ah, mh: mh, uh: uh, resolver: resolver}
}

// NewEngine returns a gin engine with recovery, request logging and the
// per-IP rate limit. gin applies Use only to routes registered afterwards,
// so every route, the socket included, must be mounted on the result. The
// limiter's sweeper stops when ctx is done.
func NewEngine(ctx context.Context, log *slog.Logger, limits middleware.RateLimitConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(ctx, limits)),
	)
	return engine
}

// RegisterRoutes mounts the HTTP API. The credential limiter's sweeper
// stops when ctx is done.
func (r *Router) RegisterRoutes(ctx context.Context, router *gin.Engine) {
	credentials := middleware.RateLimitMiddleware(middleware.NewIPRateLimiter(ctx, middleware.StrictRateLimit))

	{
		unprotected := router.Group("/")
		unprotected.GET("/hc", HealthCheckHandler)
		unprotected.POST("/register", credentials, r.ah.RegisterHandler)
		unprotected.POST("/login", credentials, r.ah.LoginHandler)
		// The access token may already be expired when refreshing.
		unprotected.POST("/api/refresh_token", credentials, r.ah.RefreshTokenHandler)
	}

	{
		protected := router.Group("/api")
		protected.Use(auth.RequireAuth(r.resolver))
		protected.POST("/logout", r.ah.LogoutHandler)

		protected.Any("/messages", r.mh.MessagesHandler)
		protected.GET("/messages/contacts", r.mh.ContactsHandler)
		protected.GET("/messages/unread-count", r.mh.UnreadCountHandler)
		protected.PUT("/messages/:id/read", r.mh.MarkReadHandler)

		protected.GET("/users/me", r.uh.MeHandler)
		protected.GET("/users/search", r.uh.SearchUsersHandler)
	}
}

func HealthCheckHandler(c *gin.Context) {
	c.String(http.StatusOK, "Running")
}
