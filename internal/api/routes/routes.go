package routes

import (
	"time"

	"chat-realtime/internal/api/handlers"
	"chat-realtime/internal/api/middleware"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/services"
	"chat-realtime/internal/upload"
	"chat-realtime/internal/websocket"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Router struct {
	engine          *gin.Engine
	wsHandler       *handlers.WSHandler
	uploadHandler   *handlers.UploadHandler
	presenceHandler *handlers.PresenceHandler
	rateLimitMW     *middleware.RateLimitMiddleware
	authMW          *middleware.AuthMiddleware
}

func NewRouter(
	hub *websocket.Hub,
	presenceService *presence.PresenceService,
	uploadService *upload.Service,
	redisService *services.RedisService,
	maxFileSize int64,
	jwtSecret string,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	return &Router{
		engine:          engine,
		wsHandler:       handlers.NewWSHandler(hub),
		uploadHandler:   handlers.NewUploadHandler(uploadService, maxFileSize),
		presenceHandler: handlers.NewPresenceHandler(presenceService),
		rateLimitMW:     middleware.NewRateLimitMiddleware(redisService),
		authMW:          middleware.NewAuthMiddleware(jwtSecret),
	}
}

func (r *Router) SetupRoutes() {
	// Swagger documentation
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.engine.Group("/api/v1")

	// WebSocket endpoint with connection rate limiting
	api.GET("/ws",
		r.rateLimitMW.WebSocketRateLimit(5, time.Minute), // 5 connections per minute
		r.wsHandler.HandleWebSocket,
	)

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		uploads := auth.Group("/upload")
		uploads.Use(r.rateLimitMW.RateLimit(60, time.Minute)) // 60 requests per minute
		{
			uploads.POST("", r.uploadHandler.UploadFile)
			uploads.POST("/batch", r.uploadHandler.UploadBatch)
			uploads.POST("/cancel", r.uploadHandler.CancelUpload)
			uploads.GET("/progress/:uploadId", r.uploadHandler.GetProgress)
			uploads.GET("/progress/batch/:batchId", r.uploadHandler.GetBatchProgress)
			uploads.DELETE("/progress/:uploadId", r.uploadHandler.RemoveProgress)
		}

		presenceRoutes := auth.Group("/presence")
		presenceRoutes.Use(r.rateLimitMW.RateLimit(100, time.Minute)) // 100 requests per minute
		{
			presenceRoutes.GET("/:userId", r.presenceHandler.GetPresence)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
