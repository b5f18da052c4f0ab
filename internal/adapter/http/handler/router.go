package handler

import (
	"webhook-sync-engine/internal/adapter/http/middleware"
	redisStore "webhook-sync-engine/internal/adapter/storage/redis"
	"webhook-sync-engine/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	IngestSvc      ports.IngestService
	AuthSvc        ports.AuthService
	QueueAdminSvc  ports.QueueAdminService
	HealthSvc      ports.HealthService
	EventRepo      ports.EventRepository
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// --- Webhook ingestion (source auth happens inside the pipeline) ---
	webhookHandler := NewWebhookHandler(deps.IngestSvc)
	r.POST("/api/webhooks/:source", rl("webhooks"), webhookHandler.Receive)

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- JWT-authenticated routes (operator dashboard) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	queueHandler := NewQueueHandler(deps.QueueAdminSvc)
	dashboardHandler := NewDashboardHandler(deps.EventRepo, deps.HealthSvc)

	queue := v1.Group("/queue", jwtAuth)
	{
		queue.GET("/stats", rl("ops"), queueHandler.GetStats)
		queue.GET("/dead-letters", rl("ops"), queueHandler.ListDeadLetters)
		queue.POST("/dead-letters/:id/requeue", rl("ops"), queueHandler.RequeueDeadLetter)
	}

	events := v1.Group("/events", jwtAuth)
	{
		events.GET("", rl("ops"), dashboardHandler.ListEvents)
		events.GET("/:id", rl("ops"), dashboardHandler.GetEvent)
	}

	sources := v1.Group("/sources", jwtAuth)
	{
		sources.GET("/health", rl("ops"), dashboardHandler.SourceHealth)
	}

	return r
}
