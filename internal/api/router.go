package api

import (
	"klepsydra/internal/api/handlers"
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/auth"
	"klepsydra/internal/core"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Accounting core.AccountingInterface
	Auth       *auth.Service
	Hub        *core.Hub
	Version    string
	CORSOrigin string // optional dev origin, empty disables CORS
	Logger     *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	// Set Gin mode based on logger
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.NoiseFilter(config.Logger))
	router.Use(middleware.ContentType())
	if config.CORSOrigin != "" {
		router.Use(corsMiddleware(config.CORSOrigin))
	}

	// Health check (no auth)
	healthHandler := handlers.NewHealthHandler()
	router.GET("/healthz", healthHandler.GetHealth)

	// Version (no auth), served on both prefixes for older clients
	versionHandler := handlers.NewVersionHandler(config.Version)
	router.GET("/api/version", versionHandler.GetVersion)
	router.GET("/api/v1/version", versionHandler.GetVersion)

	// Auth endpoints handle their own tokens, no middleware
	authHandler := handlers.NewAuthHandler(config.Auth, config.Logger)
	authGroup := router.Group("/api/v1/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/renew", authHandler.Renew)
		authGroup.POST("/logout", authHandler.Logout)
	}

	// Family routes (token + tenant scoped)
	family := router.Group("/api/v1/family/:tenant_id")
	family.Use(middleware.TokenAuth(config.Auth))
	family.Use(middleware.TenantScope())
	{
		// Children endpoints
		childrenHandler := handlers.NewChildrenHandler(config.Accounting, config.Logger)
		family.GET("/children", middleware.RequireParent(), childrenHandler.ListChildren)
		family.GET("/children/:id/remaining", childrenHandler.GetRemaining)

		// Task catalog and submissions
		tasksHandler := handlers.NewTasksHandler(config.Accounting, config.Logger)
		family.GET("/tasks", tasksHandler.ListTasks)
		family.GET("/children/:id/tasks", tasksHandler.ListChildTasks)
		family.POST("/children/:id/tasks/:task/submit", tasksHandler.SubmitTask)

		// Rewards
		rewardsHandler := handlers.NewRewardsHandler(config.Accounting, config.Logger)
		family.POST("/children/:id/reward", middleware.RequireParent(), rewardsHandler.GrantReward)
		family.GET("/children/:id/reward", rewardsHandler.ListRewards)

		// Usage reporting and charts
		usageHandler := handlers.NewUsageHandler(config.Accounting, config.Logger)
		family.POST("/children/:id/device/:device/heartbeat", usageHandler.Heartbeat)
		family.GET("/children/:id/usage", usageHandler.GetUsage)

		// Device registration
		devicesHandler := handlers.NewDevicesHandler(config.Accounting, config.Auth, config.Logger)
		family.POST("/children/:id/register", devicesHandler.Register)

		// Parent review queue
		notificationsHandler := handlers.NewNotificationsHandler(config.Accounting, config.Logger)
		notifications := family.Group("/notifications", middleware.RequireParent())
		{
			notifications.GET("", notificationsHandler.List)
			notifications.GET("/count", notificationsHandler.Count)
			notifications.POST("/task-submissions/:id/approve", notificationsHandler.Approve)
			notifications.POST("/task-submissions/:id/discard", notificationsHandler.Discard)
		}

		// Event stream
		eventsHandler := handlers.NewEventsHandler(config.Accounting, config.Hub, config.Logger)
		family.GET("/events", eventsHandler.Stream)
	}

	return router
}

// corsMiddleware allows a single configured web origin. Used for local
// front end development against a running server.
func corsMiddleware(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Origin") != origin {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
