package server

import (
	"fmt"
	"net/http"
	"os"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/techagentng/notify/server/response"
)

func (s *Server) setupRouter() *gin.Engine {
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "test" {
		r := gin.New()
		s.defineRoutes(r)
		return r
	}

	r := gin.New()

	// LoggerWithFormatter middleware will write the logs to gin.DefaultWriter
	// By default gin.DefaultWriter = os.Stdout
	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Internal-Token"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	s.defineRoutes(r)

	return r
}

func (s *Server) defineRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth())

	apirouter := router.Group("/api/v1")
	apirouter.GET("/ws/notifications", s.handleWebSocket())

	authorized := apirouter.Group("/")
	authorized.Use(s.Authorize())
	authorized.GET("/notifications", s.handleGetNotifications())
	authorized.GET("/notifications/unread/count", s.handleGetUnreadCount())
	authorized.GET("/notifications/stats", s.handleGetNotificationStats())
	authorized.PUT("/notifications/:id/read", s.handleMarkNotificationAsRead())
	authorized.PUT("/notifications/read", s.handleMarkMultipleAsRead())
	authorized.PUT("/notifications/read-all", s.handleMarkAllAsRead())
	authorized.DELETE("/notifications/:id", s.handleDeleteNotification())

	internal := apirouter.Group("/internal")
	internal.Use(s.internalOnly())
	internal.Use(internalRateLimiter())
	internal.POST("/notifications/send", s.handleInternalSend())
	internal.POST("/notifications/broadcast", s.handleInternalBroadcast())
}

func internalRateLimiter() gin.HandlerFunc {
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Second,
		Limit: 50,
	})
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			response.JSON(c, "Too many requests", http.StatusTooManyRequests, nil, nil)
			c.Abort()
		},
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	})
}
