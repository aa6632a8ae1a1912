// internal/middleware/middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"donation-guard/internal/service"
)

// RequestID attaches a request identifier, honoring an inbound
// X-Request-ID when the caller already set one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// Logger logs each request with latency and status.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Recovery converts panics into 500 responses.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString("request_id")),
				)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// CORS allows cross-origin requests from the donation frontends.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID, X-User-Email, X-User-Phone, X-Device-ID, X-Account-Created, X-Admin")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

const userContextKey = "user_context"

// Identity builds the caller's identity from the trusted headers set by
// the API gateway. Requests without X-User-ID are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing user identity"})
			return
		}

		user := service.UserContext{
			DonorID:   userID,
			Email:     c.GetHeader("X-User-Email"),
			Phone:     c.GetHeader("X-User-Phone"),
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			DeviceID:  c.GetHeader("X-Device-ID"),
			IsAdmin:   c.GetHeader("X-Admin") == "true",
		}
		if created := c.GetHeader("X-Account-Created"); created != "" {
			if t, err := time.Parse(time.RFC3339, created); err == nil {
				user.AccountCreatedAt = t
			}
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// UserFrom returns the identity attached by Identity.
func UserFrom(c *gin.Context) service.UserContext {
	if v, ok := c.Get(userContextKey); ok {
		if user, ok := v.(service.UserContext); ok {
			return user
		}
	}
	return service.UserContext{}
}
