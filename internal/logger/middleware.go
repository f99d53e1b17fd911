package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLoggingMiddleware puts a request id on the request context and logs
// every bridge call. An incoming X-Request-ID header is reused and echoed.
func RequestLoggingMiddleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.Request.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		ctx := WithRequestID(c.Request.Context(), requestID)
		ctx = WithOperation(ctx, c.FullPath())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		log := logger.WithContext(ctx).WithComponent("http")

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
