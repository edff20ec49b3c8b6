package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GinZapLogger logs one entry per request
func (l *Logger) GinZapLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", latency),
			zap.String("requestID", c.Writer.Header().Get("X-Request-ID")),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()))
		}

		switch {
		case status >= 500:
			l.Log.Error("Request", fields...)
		case status >= 400:
			l.Log.Warn("Request", fields...)
		default:
			l.Log.Info("Request", fields...)
		}
	}
}

// SetupGinWithZapLogger routes gin's own output through zap in release mode
func (l *Logger) SetupGinWithZapLogger() {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = &zapWriter{log: l.Log, level: zapcore.InfoLevel}
	gin.DefaultErrorWriter = &zapWriter{log: l.Log, level: zapcore.ErrorLevel}
}

// SetupGinWithZapLoggerInDevelopment keeps gin in debug mode but writes through zap
func (l *Logger) SetupGinWithZapLoggerInDevelopment() {
	gin.SetMode(gin.DebugMode)
	gin.DefaultWriter = &zapWriter{log: l.Log, level: zapcore.DebugLevel}
	gin.DefaultErrorWriter = &zapWriter{log: l.Log, level: zapcore.ErrorLevel}
}

type zapWriter struct {
	log   *zap.Logger
	level zapcore.Level
}

func (w *zapWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	if ce := w.log.Check(w.level, msg); ce != nil {
		ce.Write()
	}
	return len(p), nil
}
