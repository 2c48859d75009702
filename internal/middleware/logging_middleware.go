package middleware

import (
	"time"

	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader заголовок с идентификатором запроса
const RequestIDHeader = "X-Request-ID"

// RequestLogger снабжает каждый HTTP-запрос идентификатором и пишет краткие логи.
// Идентификатор берётся из активного span (otelgin), иначе генерируется.
type RequestLogger struct {
	logger *logging.Logger
}

// NewRequestLogger nil означает глобальный логгер
func NewRequestLogger(l *logging.Logger) *RequestLogger {
	if l == nil {
		l = logging.Default()
	}
	return &RequestLogger{logger: l}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		var requestID string
		if span.SpanContext().IsValid() {
			requestID = span.SpanContext().TraceID().String()
		} else {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rl.logger.Debug("[HTTP] ▶ %s %s ip=%s id=%s", method, path, c.ClientIP(), requestID)

		c.Next()

		status := c.Writer.Status()
		if status >= 500 {
			rl.logger.Warn("[HTTP] ◀ %s %s %d %s id=%s", method, path, status, time.Since(start), requestID)
			return
		}
		rl.logger.Info("[HTTP] ◀ %s %s %d %s id=%s", method, path, status, time.Since(start), requestID)
	}
}
