package daemon

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-Id"

// ginLogger logs every request through logger. Clients may pass their own
// request id; one is generated otherwise and echoed back.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handler can change c.Path so:
		path := c.Request.URL.Path
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1000000.0))
		statusCode := c.Writer.Status()
		dataLength := max(c.Writer.Size(), 0)

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency, // ms
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
			"requestId":  reqID,
		})

		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
