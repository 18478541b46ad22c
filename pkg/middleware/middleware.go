package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/metrics"
	"github.com/RetentionML/decisionflow/pkg/set"
	"github.com/gin-gonic/gin"
)

var (
	reqHeadersToLog *set.ThreadSafeSet
)

// InitHTTPMiddleware seeds the set of request headers worth echoing into the
// access log. Everything else is dropped to keep log lines bounded.
func InitHTTPMiddleware(headersToLog ...string) {
	reqHeadersToLog = set.NewThreadSafeSet()
	for _, header := range headersToLog {
		reqHeadersToLog.Add(strings.ToLower(header))
	}
}

// AccessLog logs one line per request and emits the request telemetry the
// dashboards key on.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestHeaders, _ := json.Marshal(filterHeaders(c.Request.Header))

		c.Next()

		statusCode := c.Writer.Status()
		responseTime := time.Since(startTime)

		logVariables := []string{
			c.Request.Method + " " + c.FullPath(),
			strconv.Itoa(statusCode),
			responseTime.String(),
			string(requestHeaders),
		}
		if statusCode >= http.StatusInternalServerError {
			var err error
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			logger.Error(strings.Join(logVariables, " | "), err)
		} else {
			logger.Info(strings.Join(logVariables, " | "))
		}
		telemetry(c.FullPath(), responseTime, statusCode)
	}
}

// Recovery converts a handler panic into a 500 without taking the process
// down with it.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("path", c.FullPath()).
					Msgf("Recovered in recovery middleware with err: %v, stack: %s", r, string(debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

func filterHeaders(headers http.Header) map[string][]string {
	filteredHeaders := make(map[string][]string)
	if reqHeadersToLog == nil {
		return filteredHeaders
	}
	for k, v := range headers {
		if reqHeadersToLog.Contains(strings.ToLower(k)) {
			filteredHeaders[k] = v
		}
	}
	return filteredHeaders
}

func telemetry(path string, responseTime time.Duration, statusCode int) {
	tags := []string{"api:" + path, "status:" + strconv.Itoa(statusCode)}
	metrics.Timing("decisionflow.router.api.request.latency", responseTime, tags)
	metrics.Count("decisionflow.router.api.request.total", 1, tags)
}
