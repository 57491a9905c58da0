package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront/internal/auth"
	"storefront/internal/logkey"
	"storefront/internal/service"
)

const traceHeader = "X-Trace-Id"

// requestLogger assigns a trace id, logs the request and records metrics.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		trace := c.GetHeader(traceHeader)
		if trace == "" {
			trace = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logkey.WithTraceID(c.Request.Context(), trace))
		c.Header(traceHeader, trace)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))

		s.log.LogAttrs(c.Request.Context(), slog.LevelInfo, "http request",
			slog.String(logkey.TraceID, trace),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", elapsed),
		)
	}
}

// authenticate requires a valid bearer token.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token", Code: "Unauthorized"})
			return
		}
		claims, err := s.keys.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid token", Code: "Unauthorized"})
			return
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), auth.ClaimsKey, claims))
		c.Next()
	}
}

func (s *Server) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !claimsFrom(c).HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "forbidden", Code: service.CodeForbidden})
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) auth.Claims {
	claims, _ := c.Request.Context().Value(auth.ClaimsKey).(auth.Claims)
	return claims
}

func actorFrom(c *gin.Context) service.Actor {
	cl := claimsFrom(c)
	return service.Actor{UserID: cl.Subject, Admin: cl.HasRole(auth.RoleAdmin)}
}
