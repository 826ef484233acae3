package httpgin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kirinyoku/showbook/internal/catalog"
	"go.uber.org/zap"
)

const (
	ctxRequestID = "request_id"
	ctxUserID    = "auth_user_id"
)

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		c.Writer.Header().Set("X-Request-ID", reqID)
		c.Set(ctxRequestID, reqID)

		c.Next()
	}
}

func CORS() gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"X-Request-ID",
			catalog.UserIDHeader,
			"Idempotency-Key",
			"If-None-Match",
		},
		ExposeHeaders: []string{
			"X-Request-ID",
			"ETag",
			"Cache-Control",
			"Retry-After",
			"Idempotency-Key",
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	return cors.New(cfg)
}

func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		reqID, _ := c.Get(ctxRequestID)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.String("ua", c.Request.UserAgent()),
			zap.Any("request_id", reqID),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes_out", c.Writer.Size()),
		}

		switch {
		case len(c.Errors) > 0 || status >= http.StatusInternalServerError:
			fields = append(fields, zap.String("errors", c.Errors.ByType(gin.ErrorTypeAny).String()))
			logger.Error("http", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("http", fields...)
		default:
			logger.Info("http", fields...)
		}
	}
}

var errBadToken = errors.New("invalid bearer token")

// IdentityMiddleware verifies an optional HS256 bearer token and stores its
// numeric subject as the caller's user id. Requests without a token pass
// through; the handlers then take the user id from the body or the
// X-User-Id header. With an empty secret tokens are ignored.
func IdentityMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.Next()
			return
		}

		userID, err := parseSubject(strings.TrimSpace(raw), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: errBadToken.Error()})
			return
		}

		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func parseSubject(raw, secret string) (int64, error) {
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}

	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadToken
	}

	return id, nil
}

// resolveUser picks the acting user. A verified token wins over the body and
// the X-User-Id header, and a different explicit id is refused with 403.
func resolveUser(c *gin.Context, claimed int64) (int64, bool) {
	if claimed == 0 {
		if h := c.GetHeader(catalog.UserIDHeader); h != "" {
			id, err := strconv.ParseInt(h, 10, 64)
			if err != nil || id <= 0 {
				badRequest(c, "invalid "+catalog.UserIDHeader)
				return 0, false
			}
			claimed = id
		}
	}

	if v, ok := c.Get(ctxUserID); ok {
		authID := v.(int64)
		if claimed != 0 && claimed != authID {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "user id does not match token"})
			return 0, false
		}
		return authID, true
	}

	if claimed <= 0 {
		badRequest(c, "user_id is required")
		return 0, false
	}

	return claimed, true
}
