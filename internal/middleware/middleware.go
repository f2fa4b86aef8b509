// Package middleware provides the gin middleware of the tutor gateway:
// CORS, request logging, panic recovery and Supabase session identity.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Context keys set by the middleware.
const (
	KeyRequestID = "request_id"
	KeyUserID    = "user_id"
)

// CORS allows any origin and answers preflight requests with 204 and no body.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:   []string{"X-Request-ID"},
		MaxAge:          12 * time.Hour,
	})
}

// Preflight answers OPTIONS requests that carry no Origin header, which the
// CORS handler passes through untouched.
func Preflight() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Origin", "*")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Logging tags each request with an id and logs method, path, status,
// latency and client IP at a level chosen by status class.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}

		requestID := uuid.NewString()
		c.Set(KeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
			"bytes":      c.Writer.Size(),
		})
		switch {
		case status >= 500:
			entry.WithField("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()).Error("http request")
		case status >= 400:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// Recovery converts a panic into a 500 carrying the panic text.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("path", c.Request.URL.Path).Errorf("middleware: recovered from panic: %v", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "Internal server error",
					"details": fmt.Sprint(r),
				})
			}
		}()
		c.Next()
	}
}

// ErrInvalidToken is returned for bearer tokens that fail verification.
var ErrInvalidToken = errors.New("invalid session token")

// ParseUserID verifies an HS256 Supabase access token and returns its subject.
func ParseUserID(token, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Identity stores the verified user id of a bearer token under KeyUserID.
// Requests without a valid token continue anonymously. With an empty secret
// tokens are not inspected.
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.Next()
			return
		}
		userID, err := ParseUserID(strings.TrimPrefix(auth, "Bearer "), secret)
		if err != nil {
			log.WithField("client_ip", c.ClientIP()).Debug("middleware: ignoring invalid bearer token")
			c.Next()
			return
		}
		c.Set(KeyUserID, userID)
		c.Next()
	}
}

// UserID returns the verified user id set by Identity.
func UserID(c *gin.Context) (string, bool) {
	v := c.GetString(KeyUserID)
	return v, v != ""
}
