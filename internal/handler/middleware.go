package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"
	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/logger"
	"github.com/AvTe/RentConnect-sub000/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleAgent = "agent"
	RoleAdmin = "admin"

	ctxRequestID = "request_id"
	ctxSubject   = "subject"
	ctxRole      = "role"

	headerRequestID = "X-Request-ID"
)

// Claims is the JWT payload: sub is the agent or admin id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		}
		event.
			Str("request_id", c.GetString(ctxRequestID)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("subject", c.GetString(ctxSubject)).
			Msg("http request")
	}
}

func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Str("request_id", c.GetString(ctxRequestID)).
					Str("path", c.Request.URL.Path).
					Msg("panic recovered")
				response.Error(c, apperr.ErrInternal)
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware verifies the HS256 bearer token. With auth disabled every
// caller is treated as an admin.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		if cfg.Disabled {
			c.Set(ctxSubject, "local-dev")
			c.Set(ctxRole, RoleAdmin)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			response.Error(c, apperr.ErrUnauthorized)
			return
		}

		claims := &Claims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			response.Error(c, apperr.ErrUnauthorized.WithMessage(msg).WithError(err))
			return
		}
		sub, _ := claims.GetSubject()
		if sub == "" || (claims.Role != RoleAgent && claims.Role != RoleAdmin) {
			response.Error(c, apperr.ErrUnauthorized.WithMessage("Token is missing subject or role"))
			return
		}

		c.Set(ctxSubject, sub)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != RoleAdmin {
			response.Error(c, apperr.ErrForbidden.WithMessage("Admin role required"))
			return
		}
		c.Next()
	}
}

// authorizeAgent lets admins act for anyone and agents only for themselves.
func authorizeAgent(c *gin.Context, agentID string) error {
	if c.GetString(ctxRole) == RoleAdmin {
		return nil
	}
	if agentID == "" || agentID != c.GetString(ctxSubject) {
		return apperr.ErrForbidden
	}
	return nil
}

// agentFor resolves the acting agent: an explicit id must pass
// authorizeAgent, otherwise the token subject is used.
func agentFor(c *gin.Context, explicit string) (string, error) {
	if explicit == "" {
		if c.GetString(ctxRole) == RoleAdmin {
			return "", apperr.Validation("agentId is required")
		}
		return c.GetString(ctxSubject), nil
	}
	if err := authorizeAgent(c, explicit); err != nil {
		return "", err
	}
	return explicit, nil
}
