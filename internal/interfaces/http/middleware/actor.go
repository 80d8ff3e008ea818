package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/erp/payroll/internal/domain/payroll"
	"github.com/erp/payroll/internal/infrastructure/auth"
	"github.com/erp/payroll/internal/infrastructure/logger"
	"github.com/erp/payroll/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Actor context keys
const (
	ActorKey      = "actor"
	ActorIDKey    = "actor_id"
	AuthHeaderKey = "Authorization"
)

// ActorConfig holds configuration for the actor middleware
type ActorConfig struct {
	// Resolver turns the bearer token into an actor
	Resolver auth.ActorResolver
	// SkipPaths are served without an actor
	SkipPaths []string
	// SkipPathPrefixes are served without an actor
	SkipPathPrefixes []string
	Logger           *zap.Logger
}

// Actor resolves the caller from the Authorization header and stores it in both
// the gin context and the request context. Requests without a valid token are
// answered with 401.
func Actor(cfg ActorConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if slices.Contains(cfg.SkipPaths, path) {
			c.Next()
			return
		}
		for _, prefix := range cfg.SkipPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		actor, err := cfg.Resolver.Resolve(c.Request.Context(), c.GetHeader(AuthHeaderKey))
		if err != nil {
			cfg.Logger.Warn("Actor resolution failed",
				zap.Error(err),
				zap.String("path", path),
				zap.String("request_id", GetRequestID(c)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, authErrorMessage(err), GetRequestID(c)))
			return
		}

		setActor(c, actor)
		c.Next()
	}
}

func setActor(c *gin.Context, actor payroll.Actor) {
	c.Set(ActorKey, actor)
	c.Set(ActorIDKey, actor.ID.String())
	ctx := payroll.ContextWithActor(c.Request.Context(), actor)
	ctx = logger.WithActorID(ctx, actor.ID.String())
	c.Request = c.Request.WithContext(ctx)
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "Authentication required"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		return "Token is not yet valid"
	case errors.Is(err, auth.ErrSessionRevoked):
		return "Session has been revoked"
	default:
		return "Invalid token"
	}
}

// GetActor returns the actor stored by the Actor middleware
func GetActor(c *gin.Context) (payroll.Actor, bool) {
	if v, ok := c.Get(ActorKey); ok {
		if actor, ok := v.(payroll.Actor); ok {
			return actor, true
		}
	}
	return payroll.ActorFromContext(c.Request.Context())
}

// RequireRole rejects actors holding none of the given roles
func RequireRole(roles ...payroll.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, "Authentication required", GetRequestID(c)))
			return
		}
		for _, role := range roles {
			if actor.HasRole(role) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden,
			dto.NewErrorResponseWithRequestID(dto.ErrCodeForbidden, "Insufficient permissions", GetRequestID(c)))
	}
}
