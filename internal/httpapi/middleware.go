// Package httpapi assembles the gin router: the HTTP surface, the
// WebSocket upgrade endpoint, and their shared middleware stack.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llanx/UNITED/internal/apperrors"
	"github.com/llanx/UNITED/internal/identity"
	"github.com/llanx/UNITED/internal/moderation"
	"github.com/llanx/UNITED/internal/ratelimit"
)

// RequestID stamps every request with an id carried through to the
// request-scoped logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

// RequestLogger logs one structured line per request, tagging it with the
// request id RequestID() set.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		reqID, _ := c.Get("request_id")
		evt := log.Info()
		if len(c.Errors) > 0 {
			evt = log.Error()
		}
		evt.
			Str("request_id", toString(reqID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// Recovery converts a panic in one handler into a 500 response and a log
// entry. A fault stays confined to its request; the WebSocket side gets
// the same isolation from the per-connection actor in internal/gateway.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.Internal("").ToResponse())
			}
		}()
		c.Next()
	}
}

// ErrorHandler drains any error gin handlers attached via c.Error and
// writes the matching AppError response. Underlying details are logged,
// never written to the client.
func ErrorHandler(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		var ae *apperrors.AppError
		if !asAppError(err, &ae) {
			ae = apperrors.Internal(err.Error())
		}
		if ae.StatusCode >= 500 {
			log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("internal error")
		}
		c.JSON(ae.StatusCode, ae.ToResponse())
	}
}

func asAppError(err error, target **apperrors.AppError) bool {
	ae, ok := err.(*apperrors.AppError)
	if ok {
		*target = ae
	}
	return ok
}

// RateLimit applies a keyed leaky bucket to the endpoints it
// wraps, keyed by client IP.
func RateLimit(l *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apperrors.TooManyRequests("").ToResponse())
			return
		}
		c.Next()
	}
}

const contextClaimsKey = "identity_claims"

// AuthRequired validates the bearer access token and stores its claims in
// the gin context for downstream handlers.
func AuthRequired(tokens *identity.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.Unauthorized("missing bearer token").ToResponse())
			return
		}
		claims, err := tokens.ParseAccessToken(header[len(prefix):])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.Unauthorized("invalid or expired token").ToResponse())
			return
		}
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom retrieves the authenticated caller's claims, set by
// AuthRequired.
func ClaimsFrom(c *gin.Context) *identity.Claims {
	v, ok := c.Get(contextClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*identity.Claims)
	return claims
}

// RequirePermission aborts with 403 unless the caller's role bits (or
// owner status) satisfy perm.
func RequirePermission(mod *moderation.Service, perm int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.Unauthorized("").ToResponse())
			return
		}
		if claims.IsOwner {
			c.Next()
			return
		}
		bits, err := mod.RoleBits(c.Request.Context(), claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.Internal("").ToResponse())
			return
		}
		if !moderation.Allow(claims.IsOwner, bits, perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, apperrors.Forbidden("").ToResponse())
			return
		}
		c.Next()
	}
}
