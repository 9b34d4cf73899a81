package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"kazi/internal/config"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID = "user_id"
	ContextRoles  = "roles"
)

// AuthMiddleware enforces Authorization: Bearer <jwt> when cfg.JWT.Enabled.
// On success it injects "user_id" (from user_id or sub) and "roles".
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	if cfg == nil || !cfg.JWT.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	secret := cfg.JWT.Secret
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			unauthorized(c, "missing bearer token")
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])
		if token == "" || secret == "" {
			unauthorized(c, "invalid token or server misconfig")
			return
		}
		claims, err := ValidateHS256(token, secret, time.Now())
		if err != nil {
			unauthorized(c, err.Error())
			return
		}
		if uid := subject(claims); uid != "" {
			c.Set(ContextUserID, uid)
		}
		if roles := normalizeStringList(claims["roles"]); len(roles) > 0 {
			c.Set(ContextRoles, roles)
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" when auth is off.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "Unauthorized",
		"message": msg,
	})
}

// subject normalises user_id/sub to a string; numeric ids are printed without decimals.
func subject(claims map[string]interface{}) string {
	v, ok := claims["user_id"]
	if !ok {
		v = claims["sub"]
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

func normalizeStringList(v interface{}) []string {
	var raw []string
	switch t := v.(type) {
	case []interface{}:
		for _, it := range t {
			if s, ok := it.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = t
	case string:
		raw = strings.Split(t, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
