package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origins is a parsed CORS_ALLOWED_ORIGINS value.
type Origins struct {
	any  bool
	list map[string]struct{}
}

// ParseOrigins accepts "*", an empty string (any origin) or a comma-separated list.
func ParseOrigins(s string) Origins {
	o := Origins{list: make(map[string]struct{})}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "*":
			o.any = true
		default:
			o.list[part] = struct{}{}
		}
	}
	if len(o.list) == 0 {
		o.any = true
	}
	return o
}

// Allow returns the Access-Control-Allow-Origin value for origin, or "" when it is rejected.
func (o Origins) Allow(origin string) string {
	if o.any {
		return "*"
	}
	if _, ok := o.list[origin]; ok {
		return origin
	}
	return ""
}

// CORS sets cross-origin headers for browser players and dashboards and answers preflights.
func CORS(allowedOrigins string) gin.HandlerFunc {
	origins := ParseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		if allow := origins.Allow(c.GetHeader("Origin")); allow != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "86400")
			if allow != "*" {
				h.Add("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
