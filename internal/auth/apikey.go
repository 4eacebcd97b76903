package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerName         = "X-API-Key"
	callbackHeaderName = "X-Callback-Token"
)

// APIKeyMiddleware validates the API key from the X-API-Key header or an
// Authorization bearer token. If apiKey is empty, authentication is disabled.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return tokenMiddleware(apiKey, "API key", func(c *gin.Context) string {
		if v := c.GetHeader(headerName); v != "" {
			return v
		}
		return bearer(c)
	})
}

// CallbackTokenMiddleware guards the provider callback endpoint. The token
// comes from X-Callback-Token, a bearer header, or ?token= since some
// providers can only sign the callback URL.
func CallbackTokenMiddleware(token string) gin.HandlerFunc {
	return tokenMiddleware(token, "callback token", func(c *gin.Context) string {
		if v := c.GetHeader(callbackHeaderName); v != "" {
			return v
		}
		if v := bearer(c); v != "" {
			return v
		}
		return c.Query("token")
	})
}

func tokenMiddleware(expected, label string, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		provided := extract(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + label,
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid " + label,
			})
			return
		}

		c.Next()
	}
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
