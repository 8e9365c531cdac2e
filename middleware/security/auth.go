package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const HeaderAuthorization = "Authorization"

type Options struct {
	Token string
	// 读取哪个请求头, 默认 Authorization
	Header string
}

// Middleware rejects requests without the configured bearer token. An empty
// Token lets everything through.
func Middleware(opts Options) gin.HandlerFunc {
	if opts.Header == "" {
		opts.Header = HeaderAuthorization
	}
	want := []byte(opts.Token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := strings.TrimSpace(c.GetHeader(opts.Header))
		// 兼容 Authorization: Bearer xxx
		if len(got) > 7 && strings.EqualFold(got[:7], "bearer ") {
			got = strings.TrimSpace(got[7:])
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
