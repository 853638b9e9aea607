// internal/pkg/identity/identity.go
package identity

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderUserID 由上游网关在校验 bearer token 后写入
const HeaderUserID = "X-User-Id"

const contextKey = "orderflow.userID"

// Require 拒绝没有已验证身份的请求
func Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authenticated user"})
			return
		}
		c.Set(contextKey, userID)
		c.Next()
	}
}

// UserID 返回 Require 放入上下文的用户 id
func UserID(c *gin.Context) string {
	return c.GetString(contextKey)
}
