package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "inferbench/internal/errors"
)

// claimsContextKey gin上下文中认证声明的键
const claimsContextKey = "auth_claims"

// Middleware 基于Manager的gin认证中间件
type Middleware struct {
	manager   *Manager
	skipPaths map[string]bool
}

// NewMiddleware 创建认证中间件，skipPaths中的路径直接放行
func NewMiddleware(manager *Manager, skipPaths []string) *Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &Middleware{manager: manager, skipPaths: skip}
}

// Handler 认证检查。凭证非法时以AppError的错误码和状态码应答。
func (mw *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if mw.skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		claims, err := mw.manager.Authenticate(c.GetHeader("Authorization"))
		if err != nil {
			appErr := apperrors.GetAppError(err)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error": appErr.Message,
				"code":  string(appErr.Code),
			})
			c.Abort()
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireRole 要求已认证用户具有指定角色
func (mw *Middleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"code":  string(apperrors.ErrCodeUnauthorized),
			})
			c.Abort()
			return
		}

		if !claims.HasRole(role) {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "insufficient permissions",
				"code":  string(apperrors.ErrCodeForbidden),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetClaims 从gin上下文取出认证声明
func GetClaims(c *gin.Context) (*Claims, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*Claims)
	return claims, ok
}
