package api

import (
	"github.com/gin-gonic/gin"
)

// currentUser 获取鉴权中间件注入的用户名
func currentUser(c *gin.Context) string {
	if user, exists := c.Get("user"); exists {
		if username, ok := user.(string); ok && username != "" {
			return username
		}
	}
	return "anonymous"
}

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// notFoundResponse 返回 404 响应
func notFoundResponse(c *gin.Context, resource string) {
	c.JSON(404, gin.H{
		"error": resource + " not found",
	})
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	c.JSON(400, gin.H{
		"error": message,
	})
}
