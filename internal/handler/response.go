// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kb-assistant-go/internal/middleware"
	"kb-assistant-go/internal/model"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// currentUser 取出认证中间件写入的用户 ID，缺失时直接返回 401。
func currentUser(c *gin.Context) (model.UserID, bool) {
	id, found := middleware.UserID(c)
	if !found {
		fail(c, http.StatusUnauthorized, "unauthorized")
	}
	return id, found
}
