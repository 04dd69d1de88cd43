package handler

import (
	"net/http"

	"lawmate-go/internal/model"
	"lawmate-go/internal/service"
	"lawmate-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ThreadHandler 负责会话线程的增删改查。
type ThreadHandler struct {
	threadService service.ThreadService
}

// NewThreadHandler 创建一个新的 ThreadHandler 实例。
func NewThreadHandler(threadService service.ThreadService) *ThreadHandler {
	return &ThreadHandler{threadService: threadService}
}

// CreateThreadRequest 定义了新建线程 API 的请求体结构。
type CreateThreadRequest struct {
	Title string `json:"title"`
}

// Create 新建一个会话线程。
func (h *ThreadHandler) Create(c *gin.Context) {
	var req CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		return
	}

	thread, err := h.threadService.Create(c.Request.Context(), user, req.Title)
	if err != nil {
		log.Errorf("Create: 创建线程失败, user: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "创建会话失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": thread})
}

// List 返回当前用户的全部线程。
func (h *ThreadHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	threads, err := h.threadService.List(c.Request.Context(), user)
	if err != nil {
		log.Errorf("List: 获取线程列表失败, user: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取会话列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": threads})
}

// Open 打开一个线程并返回其消息历史。
func (h *ThreadHandler) Open(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	threadID := c.Param("id")
	messages, err := h.threadService.Open(c.Request.Context(), user, threadID)
	if err != nil {
		status := statusForServiceError(err, http.StatusInternalServerError)
		c.JSON(status, gin.H{
			"code":    status,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// RenameThreadRequest 定义了重命名线程 API 的请求体结构。
type RenameThreadRequest struct {
	Title string `json:"title" binding:"required"`
}

// Rename 修改线程标题。
func (h *ThreadHandler) Rename(c *gin.Context) {
	var req RenameThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：title 不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		return
	}

	if err := h.threadService.Rename(c.Request.Context(), user, c.Param("id"), req.Title); err != nil {
		status := statusForServiceError(err, http.StatusInternalServerError)
		c.JSON(status, gin.H{
			"code":    status,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// Delete 删除一个线程及其全部消息。
func (h *ThreadHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	if err := h.threadService.Delete(c.Request.Context(), user, c.Param("id")); err != nil {
		status := statusForServiceError(err, http.StatusInternalServerError)
		c.JSON(status, gin.H{
			"code":    status,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "会话已删除"})
}

// currentUser 从上下文中取出 AuthMiddleware 注入的用户对象。
// 取不到说明中间件链路异常，直接以 500 终止请求。
func currentUser(c *gin.Context) *model.User {
	userValue, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil
	}
	user, ok := userValue.(*model.User)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "用户数据类型错误"})
		return nil
	}
	return user
}
