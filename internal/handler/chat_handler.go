package handler

import (
	"errors"
	"net/http"

	"lawmate-go/internal/service"
	"lawmate-go/internal/store"
	"lawmate-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责消息投递相关的 API 请求。
type ChatHandler struct {
	chatService service.ChatService
	netStore    *store.NetworkStore
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, netStore *store.NetworkStore) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		netStore:    netStore,
	}
}

// SendMessageRequest 定义了发送消息 API 的请求体结构。
type SendMessageRequest struct {
	ThreadID string `json:"threadId" binding:"required"`
	Content  string `json:"content"`
}

// Send 投递一条用户消息并同步返回助手回复。
// 投递过程中的生命周期事件（pending/delivered/failed/assistant）
// 会通过 WebSocket 实时推送，响应体里是最终结果。
func (h *ChatHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：threadId 不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		return
	}
	accessToken := c.GetString("accessToken")

	userMsg, assistant, err := h.chatService.Send(c.Request.Context(), user, accessToken, req.ThreadID, req.Content)
	if err != nil {
		log.Warnf("Send: 消息投递失败, user: %s, error: %v", user.Username, err)
		status := statusForServiceError(err, http.StatusBadGateway)
		c.JSON(status, gin.H{
			"code":    status,
			"message": err.Error(),
			"data":    gin.H{"userMessage": userMsg},
		})
		return
	}
	if userMsg == nil {
		// 空输入是空操作
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"userMessage":      userMsg,
			"assistantMessage": assistant,
		},
	})
}

// RetryMessageRequest 定义了重试消息 API 的请求体结构。
type RetryMessageRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

// Retry 对一条失败的消息执行有界重试。
func (h *ChatHandler) Retry(c *gin.Context) {
	var req RetryMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：messageId 不能为空",
		})
		return
	}

	user := currentUser(c)
	if user == nil {
		return
	}
	accessToken := c.GetString("accessToken")

	assistant, err := h.chatService.Retry(c.Request.Context(), user, accessToken, req.MessageID)
	if err != nil {
		log.Warnf("Retry: 重试失败, user: %s, messageId: %s, error: %v", user.Username, req.MessageID, err)
		status := statusForServiceError(err, http.StatusBadGateway)
		c.JSON(status, gin.H{
			"code":    status,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"assistantMessage": assistant},
	})
}

// Status 返回当前到 AI 中继的连通性。
func (h *ChatHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"online": h.netStore.IsOnline()},
	})
}

// statusForServiceError 把业务错误折叠成 HTTP 状态码。
// 校验与归属类错误映射到对应的 4xx；其余按 fallback 处理
// （投递路径是 502，普通 CRUD 路径是 500）。
func statusForServiceError(err error, fallback int) int {
	switch {
	case errors.Is(err, service.ErrThreadNotFound), errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrThreadForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotUserMessage), errors.Is(err, service.ErrMessageNotFailed), errors.Is(err, service.ErrEmptyTitle):
		return http.StatusBadRequest
	default:
		return fallback
	}
}
