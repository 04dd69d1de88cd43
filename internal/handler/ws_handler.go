package handler

import (
	"net/http"

	"lawmate-go/internal/push"
	"lawmate-go/internal/service"
	"lawmate-go/pkg/log"
	"lawmate-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// WSHandler 负责建立推送消息事件的 WebSocket 连接。
type WSHandler struct {
	hub         *push.Hub
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewWSHandler 创建一个新的 WSHandler。
func NewWSHandler(hub *push.Hub, userService service.UserService, jwtManager *token.JWTManager) *WSHandler {
	return &WSHandler{
		hub:         hub,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// Handle 处理一个传入的 WebSocket 连接。
// token 走 URL 路径而不是请求头：浏览器的 WebSocket API 无法自定义请求头。
func (h *WSHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}

	h.hub.Register(user.ID, conn)
	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	defer func() {
		h.hub.Unregister(user.ID, conn)
		conn.Close()
		log.Infof("WebSocket 连接已关闭，用户: %s", claims.Username)
	}()

	// 推送是单向的：读循环只用于感知客户端断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			return
		}
	}
}
