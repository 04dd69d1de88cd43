// Package push 负责把消息生命周期事件通过 WebSocket 推送给用户的客户端。
package push

import (
	"encoding/json"
	"sync"
	"time"

	"lawmate-go/internal/model"
	"lawmate-go/pkg/log"

	"github.com/gorilla/websocket"
)

// 推送事件名：与消息的投递状态一一对应。
const (
	EventPending   = "pending"
	EventDelivered = "delivered"
	EventFailed    = "failed"
	EventAssistant = "assistant"
)

// writeWait 限制单次推送写入的耗时。慢客户端在超时后被剔除，
// 不会无限期地阻塞同一把锁下的其他通知。
const writeWait = 5 * time.Second

// Hub 维护每个用户当前打开的 WebSocket 连接，并向它们广播事件。
type Hub struct {
	mu    sync.Mutex
	conns map[uint][]*websocket.Conn
}

// NewHub 创建一个新的 Hub。
func NewHub() *Hub {
	return &Hub{conns: make(map[uint][]*websocket.Conn)}
}

// Register 登记一个用户的新连接。
func (h *Hub) Register(userID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[userID] = append(h.conns[userID], conn)
}

// Unregister 注销一个用户的连接。
func (h *Hub) Unregister(userID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.conns[userID]
	for i, c := range list {
		if c == conn {
			h.conns[userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Notify 向某个用户的全部连接推送一条消息事件。
// 写失败的连接会被直接剔除，由客户端自行重连。
func (h *Hub) Notify(userID uint, event string, message *model.Message) {
	payload := map[string]interface{}{
		"type":      "message",
		"event":     event,
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("序列化推送事件失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.conns[userID]
	alive := list[:0]
	for _, conn := range list {
		// gorilla 的连接要求单写者，写入必须在锁内串行；
		// 写超时保证一个不消费的客户端最多拖住 writeWait
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Warnf("推送消息事件失败，剔除连接: userId=%d, err=%v", userID, err)
			_ = conn.Close()
			continue
		}
		alive = append(alive, conn)
	}
	if len(alive) == 0 {
		delete(h.conns, userID)
	} else {
		h.conns[userID] = alive
	}
}
