// Package tasks 定义了通过 Kafka 传递的异步事件结构。
package tasks

import "time"

// 投递事件类型。
const (
	EventMessageDelivered = "message.delivered"
	EventMessageFailed    = "message.failed"
)

// MessageDeliveryEvent 描述一条消息的投递结果。
// 每条完成持久化的消息（用户消息、助手回复）各产生一个事件；
// 搜索索引管道消费 delivered 事件，failed 事件仅用于审计。
type MessageDeliveryEvent struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	UserID     uint      `json:"user_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}
