// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色常量，与中继接口的 role 字段一致。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 代表一个会话中的单条消息。
// ID 在消息创建的瞬间由客户端侧生成（uuid），无需等待任何远端往返。
// Pending 与 Failed 是投递状态标志：投递中 pending=true；重试耗尽后
// failed=true。两者在任何时刻都不会同时为 true。
type Message struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ThreadID   string    `gorm:"index;size:36;not null" json:"threadId"`
	Role       string    `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Pending    bool      `json:"pending"`
	Failed     bool      `json:"failed"`
	RetryCount int       `json:"retryCount"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageDocument 是写入 Elasticsearch 的消息检索文档。
type MessageDocument struct {
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id"`
	UserID    uint      `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
