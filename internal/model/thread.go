package model

import "time"

// Thread 代表属于某个用户的一次有序、可命名的会话。
// 从客户端视角消息是追加写入的，线程上唯一允许的就地修改是标题更新。
type Thread struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Thread) TableName() string {
	return "threads"
}
