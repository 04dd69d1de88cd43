package repository

import (
	"context"

	"lawmate-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 接口定义了消息的持久化操作。
type MessageRepository interface {
	// Save 写入或更新一条消息。主键由调用方生成，重试路径会对同一条
	// 消息重复调用 Save，因此写入必须幂等。
	Save(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByThread(ctx context.Context, threadID string) ([]model.Message, error)
	DeleteByThread(ctx context.Context, threadID string) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Save 写入或更新一条消息记录。
func (r *messageRepository) Save(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Save(message).Error
}

// FindByID 根据消息 ID 查找消息。
func (r *messageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// FindByThread 按创建时间升序返回某个线程的全部消息。
func (r *messageRepository) FindByThread(ctx context.Context, threadID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// DeleteByThread 删除某个线程下的全部消息（线程删除时级联调用）。
func (r *messageRepository) DeleteByThread(ctx context.Context, threadID string) error {
	return r.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&model.Message{}).Error
}
