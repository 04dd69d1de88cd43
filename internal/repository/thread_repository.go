package repository

import (
	"context"

	"lawmate-go/internal/model"

	"gorm.io/gorm"
)

// ThreadRepository 接口定义了会话线程的持久化操作。
type ThreadRepository interface {
	Create(ctx context.Context, thread *model.Thread) error
	FindByID(ctx context.Context, id string) (*model.Thread, error)
	FindByUser(ctx context.Context, userID uint) ([]model.Thread, error)
	UpdateTitle(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
}

type threadRepository struct {
	db *gorm.DB
}

// NewThreadRepository 创建一个新的 ThreadRepository 实例。
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

// Create 在数据库中创建一个新的线程记录。
func (r *threadRepository) Create(ctx context.Context, thread *model.Thread) error {
	return r.db.WithContext(ctx).Create(thread).Error
}

// FindByID 根据线程 ID 查找线程。
func (r *threadRepository) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	var thread model.Thread
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// FindByUser 按创建时间倒序返回某个用户的全部线程。
func (r *threadRepository) FindByUser(ctx context.Context, userID uint) ([]model.Thread, error) {
	var threads []model.Thread
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&threads).Error
	return threads, err
}

// UpdateTitle 更新线程标题，这是线程上唯一允许的就地修改。
func (r *threadRepository) UpdateTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).
		Model(&model.Thread{}).
		Where("id = ?", id).
		Update("title", title).Error
}

// Delete 删除线程记录本身，消息级联由服务层处理。
func (r *threadRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Thread{}).Error
}
