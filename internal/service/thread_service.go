package service

import (
	"context"
	"strings"
	"time"

	"lawmate-go/internal/config"
	"lawmate-go/internal/model"
	"lawmate-go/internal/repository"
	"lawmate-go/internal/store"
	"lawmate-go/pkg/es"
	"lawmate-go/pkg/log"

	"github.com/google/uuid"
)

// ThreadService 定义了会话线程的业务操作。
type ThreadService interface {
	Create(ctx context.Context, user *model.User, title string) (*model.Thread, error)
	List(ctx context.Context, user *model.User) ([]model.Thread, error)
	// Open 打开一个线程并返回其有序消息列表。
	// 先用缓存快照快速填充，再以数据库结果为准整体覆盖。
	Open(ctx context.Context, user *model.User, threadID string) ([]model.Message, error)
	Rename(ctx context.Context, user *model.User, threadID, title string) error
	// Delete 删除线程及其全部消息，并清理缓存快照与搜索索引。
	Delete(ctx context.Context, user *model.User, threadID string) error
}

type threadService struct {
	threadRepo  repository.ThreadRepository
	messageRepo repository.MessageRepository
	convStore   *store.ConversationStore
}

// NewThreadService 创建一个新的 ThreadService 实例。
func NewThreadService(threadRepo repository.ThreadRepository, messageRepo repository.MessageRepository, convStore *store.ConversationStore) ThreadService {
	return &threadService{
		threadRepo:  threadRepo,
		messageRepo: messageRepo,
		convStore:   convStore,
	}
}

// Create 新建一个会话线程，标题为空时使用默认标题。
func (s *threadService) Create(ctx context.Context, user *model.User, title string) (*model.Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "新会话"
	}
	thread := &model.Thread{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	if err := s.threadRepo.Create(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// List 返回当前用户的全部线程，按创建时间倒序。
func (s *threadService) List(ctx context.Context, user *model.User) ([]model.Thread, error) {
	return s.threadRepo.FindByUser(ctx, user.ID)
}

// Open 打开线程并加载消息历史。
func (s *threadService) Open(ctx context.Context, user *model.User, threadID string) ([]model.Message, error) {
	if _, err := s.ownedThread(ctx, user, threadID); err != nil {
		return nil, err
	}

	// 缓存快照先行，让已有会话立即可见
	s.convStore.LoadCached(ctx, threadID)

	// 数据库是事实来源，结果整体覆盖内存与缓存
	messages, err := s.messageRepo.FindByThread(ctx, threadID)
	if err != nil {
		// 回源失败时退回缓存快照（可能为空）
		log.Warnf("加载线程消息失败，退回缓存快照: threadId=%s, err=%v", threadID, err)
		return s.convStore.Snapshot(threadID), nil
	}
	s.convStore.Replace(ctx, threadID, messages)
	return s.convStore.Snapshot(threadID), nil
}

// Rename 修改线程标题。
func (s *threadService) Rename(ctx context.Context, user *model.User, threadID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if _, err := s.ownedThread(ctx, user, threadID); err != nil {
		return err
	}
	return s.threadRepo.UpdateTitle(ctx, threadID, title)
}

// Delete 删除线程。消息记录级联删除；缓存与搜索索引的清理
// 是尽力而为的，失败只记日志。
func (s *threadService) Delete(ctx context.Context, user *model.User, threadID string) error {
	if _, err := s.ownedThread(ctx, user, threadID); err != nil {
		return err
	}

	if err := s.messageRepo.DeleteByThread(ctx, threadID); err != nil {
		return err
	}
	if err := s.threadRepo.Delete(ctx, threadID); err != nil {
		return err
	}

	s.convStore.Evict(ctx, threadID)
	if err := es.DeleteThreadMessages(ctx, config.Conf.Elasticsearch.IndexName, threadID); err != nil {
		log.Warnf("清理线程搜索索引失败: threadId=%s, err=%v", threadID, err)
	}
	return nil
}

// ownedThread 查找线程并校验归属。
func (s *threadService) ownedThread(ctx context.Context, user *model.User, threadID string) (*model.Thread, error) {
	thread, err := s.threadRepo.FindByID(ctx, threadID)
	if err != nil {
		return nil, ErrThreadNotFound
	}
	if thread.UserID != user.ID {
		return nil, ErrThreadForbidden
	}
	return thread, nil
}
