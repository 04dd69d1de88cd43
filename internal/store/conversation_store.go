// Package store 包含进程级的内存状态容器：当前会话的消息列表与网络状态。
// 它们通过显式的构造与注入传递，而不是散落的包级单例。
package store

import (
	"context"
	"sync"

	"lawmate-go/internal/model"
	"lawmate-go/internal/repository"
	"lawmate-go/pkg/log"
)

// ConversationStore 持有已打开线程的有序消息列表。
// 每次变更后会把快照镜像到 Redis 缓存；镜像是尽力而为的，
// 失败只记日志，绝不上抛给调用方。
type ConversationStore struct {
	mu      sync.RWMutex
	threads map[string][]*model.Message
	cache   repository.ConversationCache
}

// NewConversationStore 创建一个新的 ConversationStore。
func NewConversationStore(cache repository.ConversationCache) *ConversationStore {
	return &ConversationStore{
		threads: make(map[string][]*model.Message),
		cache:   cache,
	}
}

// Loaded 返回某个线程是否已加载到内存。
func (s *ConversationStore) Loaded(threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.threads[threadID]
	return ok
}

// LoadCached 尝试用缓存快照填充线程，返回是否命中。
// 只在线程尚未加载时生效，已加载的内存状态优先于缓存。
func (s *ConversationStore) LoadCached(ctx context.Context, threadID string) bool {
	if s.Loaded(threadID) {
		return false
	}
	messages, err := s.cache.Get(ctx, threadID)
	if err != nil {
		log.Warnf("读取会话缓存失败: threadId=%s, err=%v", threadID, err)
		return false
	}
	if messages == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; ok {
		return false
	}
	list := make([]*model.Message, 0, len(messages))
	for i := range messages {
		m := messages[i]
		list = append(list, &m)
	}
	s.threads[threadID] = list
	return true
}

// Replace 用远端结果整体替换线程的消息列表（远端为准），并刷新缓存快照。
func (s *ConversationStore) Replace(ctx context.Context, threadID string, messages []model.Message) {
	list := make([]*model.Message, 0, len(messages))
	for i := range messages {
		m := messages[i]
		list = append(list, &m)
	}

	s.mu.Lock()
	s.threads[threadID] = list
	snapshot := s.snapshotLocked(threadID)
	s.mu.Unlock()

	s.mirror(ctx, threadID, snapshot)
}

// Append 将一条消息追加到线程尾部并刷新缓存快照。
// 追加发生在任何网络往返之前，这是乐观更新的入口。
func (s *ConversationStore) Append(ctx context.Context, threadID string, message *model.Message) {
	s.mu.Lock()
	s.threads[threadID] = append(s.threads[threadID], message)
	snapshot := s.snapshotLocked(threadID)
	s.mu.Unlock()

	s.mirror(ctx, threadID, snapshot)
}

// Update 对线程内指定消息应用一次原地修改并刷新缓存快照。
// 返回是否找到了该消息。
func (s *ConversationStore) Update(ctx context.Context, threadID, messageID string, mutate func(*model.Message)) bool {
	s.mu.Lock()
	var found bool
	for _, m := range s.threads[threadID] {
		if m.ID == messageID {
			mutate(m)
			found = true
			break
		}
	}
	var snapshot []model.Message
	if found {
		snapshot = s.snapshotLocked(threadID)
	}
	s.mu.Unlock()

	if found {
		s.mirror(ctx, threadID, snapshot)
	}
	return found
}

// Snapshot 返回线程消息的有序副本。
func (s *ConversationStore) Snapshot(threadID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(threadID)
}

// FindMessage 在所有已加载线程中查找一条消息，返回其副本与所在线程。
func (s *ConversationStore) FindMessage(messageID string) (string, model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for threadID, list := range s.threads {
		for _, m := range list {
			if m.ID == messageID {
				return threadID, *m, true
			}
		}
	}
	return "", model.Message{}, false
}

// FailedMessages 返回所有已加载线程中处于失败状态的消息副本。
func (s *ConversationStore) FailedMessages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var failed []model.Message
	for _, list := range s.threads {
		for _, m := range list {
			if m.Failed {
				failed = append(failed, *m)
			}
		}
	}
	return failed
}

// Evict 从内存与缓存中移除线程（线程删除或会话关闭时调用）。
func (s *ConversationStore) Evict(ctx context.Context, threadID string) {
	s.mu.Lock()
	delete(s.threads, threadID)
	s.mu.Unlock()

	if err := s.cache.Evict(ctx, threadID); err != nil {
		log.Warnf("清除会话缓存失败: threadId=%s, err=%v", threadID, err)
	}
}

// snapshotLocked 在持锁状态下构造消息副本切片。
func (s *ConversationStore) snapshotLocked(threadID string) []model.Message {
	list := s.threads[threadID]
	snapshot := make([]model.Message, 0, len(list))
	for _, m := range list {
		snapshot = append(snapshot, *m)
	}
	return snapshot
}

// mirror 把快照写入缓存，失败只记日志。
func (s *ConversationStore) mirror(ctx context.Context, threadID string, snapshot []model.Message) {
	if err := s.cache.Put(ctx, threadID, snapshot); err != nil {
		log.Warnf("写入会话缓存失败: threadId=%s, err=%v", threadID, err)
	}
}
