// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lawmate-go/internal/config"
	"lawmate-go/internal/model"
	"lawmate-go/internal/push"
	"lawmate-go/internal/repository"
	"lawmate-go/internal/store"
	"lawmate-go/pkg/backoff"
	"lawmate-go/pkg/log"
	"lawmate-go/pkg/relay"
	"lawmate-go/pkg/tasks"

	"github.com/google/uuid"
)

// 默认的系统指令，config 中未配置 relay.system_prompt 时使用。
const defaultSystemPrompt = "You are a study assistant for law students. " +
	"Answer questions about legal concepts, cases and doctrines clearly and concisely, " +
	"and remind the user that your answers are study aids, not legal advice."

// 中继错误信息不可用时兜底的用户可读文案。
const genericDeliveryError = "AI 服务暂时不可用，请稍后重试"

// MessageNotifier 把消息生命周期事件推送给用户的客户端（由 push.Hub 实现）。
type MessageNotifier interface {
	Notify(userID uint, event string, message *model.Message)
}

// DeliveryEventPublisher 发布消息投递事件（由 kafka.Producer 实现）。
type DeliveryEventPublisher interface {
	PublishDeliveryEvent(event tasks.MessageDeliveryEvent) error
}

// TokenMinter 为后台自动重投签发新的会话凭证（由 UserService 实现）。
// 失败投递可能在很久之后才重投，记下的原 token 届时可能已过期。
type TokenMinter interface {
	MintFor(userID uint) (string, error)
}

// ChatService 定义了消息投递与重试的业务接口。
type ChatService interface {
	// Send 投递一条用户消息并获取助手回复。
	// content 去除首尾空白后为空时是空操作：返回 (nil, nil, nil)，不产生任何 I/O。
	Send(ctx context.Context, user *model.User, token, threadID, content string) (userMsg, assistantMsg *model.Message, err error)
	// Retry 对一条失败的消息执行有界重试。中间失败只记日志并按退避策略
	// 继续；达到尝试上限后进入终态失败并把错误上抛。
	Retry(ctx context.Context, user *model.User, token, messageID string) (*model.Message, error)
	// ResyncFailed 重投所有被记住的失败投递，供网络恢复在线时调用。
	// 同步执行，调用方决定是否放入独立协程。
	ResyncFailed()
}

// pendingDelivery 记录一次失败投递重投所需的最小上下文。
type pendingDelivery struct {
	userID    uint
	threadID  string
	messageID string
	token     string
}

type chatService struct {
	messageRepo repository.MessageRepository
	threadRepo  repository.ThreadRepository
	convStore   *store.ConversationStore
	relayClient relay.Client
	notifier    MessageNotifier
	publisher   DeliveryEventPublisher
	tokens      TokenMinter

	policy       backoff.Policy
	maxRetries   int
	freshContext bool
	historyLimit int
	systemPrompt string

	failedMu         sync.Mutex
	failedDeliveries map[string]pendingDelivery
}

// NewChatService 创建一个新的 ChatService 实例。
// 系统指令在这里加载一次，整个服务生命周期内不再变化。
func NewChatService(
	messageRepo repository.MessageRepository,
	threadRepo repository.ThreadRepository,
	convStore *store.ConversationStore,
	relayClient relay.Client,
	notifier MessageNotifier,
	publisher DeliveryEventPublisher,
	tokens TokenMinter,
	chatCfg config.ChatConfig,
	relayCfg config.RelayConfig,
) ChatService {
	policy := backoff.Default()
	if chatCfg.BaseDelayMs > 0 {
		policy.Base = time.Duration(chatCfg.BaseDelayMs) * time.Millisecond
	}
	if chatCfg.CapDelayMs > 0 {
		policy.Cap = time.Duration(chatCfg.CapDelayMs) * time.Millisecond
	}
	maxRetries := chatCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}
	systemPrompt := relayCfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	return &chatService{
		messageRepo:      messageRepo,
		threadRepo:       threadRepo,
		convStore:        convStore,
		relayClient:      relayClient,
		notifier:         notifier,
		publisher:        publisher,
		tokens:           tokens,
		policy:           policy,
		maxRetries:       maxRetries,
		freshContext:     chatCfg.RetryFreshContext,
		historyLimit:     chatCfg.HistoryLimit,
		systemPrompt:     systemPrompt,
		failedDeliveries: make(map[string]pendingDelivery),
	}
}

// Send 执行一次完整的消息投递：
// 1) 先把用户消息乐观地放进会话存储（任何网络 I/O 之前）；
// 2) 持久化用户消息；
// 3) 用 系统指令 + 有序历史 + 新消息 调用中继；
// 4) 成功则持久化并追加助手回复；
// 5) 任一步失败则把用户消息标记为失败，并上抛单条可读错误。
func (s *chatService) Send(ctx context.Context, user *model.User, token, threadID, content string) (*model.Message, *model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		// 空输入按空操作处理，不是错误
		return nil, nil, nil
	}

	thread, err := s.threadRepo.FindByID(ctx, threadID)
	if err != nil {
		return nil, nil, ErrThreadNotFound
	}
	if thread.UserID != user.ID {
		return nil, nil, ErrThreadForbidden
	}

	s.ensureLoaded(ctx, threadID)

	userMsg := &model.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      model.RoleUser,
		Content:   content,
		Pending:   true,
		CreatedAt: time.Now(),
	}

	// 乐观更新：消息先进入会话存储并推送给客户端，再发起网络调用
	s.convStore.Append(ctx, threadID, userMsg)
	s.notifier.Notify(user.ID, push.EventPending, userMsg)

	assistant, err := s.deliver(ctx, token, userMsg)
	if err != nil {
		log.Warnf("消息投递失败: messageId=%s, err=%v", userMsg.ID, err)
		s.markFailed(ctx, user.ID, token, userMsg, 0)
		return userMsg, nil, surfaceError(err)
	}

	s.completeDelivery(ctx, user.ID, userMsg, assistant, 0)
	return userMsg, assistant, nil
}

// Retry 对一条失败消息执行有界的重试循环（显式循环而非递归）。
// 第一次重试（attempt=0）不等待；之后每次按 Delay(attempt) 退避。
func (s *chatService) Retry(ctx context.Context, user *model.User, token, messageID string) (*model.Message, error) {
	userMsg, err := s.lookupMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if userMsg.Role != model.RoleUser {
		return nil, ErrNotUserMessage
	}
	if !userMsg.Failed {
		return nil, ErrMessageNotFailed
	}

	thread, err := s.threadRepo.FindByID(ctx, userMsg.ThreadID)
	if err != nil {
		return nil, ErrThreadNotFound
	}
	if thread.UserID != user.ID {
		return nil, ErrThreadForbidden
	}

	s.ensureLoaded(ctx, userMsg.ThreadID)

	// 重新进入投递中状态
	userMsg.Failed = false
	userMsg.Pending = true
	s.convStore.Update(ctx, userMsg.ThreadID, userMsg.ID, func(m *model.Message) {
		m.Failed = false
		m.Pending = true
	})
	s.notifier.Notify(user.ID, push.EventPending, userMsg)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt >= s.maxRetries {
			// 重试耗尽，进入终态失败
			s.markFailed(ctx, user.ID, token, userMsg, attempt)
			return nil, surfaceError(lastErr)
		}
		if attempt > 0 {
			// 第一次重试不等待；此后按指数退避挂起，同时尊重取消
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.policy.Delay(attempt)):
			}
		}

		assistant, err := s.deliver(ctx, token, userMsg)
		if err != nil {
			// 中间失败静默重试，只记日志
			lastErr = err
			log.Warnf("重试投递失败: messageId=%s, attempt=%d, err=%v", userMsg.ID, attempt, err)
			continue
		}

		s.completeDelivery(ctx, user.ID, userMsg, assistant, attempt)
		return assistant, nil
	}
}

// ResyncFailed 把记住的失败投递全部重投一遍。
// 列表在进入时被一次性取走，保证一次网络恢复只触发一轮重投；
// 重投再次终态失败的消息会被重新记录，等待下一次恢复。
func (s *chatService) ResyncFailed() {
	s.failedMu.Lock()
	pending := make([]pendingDelivery, 0, len(s.failedDeliveries))
	for _, d := range s.failedDeliveries {
		pending = append(pending, d)
	}
	s.failedDeliveries = make(map[string]pendingDelivery)
	s.failedMu.Unlock()

	if len(pending) == 0 {
		return
	}
	log.Infof("网络恢复，开始重投 %d 条失败消息", len(pending))

	for _, d := range pending {
		// 记下的凭证可能早已过期，优先签发一个新的；签发失败再退回原凭证
		bearer := d.token
		if s.tokens != nil {
			if fresh, err := s.tokens.MintFor(d.userID); err == nil {
				bearer = fresh
			} else {
				log.Warnf("签发重投凭证失败，沿用原凭证: userId=%d, err=%v", d.userID, err)
			}
		}
		owner := &model.User{ID: d.userID}
		if _, err := s.Retry(context.Background(), owner, bearer, d.messageID); err != nil {
			log.Warnf("自动重投失败: messageId=%s, err=%v", d.messageID, err)
		}
	}
}

// deliver 执行一次投递尝试：持久化用户消息、调用中继、持久化助手回复。
// 重试路径会重复进入，持久化必须幂等（主键固定，Save 即 upsert）。
func (s *chatService) deliver(ctx context.Context, token string, userMsg *model.Message) (*model.Message, error) {
	if err := s.messageRepo.Save(ctx, userMsg); err != nil {
		return nil, err
	}

	prompt := s.buildPrompt(userMsg)
	answer, err := s.relayClient.ChatCompletion(ctx, token, prompt)
	if err != nil {
		return nil, err
	}

	assistant := &model.Message{
		ID:        uuid.NewString(),
		ThreadID:  userMsg.ThreadID,
		Role:      model.RoleAssistant,
		Content:   answer,
		CreatedAt: time.Now(),
	}
	if err := s.messageRepo.Save(ctx, assistant); err != nil {
		return nil, err
	}
	return assistant, nil
}

// buildPrompt 组装发送给中继的消息列表：系统指令 + 历史 + 当前用户消息。
// freshContext 为 false 时，重试只使用不晚于失败消息的历史，避免上下文漂移。
func (s *chatService) buildPrompt(userMsg *model.Message) []relay.Message {
	snapshot := s.convStore.Snapshot(userMsg.ThreadID)

	history := make([]relay.Message, 0, len(snapshot))
	for _, m := range snapshot {
		if m.ID == userMsg.ID || m.Pending || m.Failed {
			continue
		}
		if !s.freshContext && m.CreatedAt.After(userMsg.CreatedAt) {
			continue
		}
		history = append(history, relay.Message{Role: m.Role, Content: m.Content})
	}
	if s.historyLimit > 0 && len(history) > s.historyLimit {
		history = history[len(history)-s.historyLimit:]
	}

	messages := make([]relay.Message, 0, len(history)+2)
	messages = append(messages, relay.Message{Role: model.RoleSystem, Content: s.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, relay.Message{Role: model.RoleUser, Content: userMsg.Content})
	return messages
}

// completeDelivery 在一次交换成功后收尾：更新标志、持久化、追加助手
// 回复、推送事件并发布 delivered 事件。
func (s *chatService) completeDelivery(ctx context.Context, userID uint, userMsg, assistant *model.Message, attempt int) {
	userMsg.Pending = false
	userMsg.Failed = false
	userMsg.RetryCount = attempt

	s.convStore.Update(ctx, userMsg.ThreadID, userMsg.ID, func(m *model.Message) {
		m.Pending = false
		m.Failed = false
		m.RetryCount = attempt
	})
	if err := s.messageRepo.Save(ctx, userMsg); err != nil {
		// 投递本身已成功，状态落库失败只记日志
		log.Errorf("更新消息投递状态失败: messageId=%s, err=%v", userMsg.ID, err)
	}

	s.convStore.Append(ctx, assistant.ThreadID, assistant)

	s.forgetFailed(userMsg.ID)

	s.notifier.Notify(userID, push.EventDelivered, userMsg)
	s.notifier.Notify(userID, push.EventAssistant, assistant)
	s.publishEvent(tasks.EventMessageDelivered, userID, userMsg)
	s.publishEvent(tasks.EventMessageDelivered, userID, assistant)
}

// markFailed 把用户消息置为失败态并记录重投上下文。
// pending 与 failed 互斥：置失败的同时必须清掉 pending。
func (s *chatService) markFailed(ctx context.Context, userID uint, token string, userMsg *model.Message, attempt int) {
	userMsg.Pending = false
	userMsg.Failed = true
	userMsg.RetryCount = attempt

	s.convStore.Update(ctx, userMsg.ThreadID, userMsg.ID, func(m *model.Message) {
		m.Pending = false
		m.Failed = true
		m.RetryCount = attempt
	})
	if err := s.messageRepo.Save(ctx, userMsg); err != nil {
		log.Errorf("更新消息失败状态失败: messageId=%s, err=%v", userMsg.ID, err)
	}

	s.failedMu.Lock()
	s.failedDeliveries[userMsg.ID] = pendingDelivery{
		userID:    userID,
		threadID:  userMsg.ThreadID,
		messageID: userMsg.ID,
		token:     token,
	}
	s.failedMu.Unlock()

	s.notifier.Notify(userID, push.EventFailed, userMsg)
	s.publishEvent(tasks.EventMessageFailed, userID, userMsg)
}

// forgetFailed 清除一条消息的重投记录。
func (s *chatService) forgetFailed(messageID string) {
	s.failedMu.Lock()
	delete(s.failedDeliveries, messageID)
	s.failedMu.Unlock()
}

// lookupMessage 先查会话存储，未命中再回源数据库。
func (s *chatService) lookupMessage(ctx context.Context, messageID string) (*model.Message, error) {
	if _, found, ok := s.convStore.FindMessage(messageID); ok {
		m := found
		return &m, nil
	}
	message, err := s.messageRepo.FindByID(ctx, messageID)
	if err != nil {
		return nil, ErrMessageNotFound
	}
	return message, nil
}

// ensureLoaded 保证线程历史已加载：先取缓存快照，再用数据库结果覆盖。
func (s *chatService) ensureLoaded(ctx context.Context, threadID string) {
	if s.convStore.Loaded(threadID) {
		return
	}
	s.convStore.LoadCached(ctx, threadID)
	messages, err := s.messageRepo.FindByThread(ctx, threadID)
	if err != nil {
		log.Warnf("加载线程历史失败: threadId=%s, err=%v", threadID, err)
		return
	}
	s.convStore.Replace(ctx, threadID, messages)
}

// publishEvent 发布一条投递事件到 Kafka，失败只记日志。
func (s *chatService) publishEvent(eventType string, userID uint, message *model.Message) {
	event := tasks.MessageDeliveryEvent{
		Type:       eventType,
		MessageID:  message.ID,
		ThreadID:   message.ThreadID,
		UserID:     userID,
		Role:       message.Role,
		Content:    message.Content,
		RetryCount: message.RetryCount,
		Timestamp:  time.Now(),
	}
	if err := s.publisher.PublishDeliveryEvent(event); err != nil {
		log.Warnf("发布投递事件失败: messageId=%s, type=%s, err=%v", message.ID, eventType, err)
	}
}

// surfaceError 把底层错误折叠成一条用户可读的错误。
// 中继响应体里的 message 字段原样透出，其余情况使用通用文案。
func surfaceError(err error) error {
	var relayErr *relay.Error
	if errors.As(err, &relayErr) && relayErr.Message != "" {
		return errors.New(relayErr.Message)
	}
	return errors.New(genericDeliveryError)
}
