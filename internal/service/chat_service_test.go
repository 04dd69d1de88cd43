package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"lawmate-go/internal/config"
	"lawmate-go/internal/model"
	"lawmate-go/internal/push"
	"lawmate-go/internal/store"
	"lawmate-go/pkg/log"
	"lawmate-go/pkg/relay"
	"lawmate-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// fakeRelay 可编程的中继客户端：前 failures 次调用返回 err，之后返回 answer。
type fakeRelay struct {
	mu       sync.Mutex
	calls    int
	prompts  [][]relay.Message
	tokens   []string
	failures int
	err      error
	answer   string
}

func (r *fakeRelay) ChatCompletion(ctx context.Context, token string, messages []relay.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.prompts = append(r.prompts, messages)
	r.tokens = append(r.tokens, token)
	if r.failures != 0 {
		if r.failures > 0 {
			r.failures--
		}
		if r.err != nil {
			return "", r.err
		}
		return "", errors.New("connection refused")
	}
	return r.answer, nil
}

func (r *fakeRelay) Ping(ctx context.Context) error { return nil }

func (r *fakeRelay) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRelay) lastToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) == 0 {
		return ""
	}
	return r.tokens[len(r.tokens)-1]
}

// fakeMinter 可编程的重投凭证签发器。
type fakeMinter struct {
	mu    sync.Mutex
	token string
	err   error
}

func (m *fakeMinter) MintFor(userID uint) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.err
}

func (m *fakeMinter) set(token string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.err = err
}

// fakeMessageRepo 内存实现，按写入顺序保存消息。
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*model.Message
	order    []string
	saveErr  error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*model.Message)}
}

func (r *fakeMessageRepo) Save(ctx context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.messages[message.ID]; !ok {
		r.order = append(r.order, message.ID)
	}
	copied := *message
	r.messages[message.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMessageRepo) FindByThread(ctx context.Context, threadID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, id := range r.order {
		if r.messages[id].ThreadID == threadID {
			out = append(out, *r.messages[id])
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) DeleteByThread(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, id := range r.order {
		if r.messages[id].ThreadID == threadID {
			delete(r.messages, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return nil
}

func (r *fakeMessageRepo) saved(id string) *model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

// fakeThreadRepo 线程仓库的内存实现。
type fakeThreadRepo struct {
	mu      sync.Mutex
	threads map[string]*model.Thread
}

func (r *fakeThreadRepo) Create(ctx context.Context, thread *model.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[thread.ID] = thread
	return nil
}

func (r *fakeThreadRepo) FindByID(ctx context.Context, id string) (*model.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return t, nil
}

func (r *fakeThreadRepo) FindByUser(ctx context.Context, userID uint) ([]model.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Thread
	for _, t := range r.threads {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeThreadRepo) UpdateTitle(ctx context.Context, id, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	if !ok {
		return errors.New("record not found")
	}
	t.Title = title
	return nil
}

func (r *fakeThreadRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, id)
	return nil
}

type notifyRecord struct {
	userID uint
	event  string
	msgID  string
}

type fakeNotifier struct {
	mu      sync.Mutex
	records []notifyRecord
}

func (n *fakeNotifier) Notify(userID uint, event string, message *model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, notifyRecord{userID: userID, event: event, msgID: message.ID})
}

func (n *fakeNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.records))
	for _, r := range n.records {
		out = append(out, r.event)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []tasks.MessageDeliveryEvent
}

func (p *fakePublisher) PublishDeliveryEvent(event tasks.MessageDeliveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type chatFixture struct {
	svc       ChatService
	relay     *fakeRelay
	repo      *fakeMessageRepo
	convStore *store.ConversationStore
	notifier  *fakeNotifier
	publisher *fakePublisher
	minter    *fakeMinter
	user      *model.User
}

// newChatFixture 组装一套带内存依赖的 ChatService。
// 退避基数设为 1ms，测试中的重试几乎不等待。
func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	relayClient := &fakeRelay{answer: "Promissory estoppel prevents going back on a promise."}
	repo := newFakeMessageRepo()
	threads := &fakeThreadRepo{threads: map[string]*model.Thread{
		"t1": {ID: "t1", UserID: 7, Title: "合同法"},
	}}
	convStore := store.NewConversationStore(&nopCache{})
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}
	// 默认签发失败，重投沿用记下的原凭证
	minter := &fakeMinter{err: errors.New("minter unavailable")}

	svc := NewChatService(repo, threads, convStore, relayClient, notifier, publisher, minter,
		config.ChatConfig{
			MaxRetries:        4,
			BaseDelayMs:       1,
			CapDelayMs:        4,
			RetryFreshContext: true,
			HistoryLimit:      20,
		},
		config.RelayConfig{SystemPrompt: "你是法学学习助手"},
	)

	return &chatFixture{
		svc:       svc,
		relay:     relayClient,
		repo:      repo,
		convStore: convStore,
		notifier:  notifier,
		publisher: publisher,
		minter:    minter,
		user:      &model.User{ID: 7, Username: "stu"},
	}
}

// nopCache 丢弃一切的会话缓存。
type nopCache struct{}

func (nopCache) Get(ctx context.Context, threadID string) ([]model.Message, error) { return nil, nil }
func (nopCache) Put(ctx context.Context, threadID string, messages []model.Message) error {
	return nil
}
func (nopCache) Evict(ctx context.Context, threadID string) error { return nil }

func TestSendEmptyInputIsNoOp(t *testing.T) {
	f := newChatFixture(t)

	userMsg, assistant, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "   \n\t ")
	require.NoError(t, err)
	assert.Nil(t, userMsg)
	assert.Nil(t, assistant)

	// 没有任何网络调用，也没有新消息产生
	assert.Zero(t, f.relay.callCount())
	assert.Empty(t, f.convStore.Snapshot("t1"))
	assert.Empty(t, f.notifier.events())
}

func TestSendSuccessAppendsExchangeInOrder(t *testing.T) {
	f := newChatFixture(t)

	userMsg, assistant, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "什么是要约邀请？")
	require.NoError(t, err)
	require.NotNil(t, userMsg)
	require.NotNil(t, assistant)

	snapshot := f.convStore.Snapshot("t1")
	require.Len(t, snapshot, 2)
	assert.Equal(t, model.RoleUser, snapshot[0].Role)
	assert.Equal(t, model.RoleAssistant, snapshot[1].Role)
	assert.Equal(t, userMsg.ID, snapshot[0].ID)
	assert.Equal(t, assistant.ID, snapshot[1].ID)

	// 投递完成后 pending 清除、retryCount 归零
	assert.False(t, snapshot[0].Pending)
	assert.False(t, snapshot[0].Failed)
	assert.Zero(t, snapshot[0].RetryCount)

	// 两条消息都已落库
	assert.NotNil(t, f.repo.saved(userMsg.ID))
	assert.NotNil(t, f.repo.saved(assistant.ID))

	assert.Equal(t, []string{push.EventPending, push.EventDelivered, push.EventAssistant}, f.notifier.events())
	assert.Equal(t, []string{tasks.EventMessageDelivered, tasks.EventMessageDelivered}, f.publisher.eventTypes())
}

func TestSendBuildsPromptWithSystemAndHistory(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Send(ctx, f.user, "tok", "t1", "什么是要约？")
	require.NoError(t, err)
	_, _, err = f.svc.Send(ctx, f.user, "tok", "t1", "它和要约邀请的区别？")
	require.NoError(t, err)

	require.Len(t, f.relay.prompts, 2)
	second := f.relay.prompts[1]
	// 系统指令在首位，历史按序排列，新消息收尾
	require.Len(t, second, 4)
	assert.Equal(t, model.RoleSystem, second[0].Role)
	assert.Equal(t, "你是法学学习助手", second[0].Content)
	assert.Equal(t, "什么是要约？", second[1].Content)
	assert.Equal(t, model.RoleAssistant, second[2].Role)
	assert.Equal(t, "它和要约邀请的区别？", second[3].Content)
}

func TestSendFailureMarksMessageFailed(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1 // 一直失败

	userMsg, assistant, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.Error(t, err)
	require.NotNil(t, userMsg)
	assert.Nil(t, assistant)

	snapshot := f.convStore.Snapshot("t1")
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].Failed)
	assert.False(t, snapshot[0].Pending)

	// 首次投递只尝试一次，不在 Send 里重试
	assert.Equal(t, 1, f.relay.callCount())

	assert.Equal(t, []string{push.EventPending, push.EventFailed}, f.notifier.events())
	assert.Equal(t, []string{tasks.EventMessageFailed}, f.publisher.eventTypes())
}

func TestSendSurfacesRelayErrorMessage(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1
	f.relay.err = &relay.Error{Status: 429, Message: "rate limited"}

	_, _, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.Error(t, err)
	assert.Equal(t, "rate limited", err.Error())
}

func TestSendGenericErrorWhenRelayGivesNoDetail(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1 // connection refused，没有可读的 message

	_, _, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.Error(t, err)
	assert.Equal(t, genericDeliveryError, err.Error())
}

func TestRetrySucceedsAndClearsFailedState(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = 1 // 首次投递失败，重试成功

	userMsg, _, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.Error(t, err)

	assistant, err := f.svc.Retry(context.Background(), f.user, "tok", userMsg.ID)
	require.NoError(t, err)
	require.NotNil(t, assistant)

	snapshot := f.convStore.Snapshot("t1")
	require.Len(t, snapshot, 2)
	assert.False(t, snapshot[0].Failed)
	assert.False(t, snapshot[0].Pending)
	// 第一次重试（attempt=0）就成功
	assert.Zero(t, snapshot[0].RetryCount)
	assert.Equal(t, assistant.ID, snapshot[1].ID)
}

func TestRetryExhaustsAfterFourAttempts(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1

	userMsg, _, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.Error(t, err)
	assert.Equal(t, 1, f.relay.callCount())

	start := time.Now()
	_, err = f.svc.Retry(context.Background(), f.user, "tok", userMsg.ID)
	require.Error(t, err)

	// 恰好 4 次重试后进入终态，retryCount 固定为 4
	assert.Equal(t, 5, f.relay.callCount())
	snapshot := f.convStore.Snapshot("t1")
	require.Len(t, snapshot, 1)
	assert.True(t, snapshot[0].Failed)
	assert.False(t, snapshot[0].Pending)
	assert.Equal(t, 4, snapshot[0].RetryCount)

	// 失败状态同步落库
	saved := f.repo.saved(userMsg.ID)
	require.NotNil(t, saved)
	assert.True(t, saved.Failed)
	assert.Equal(t, 4, saved.RetryCount)

	// 退避基数 1ms、上限 4ms，整个循环应当很快结束
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryFirstAttemptHasNoDelay(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = 1

	userMsg, _, _ := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.NotNil(t, userMsg)

	start := time.Now()
	_, err := f.svc.Retry(context.Background(), f.user, "tok", userMsg.ID)
	require.NoError(t, err)
	// attempt=0 立即执行，不经过退避等待
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryRejectsNonFailedMessage(t *testing.T) {
	f := newChatFixture(t)

	userMsg, _, err := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.NoError(t, err)

	_, err = f.svc.Retry(context.Background(), f.user, "tok", userMsg.ID)
	require.Error(t, err)
	assert.Zero(t, f.convStore.Snapshot("t1")[0].RetryCount)
}

func TestRetryRejectsForeignThread(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1

	userMsg, _, _ := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.NotNil(t, userMsg)

	intruder := &model.User{ID: 99, Username: "other"}
	_, err := f.svc.Retry(context.Background(), intruder, "tok", userMsg.ID)
	require.Error(t, err)
}

func TestManualRetryOfTerminalMessageStartsFresh(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1

	userMsg, _, _ := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	_, err := f.svc.Retry(context.Background(), f.user, "tok", userMsg.ID)
	require.Error(t, err)
	assert.Equal(t, 4, f.convStore.Snapshot("t1")[0].RetryCount)

	// 终态消息仍可手动重试，尝试计数从 0 重新开始
	f.relay.failures = 0
	assistant, err := f.svc.Retry(context.Background(), f.user, "tok", userMsg.ID)
	require.NoError(t, err)
	require.NotNil(t, assistant)
	assert.Zero(t, f.convStore.Snapshot("t1")[0].RetryCount)
}

func TestResyncRetriesEachFailureOncePerRecovery(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1

	userMsg, _, _ := f.svc.Send(context.Background(), f.user, "tok", "t1", "hi")
	require.NotNil(t, userMsg)
	assert.Equal(t, 1, f.relay.callCount())

	netStore := store.NewNetworkStore()
	netStore.Subscribe(func(online bool) {
		if online {
			f.svc.ResyncFailed()
		}
	})

	// 离线恢复在线：触发一轮有界重投（4 次尝试后再次终态）
	f.relay.failures = -1
	netStore.SetOnline(false)
	netStore.SetOnline(true)
	assert.Equal(t, 5, f.relay.callCount())

	// 再次恢复在线：终态失败的消息被重新记录，再触发一轮
	f.relay.failures = 0
	netStore.SetOnline(false)
	netStore.SetOnline(true)
	assert.Equal(t, 6, f.relay.callCount())

	// 投递已成功，后续恢复不再重投
	netStore.SetOnline(false)
	netStore.SetOnline(true)
	assert.Equal(t, 6, f.relay.callCount())

	snapshot := f.convStore.Snapshot("t1")
	require.Len(t, snapshot, 2)
	assert.False(t, snapshot[0].Failed)
}

func TestResyncMintsFreshToken(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1

	userMsg, _, _ := f.svc.Send(context.Background(), f.user, "stale-tok", "t1", "hi")
	require.NotNil(t, userMsg)
	assert.Equal(t, "stale-tok", f.relay.lastToken())

	// 失败时记下的 token 可能过期，重投前签发新凭证
	f.minter.set("fresh-tok", nil)
	f.relay.failures = 0
	f.svc.ResyncFailed()

	assert.Equal(t, "fresh-tok", f.relay.lastToken())
	snapshot := f.convStore.Snapshot("t1")
	require.Len(t, snapshot, 2)
	assert.False(t, snapshot[0].Failed)
}

func TestResyncFallsBackToStoredToken(t *testing.T) {
	f := newChatFixture(t)
	f.relay.failures = -1

	userMsg, _, _ := f.svc.Send(context.Background(), f.user, "stale-tok", "t1", "hi")
	require.NotNil(t, userMsg)

	// 签发失败（fixture 默认）时沿用原凭证，不得丢弃重投
	f.relay.failures = 0
	f.svc.ResyncFailed()

	assert.Equal(t, "stale-tok", f.relay.lastToken())
	assert.False(t, f.convStore.Snapshot("t1")[0].Failed)
}
