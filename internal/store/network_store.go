package store

import "sync"

// NetworkStore 是进程级的连通性标志。
// 初始值为 true：在第一次探测结果到达之前，一律假定在线。
// 订阅者只在状态发生跳变时收到通知；离线恢复在线的那次通知
// 是触发失败消息自动重投的信号。
type NetworkStore struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// NewNetworkStore 创建一个新的 NetworkStore，初始状态为在线。
func NewNetworkStore() *NetworkStore {
	return &NetworkStore{online: true}
}

// IsOnline 返回当前连通性标志。
func (s *NetworkStore) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe 注册一个状态跳变回调。回调在 SetOnline 的调用协程中同步执行。
func (s *NetworkStore) Subscribe(fn func(online bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// SetOnline 更新连通性标志。状态未变化时不做任何事；
// 发生跳变时逐个通知订阅者，每次跳变恰好通知一次。
func (s *NetworkStore) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]func(bool), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}
