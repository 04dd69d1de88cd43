// Package backoff 提供了重试之间的指数退避策略。
package backoff

import "time"

// 默认退避参数：2s 起步，封顶 30s。
const (
	DefaultBase = 2 * time.Second
	DefaultCap  = 30 * time.Second
)

// Policy 是一个纯粹的、确定性的退避策略：
// Delay(attempt) = min(Base * 2^attempt, Cap)。
// attempt 从 0 开始计数，对应第一次重试（不含最初的那次发送）。
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// Default 返回默认参数的退避策略。
func Default() Policy {
	return Policy{Base: DefaultBase, Cap: DefaultCap}
}

// Delay 计算第 attempt 次重试前应等待的时长。无副作用。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		// 提前封顶，同时避免大 attempt 下的移位溢出
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}
