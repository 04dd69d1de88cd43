package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayFormula(t *testing.T) {
	p := Default()
	for attempt := 0; attempt <= 10; attempt++ {
		want := 2000 * time.Millisecond
		for i := 0; i < attempt; i++ {
			want *= 2
		}
		if want > 30000*time.Millisecond {
			want = 30000 * time.Millisecond
		}
		assert.Equal(t, want, p.Delay(attempt), "attempt=%d", attempt)
	}
}

func TestDelayMonotonic(t *testing.T) {
	p := Default()
	prev := time.Duration(0)
	for attempt := 0; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt=%d", attempt)
		prev = d
	}
}

func TestDelayCapped(t *testing.T) {
	p := Default()
	// 2000 * 2^4 = 32000 > 30000，从第 4 次重试起恒为封顶值
	for attempt := 4; attempt <= 64; attempt++ {
		assert.Equal(t, 30*time.Second, p.Delay(attempt), "attempt=%d", attempt)
	}
}

func TestDelayNegativeAttempt(t *testing.T) {
	p := Default()
	assert.Equal(t, p.Delay(0), p.Delay(-3))
}
