package bot

import (
	"sync"

	"golang.org/x/time/rate"
)

// userLimiter throttles bursts per Telegram user in-process; the durable
// daily quota lives in the mix_quotas table. This only keeps one user from
// hammering the expensive commands inside a single process lifetime.
type userLimiter struct {
	limiters map[int64]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

func newUserLimiter(r rate.Limit, burst int) *userLimiter {
	return &userLimiter{
		limiters: make(map[int64]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Allow reports whether the user may proceed right now.
func (l *userLimiter) Allow(telegramID int64) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[telegramID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[telegramID] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
