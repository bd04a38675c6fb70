package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalLimiter)(nil)

// LocalLimiter is an in-process token bucket per channel. It is the
// default limiter for single-instance deployments.
type LocalLimiter struct {
	limits   Limits
	mu       sync.Mutex
	limiters map[domain.Channel]*rate.Limiter
}

func NewLocalLimiter(limits Limits) *LocalLimiter {
	return &LocalLimiter{
		limits:   limits,
		limiters: make(map[domain.Channel]*rate.Limiter),
	}
}

func (l *LocalLimiter) limiter(channel domain.Channel) (*rate.Limiter, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, channel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[channel]
	if !ok {
		perSec := l.limits.For(channel)
		lim = rate.NewLimiter(rate.Limit(perSec), perSec)
		l.limiters[channel] = lim
	}
	return lim, nil
}

func (l *LocalLimiter) Allow(_ context.Context, channel domain.Channel) (bool, error) {
	lim, err := l.limiter(channel)
	if err != nil {
		return false, err
	}
	return lim.Allow(), nil
}

func (l *LocalLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	lim, err := l.limiter(channel)
	if err != nil {
		return err
	}
	return lim.Wait(ctx)
}
