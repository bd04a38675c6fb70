package ratelimit

import (
	"context"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// RateLimiter throttles provider sends per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}

// Limits holds sends per second: Default for every channel unless PerChannel overrides it.
type Limits struct {
	Default    int
	PerChannel map[domain.Channel]int
}

const defaultLimitPerSec = 100

// For returns the effective per-second limit of a channel.
func (l Limits) For(channel domain.Channel) int {
	if v, ok := l.PerChannel[channel]; ok && v > 0 {
		return v
	}
	if l.Default > 0 {
		return l.Default
	}
	return defaultLimitPerSec
}

// Noop never throttles. Used when no limiter is configured.
type Noop struct{}

func (Noop) Allow(context.Context, domain.Channel) (bool, error) { return true, nil }

func (Noop) Wait(ctx context.Context, _ domain.Channel) error {
	return ctx.Err()
}
