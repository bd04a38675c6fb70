package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

func TestLimitsFor(t *testing.T) {
	t.Parallel()

	limits := Limits{Default: 20, PerChannel: map[domain.Channel]int{domain.ChannelSMS: 5}}
	if got := limits.For(domain.ChannelSMS); got != 5 {
		t.Fatalf("For(sms) = %d, want 5", got)
	}
	if got := limits.For(domain.ChannelEmail); got != 20 {
		t.Fatalf("For(email) = %d, want 20", got)
	}
	if got := (Limits{}).For(domain.ChannelPush); got != defaultLimitPerSec {
		t.Fatalf("zero Limits For(push) = %d, want %d", got, defaultLimitPerSec)
	}
}

func TestLocalLimiterAllowPerChannel(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(Limits{Default: 1})
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, domain.ChannelSMS)
	if err != nil || !allowed {
		t.Fatalf("first sms Allow() = %v, %v", allowed, err)
	}
	allowed, _ = limiter.Allow(ctx, domain.ChannelSMS)
	if allowed {
		t.Fatal("second sms call in the same second should be rejected")
	}
	allowed, _ = limiter.Allow(ctx, domain.ChannelEmail)
	if !allowed {
		t.Fatal("email has its own bucket and should be allowed")
	}
}

func TestLocalLimiterRejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	_, err := NewLocalLimiter(Limits{}).Allow(context.Background(), domain.Channel("FAX"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Allow(FAX) error = %v, want ErrValidation", err)
	}
}

func TestLocalLimiterWaitHonoursDeadline(t *testing.T) {
	t.Parallel()

	limiter := NewLocalLimiter(Limits{Default: 1})
	_, _ = limiter.Allow(context.Background(), domain.ChannelPush)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, domain.ChannelPush); err == nil {
		t.Fatal("Wait() should fail when the next token is beyond the deadline")
	}
}
