package queue

import (
	"context"
	"fmt"
)

const (
	// TransitionExchange is a topic exchange keyed by TransitionMessage.RoutingKey.
	TransitionExchange = "attendance.transitions"
	// DefaultAbandonmentQueue receives AbandonmentMessage payloads.
	DefaultAbandonmentQueue = "attendance.abandoned"

	dlxExchangeName = "attendance.dlx"
)

// TransitionPublisher emits state transitions to an external sink.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, msg TransitionMessage) error
	Close() error
}

// AbandonmentHandler handles a consumed abandonment event.
type AbandonmentHandler func(ctx context.Context, msg AbandonmentMessage) error

// Consumer consumes abandonment events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler AbandonmentHandler) error
	Close() error
}

// NopPublisher drops transitions. Used when TRANSITION_SINK=none.
type NopPublisher struct{}

func (NopPublisher) PublishTransition(context.Context, TransitionMessage) error { return nil }

func (NopPublisher) Close() error { return nil }

// DLQName returns the dead-letter queue of a work queue, e.g. dlq.attendance.abandoned.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
