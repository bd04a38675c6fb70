package service

import (
	"context"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/observability"
	"github.com/kursadbilgin/attendance-engine/internal/queue"
	"go.uber.org/zap"
)

// transitionEmitter forwards state changes to the external sink. Publish
// failures are logged and counted but never fail the operation.
type transitionEmitter struct {
	publisher queue.TransitionPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func newTransitionEmitter(publisher queue.TransitionPublisher, logger *zap.Logger) transitionEmitter {
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	return transitionEmitter{publisher: publisher, logger: logger}
}

func (e transitionEmitter) emit(ctx context.Context, msg queue.TransitionMessage, at time.Time) {
	msg.OccurredAt = at.UTC()
	if msg.CorrelationID == "" {
		msg.CorrelationID, _ = observability.CorrelationIDFromContext(ctx)
	}

	if err := e.publisher.PublishTransition(ctx, msg); err != nil {
		e.metrics.IncTransitionFailure(string(msg.Kind))
		observability.WithContextLogger(ctx, e.logger).Warn("failed to publish transition",
			zap.String("kind", string(msg.Kind)),
			zap.String("entityId", msg.EntityID),
			zap.String("to", msg.To),
			zap.Error(err),
		)
	}
}
