package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// TransitionKind names the entity whose state changed.
type TransitionKind string

const (
	KindScheduleEntry   TransitionKind = "schedule_entry"
	KindRecoveryAttempt TransitionKind = "recovery_attempt"
	KindSession         TransitionKind = "abandoned_session"
	KindEvent           TransitionKind = "event"
	KindProfile         TransitionKind = "profile"
)

// TransitionMessage is emitted on every state change so an external
// persistence layer can follow the engine.
type TransitionMessage struct {
	Kind          TransitionKind `json:"kind"`
	EntityID      string         `json:"entityId"`
	EventID       string         `json:"eventId,omitempty"`
	RecipientID   string         `json:"recipientId,omitempty"`
	Channel       domain.Channel `json:"channel,omitempty"`
	From          string         `json:"from,omitempty"`
	To            string         `json:"to"`
	Error         string         `json:"error,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

func (m TransitionMessage) Validate() error {
	switch m.Kind {
	case KindScheduleEntry, KindRecoveryAttempt, KindSession, KindEvent, KindProfile:
	default:
		return fmt.Errorf("%w: invalid transition kind %q", domain.ErrValidation, m.Kind)
	}
	if strings.TrimSpace(m.EntityID) == "" {
		return fmt.Errorf("%w: entityId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: target state is required", domain.ErrValidation)
	}
	return nil
}

// RoutingKey is <kind>.<state>, e.g. schedule_entry.delivered.
func (m TransitionMessage) RoutingKey() string {
	return fmt.Sprintf("%s.%s", m.Kind, strings.ToLower(m.To))
}

// AbandonmentMessage is produced by the checkout flow when a session stalls.
type AbandonmentMessage struct {
	SessionID       string    `json:"sessionId,omitempty"`
	RecipientID     string    `json:"recipientId"`
	Name            string    `json:"name,omitempty"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	IntentScore     float64   `json:"intentScore,omitempty"`
	EventID         string    `json:"eventId,omitempty"`
	Stage           string    `json:"stage"`
	AbandonedAt     time.Time `json:"abandonedAt"`
	LastInteraction time.Time `json:"lastInteraction,omitempty"`
	TotalValue      float64   `json:"totalValue"`
	Currency        string    `json:"currency,omitempty"`
}

func (m AbandonmentMessage) Validate() error {
	if strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", domain.ErrValidation)
	}
	if _, err := domain.ParseStageFromString(m.Stage); err != nil {
		return err
	}
	if m.TotalValue < 0 {
		return fmt.Errorf("%w: totalValue cannot be negative", domain.ErrValidation)
	}
	return m.Recipient().Validate()
}

// Recipient returns the contact embedded in the message.
func (m AbandonmentMessage) Recipient() domain.Recipient {
	return domain.Recipient{
		ID:          strings.TrimSpace(m.RecipientID),
		Name:        m.Name,
		Email:       m.Email,
		Phone:       m.Phone,
		IntentScore: m.IntentScore,
	}
}
