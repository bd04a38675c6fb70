package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stage is the funnel step at which a session was abandoned.
type Stage string

const (
	StageCartAbandoned          Stage = "CART_ABANDONED"
	StageCheckoutStarted        Stage = "CHECKOUT_STARTED"
	StagePaymentFailed          Stage = "PAYMENT_FAILED"
	StageRegistrationIncomplete Stage = "REGISTRATION_INCOMPLETE"
)

func (s Stage) String() string { return string(s) }

func (s Stage) IsValid() bool {
	switch s {
	case StageCartAbandoned, StageCheckoutStarted, StagePaymentFailed, StageRegistrationIncomplete:
		return true
	}
	return false
}

func ParseStageFromString(s string) (Stage, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	st := Stage(normalized)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid abandonment stage %q", ErrValidation, s)
	}
	return st, nil
}

// AttemptResult records how the recipient reacted to a recovery attempt.
type AttemptResult struct {
	Opened      bool
	Clicked     bool
	Recovered   bool
	OpenedAt    *time.Time
	ClickedAt   *time.Time
	RecoveredAt *time.Time
}

// RecoveryAttempt is one fired rung of a recovery ladder.
type RecoveryAttempt struct {
	ID                string
	AttemptNumber     int
	Channel           Channel
	TemplateID        string
	SentAt            time.Time
	Incentive         *Incentive
	ProviderMessageID string
	Error             string
	Result            AttemptResult
}

// AbandonedSession is an incomplete checkout or registration flow.
type AbandonedSession struct {
	ID              string
	RecipientID     string
	EventID         string
	Stage           Stage
	AbandonedAt     time.Time
	LastInteraction time.Time
	TotalValue      float64
	Currency        string
	Attempts        []RecoveryAttempt
	IsRecovered     bool
	RecoveredAt     *time.Time
	RecoveredValue  float64
}

// AttemptsForTemplate counts attempts already fired for a template.
func (s *AbandonedSession) AttemptsForTemplate(templateID string) int {
	n := 0
	for _, a := range s.Attempts {
		if a.TemplateID == templateID && a.Error == "" {
			n++
		}
	}
	return n
}

func (s *AbandonedSession) Clone() *AbandonedSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.RecoveredAt = cloneTime(s.RecoveredAt)
	cp.Attempts = make([]RecoveryAttempt, len(s.Attempts))
	for i, a := range s.Attempts {
		a.Result.OpenedAt = cloneTime(a.Result.OpenedAt)
		a.Result.ClickedAt = cloneTime(a.Result.ClickedAt)
		a.Result.RecoveredAt = cloneTime(a.Result.RecoveredAt)
		if a.Incentive != nil {
			inc := *a.Incentive
			a.Incentive = &inc
		}
		cp.Attempts[i] = a
	}
	return &cp
}

// JobStatus is the state of a due-time recovery job.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobFired   JobStatus = "FIRED"
	JobSkipped JobStatus = "SKIPPED"
)

// RecoveryJob is one armed rung of a recovery ladder waiting for its due time.
type RecoveryJob struct {
	ID         string
	SessionID  string
	Rung       int
	TemplateID string
	DueAt      time.Time
	Status     JobStatus
	Reason     string
}
