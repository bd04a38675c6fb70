package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a schedule entry.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusOpened    Status = "OPENED"
	StatusClicked   Status = "CLICKED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusSent, StatusDelivered, StatusOpened, StatusClicked, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// allowedTransitions lists the statuses reachable from each non-terminal status.
var allowedTransitions = map[Status][]Status{
	StatusScheduled: {StatusSent, StatusFailed, StatusCancelled},
	StatusSent:      {StatusDelivered, StatusOpened, StatusClicked, StatusFailed},
	StatusOpened:    {StatusClicked, StatusDelivered},
	StatusClicked:   {StatusDelivered},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EntryKind separates template-driven entries from orchestrator interventions.
type EntryKind string

const (
	EntryKindTemplate     EntryKind = "TEMPLATE"
	EntryKindIntervention EntryKind = "INTERVENTION"
)

// DeliveryMetrics captures per-entry delivery timestamps.
type DeliveryMetrics struct {
	SentAt       *time.Time
	DeliveredAt  *time.Time
	OpenedAt     *time.Time
	ClickedAt    *time.Time
	ErrorMessage string
}

// ScheduleEntry is one planned outbound notification for one profile.
type ScheduleEntry struct {
	ID                string
	EventID           string
	ProfileID         string
	RecipientID       string
	TemplateID        string
	Kind              EntryKind
	Channel           Channel
	ScheduledAt       time.Time
	Status            Status
	Subject           string
	Content           string
	ProviderMessageID string
	Metrics           DeliveryMetrics
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (e *ScheduleEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: schedule entry id is required", ErrValidation)
	}
	if strings.TrimSpace(e.ProfileID) == "" {
		return fmt.Errorf("%w: schedule entry %s has no profile", ErrValidation, e.ID)
	}
	if !e.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, e.Channel)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	if strings.TrimSpace(e.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if limit := MaxContentLength(e.Channel); limit > 0 {
		if n := len([]rune(e.Content)); n > limit {
			return fmt.Errorf("%w: %s content exceeds %d characters (got %d)", ErrValidation, strings.ToLower(e.Channel.String()), limit, n)
		}
	}
	return nil
}

// Transition applies a status change observed at `at`. Timestamps for the
// observed milestone are recorded even when the status itself cannot move
// (e.g. an open reported after delivery), but a terminal status never changes.
// It returns true when Status changed.
func (e *ScheduleEntry) Transition(to Status, at time.Time, errMsg string) bool {
	stamp := func(dst **time.Time) {
		if *dst == nil {
			t := at
			*dst = &t
		}
	}

	switch to {
	case StatusSent:
		if e.Status == StatusScheduled {
			stamp(&e.Metrics.SentAt)
		}
	case StatusDelivered:
		if e.Status != StatusScheduled && e.Status != StatusFailed && e.Status != StatusCancelled {
			stamp(&e.Metrics.DeliveredAt)
		}
	case StatusOpened:
		if e.Status != StatusScheduled && e.Status != StatusFailed && e.Status != StatusCancelled {
			stamp(&e.Metrics.OpenedAt)
		}
	case StatusClicked:
		if e.Status != StatusScheduled && e.Status != StatusFailed && e.Status != StatusCancelled {
			stamp(&e.Metrics.OpenedAt)
			stamp(&e.Metrics.ClickedAt)
		}
	case StatusFailed:
		if !e.Status.IsTerminal() && e.Metrics.ErrorMessage == "" {
			e.Metrics.ErrorMessage = errMsg
		}
	}

	if e.Status.IsTerminal() || !CanTransition(e.Status, to) {
		return false
	}

	e.Status = to
	e.UpdatedAt = at
	return true
}

// Clone returns a deep copy of the entry.
func (e *ScheduleEntry) Clone() *ScheduleEntry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Metrics.SentAt = cloneTime(e.Metrics.SentAt)
	cp.Metrics.DeliveredAt = cloneTime(e.Metrics.DeliveredAt)
	cp.Metrics.OpenedAt = cloneTime(e.Metrics.OpenedAt)
	cp.Metrics.ClickedAt = cloneTime(e.Metrics.ClickedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
