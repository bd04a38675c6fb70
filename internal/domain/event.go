package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventStatus is the lifecycle state of a live event.
type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventActive    EventStatus = "ACTIVE"
	EventCompleted EventStatus = "COMPLETED"
)

func (s EventStatus) String() string { return string(s) }

// Event is a scheduled live session recipients register for.
type Event struct {
	ID              string
	Title           string
	Host            string
	StartsAt        time.Time
	Duration        time.Duration
	Timezone        string
	JoinURL         string
	Capacity        int
	RegisteredCount int
	Status          EventStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: event title is required", ErrValidation)
	}
	if e.StartsAt.IsZero() {
		return fmt.Errorf("%w: event start time is required", ErrValidation)
	}
	if e.Capacity < 0 {
		return fmt.Errorf("%w: event capacity cannot be negative", ErrValidation)
	}
	if _, err := e.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the event timezone, defaulting to UTC.
func (e *Event) Location() (*time.Location, error) {
	tz := strings.TrimSpace(e.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q", ErrValidation, e.Timezone)
	}
	return loc, nil
}

// SpotsLeft returns remaining capacity, or -1 when capacity is unbounded.
func (e *Event) SpotsLeft() int {
	if e.Capacity <= 0 {
		return -1
	}
	left := e.Capacity - e.RegisteredCount
	if left < 0 {
		return 0
	}
	return left
}
