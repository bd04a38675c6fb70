package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttendanceState tracks where a recipient is in the event funnel.
type AttendanceState string

const (
	AttendanceRegistered AttendanceState = "REGISTERED"
	AttendanceReminded   AttendanceState = "REMINDED"
	AttendanceConfirmed  AttendanceState = "CONFIRMED"
	AttendanceAttended   AttendanceState = "ATTENDED"
	AttendanceNoShow     AttendanceState = "NO_SHOW"
	AttendanceCancelled  AttendanceState = "CANCELLED"
)

func (s AttendanceState) String() string { return string(s) }

func (s AttendanceState) IsValid() bool {
	switch s {
	case AttendanceRegistered, AttendanceReminded, AttendanceConfirmed,
		AttendanceAttended, AttendanceNoShow, AttendanceCancelled:
		return true
	}
	return false
}

// IsOpen reports whether the recipient may still attend.
func (s AttendanceState) IsOpen() bool {
	switch s {
	case AttendanceRegistered, AttendanceReminded, AttendanceConfirmed:
		return true
	}
	return false
}

func ParseAttendanceStateFromString(s string) (AttendanceState, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	st := AttendanceState(normalized)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid attendance state %q", ErrValidation, s)
	}
	return st, nil
}

// InteractionType is a recipient action fed back into the profile.
type InteractionType string

const (
	InteractionOpen   InteractionType = "OPEN"
	InteractionClick  InteractionType = "CLICK"
	InteractionJoin   InteractionType = "JOIN"
	InteractionNoShow InteractionType = "NO_SHOW"
)

func (t InteractionType) IsValid() bool {
	switch t {
	case InteractionOpen, InteractionClick, InteractionJoin, InteractionNoShow:
		return true
	}
	return false
}

func ParseInteractionTypeFromString(s string) (InteractionType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	it := InteractionType(normalized)
	if !it.IsValid() {
		return "", fmt.Errorf("%w: invalid interaction type %q", ErrValidation, s)
	}
	return it, nil
}

// BehaviorPatterns holds the deterministic, score-banded behaviour estimates.
type BehaviorPatterns struct {
	BestContactHour          int
	AverageResponseMinutes   int
	ChannelAffinity          map[Channel]float64
	HistoricalAttendanceRate float64
	UrgencyResponsiveness    float64
	IncentiveResponsiveness  float64
}

// EngagementProfile is the per-recipient, per-event behavioural profile.
type EngagementProfile struct {
	ID               string
	RecipientID      string
	EventID          string
	RegisteredAt     time.Time
	AttendanceState  AttendanceState
	EngagementScore  int
	PreferredChannel Channel
	Patterns         BehaviorPatterns
	OpenCount        int
	UpdatedAt        time.Time
}

// Affinity returns the channel affinity, 0 when unknown.
func (p *EngagementProfile) Affinity(ch Channel) float64 {
	if p == nil || p.Patterns.ChannelAffinity == nil {
		return 0
	}
	return p.Patterns.ChannelAffinity[ch]
}

// Clone returns a deep copy so callers never share the affinity map.
func (p *EngagementProfile) Clone() *EngagementProfile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Patterns.ChannelAffinity != nil {
		cp.Patterns.ChannelAffinity = make(map[Channel]float64, len(p.Patterns.ChannelAffinity))
		for ch, v := range p.Patterns.ChannelAffinity {
			cp.Patterns.ChannelAffinity[ch] = v
		}
	}
	return &cp
}

// Normalize clamps score and rates back into their ranges.
func (p *EngagementProfile) Normalize() {
	p.EngagementScore = ClampInt(p.EngagementScore, 0, 100)
	p.Patterns.HistoricalAttendanceRate = ClampFloat(p.Patterns.HistoricalAttendanceRate, 0, 1)
	p.Patterns.UrgencyResponsiveness = ClampFloat(p.Patterns.UrgencyResponsiveness, 0, 1)
	p.Patterns.IncentiveResponsiveness = ClampFloat(p.Patterns.IncentiveResponsiveness, 0, 1)
	for ch, v := range p.Patterns.ChannelAffinity {
		p.Patterns.ChannelAffinity[ch] = ClampFloat(v, 0, 1)
	}
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ClampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
