package domain

import (
	"fmt"
	"strings"
	"time"
)

// IncentiveKind distinguishes monetary discounts from bonus content.
type IncentiveKind string

const (
	IncentiveDiscount IncentiveKind = "DISCOUNT"
	IncentiveBonus    IncentiveKind = "BONUS"
)

// Incentive is an optional sweetener attached to a template or a recovery rung.
type Incentive struct {
	Kind        IncentiveKind
	Percent     float64
	Description string
}

func (i *Incentive) Validate() error {
	if i == nil {
		return nil
	}
	switch i.Kind {
	case IncentiveDiscount:
		if i.Percent <= 0 || i.Percent > 100 {
			return fmt.Errorf("%w: discount percent must be in (0,100]", ErrValidation)
		}
	case IncentiveBonus:
		if strings.TrimSpace(i.Description) == "" {
			return fmt.Errorf("%w: bonus incentive needs a description", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: invalid incentive kind %q", ErrValidation, i.Kind)
	}
	return nil
}

// Label renders the incentive as short human copy.
func (i *Incentive) Label() string {
	if i == nil {
		return ""
	}
	if i.Kind == IncentiveDiscount {
		if d := strings.TrimSpace(i.Description); d != "" {
			return d
		}
		return fmt.Sprintf("%g%% off", i.Percent)
	}
	return i.Description
}

// Offset is a signed send-time offset relative to event start.
type Offset struct {
	Days    int
	Hours   int
	Minutes int
}

func (o Offset) Duration() time.Duration {
	return time.Duration(o.Days)*24*time.Hour +
		time.Duration(o.Hours)*time.Hour +
		time.Duration(o.Minutes)*time.Minute
}

// Targeting is the predicate a profile must satisfy to receive a template.
type Targeting struct {
	States            []AttendanceState
	MinScore          int
	MaxScore          *int
	RequiresPriorOpen bool
}

// TemplateGroup separates event reminder sequences from recovery and intervention copy.
type TemplateGroup string

const (
	GroupAttendance   TemplateGroup = "attendance"
	GroupRecovery     TemplateGroup = "recovery"
	GroupIntervention TemplateGroup = "intervention"
)

// Template is externally supplied notification content. The core never mutates it.
type Template struct {
	ID        string
	Name      string
	Group     TemplateGroup
	Offset    Offset
	Targeting Targeting
	Channels  []Channel
	Urgent    bool
	PinTime   bool
	Incentive *Incentive
	Subject   string
	Content   string
}

// Allows reports whether the channel whitelist admits ch. An empty whitelist admits all.
func (t *Template) Allows(ch Channel) bool {
	if len(t.Channels) == 0 {
		return true
	}
	for _, allowed := range t.Channels {
		if allowed == ch {
			return true
		}
	}
	return false
}

func (t *Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if strings.TrimSpace(t.Content) == "" {
		return fmt.Errorf("%w: template %s has no content", ErrValidation, t.ID)
	}
	switch t.Group {
	case "", GroupAttendance, GroupRecovery, GroupIntervention:
	default:
		return fmt.Errorf("%w: template %s has unknown group %q", ErrValidation, t.ID, t.Group)
	}
	if t.Targeting.MinScore < 0 || t.Targeting.MinScore > 100 {
		return fmt.Errorf("%w: template %s min score out of range", ErrValidation, t.ID)
	}
	if maxScore := t.Targeting.MaxScore; maxScore != nil {
		if *maxScore < 0 || *maxScore > 100 {
			return fmt.Errorf("%w: template %s max score out of range", ErrValidation, t.ID)
		}
		if *maxScore < t.Targeting.MinScore {
			return fmt.Errorf("%w: template %s max score below min score", ErrValidation, t.ID)
		}
	}
	for _, st := range t.Targeting.States {
		if !st.IsValid() {
			return fmt.Errorf("%w: template %s targets invalid state %q", ErrValidation, t.ID, st)
		}
	}
	for _, ch := range t.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: template %s lists invalid channel %q", ErrValidation, t.ID, ch)
		}
	}
	if err := t.Incentive.Validate(); err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	return nil
}
