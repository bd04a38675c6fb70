package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"go.uber.org/zap"
)

// PriorOpenPolicy decides how Targeting.RequiresPriorOpen is evaluated.
type PriorOpenPolicy string

const (
	// PriorOpenScoreHeuristic treats an engagement score of 60 or more as
	// "has opened a previous notification".
	PriorOpenScoreHeuristic PriorOpenPolicy = "score-heuristic"
	// PriorOpenHistory requires at least one recorded open or click.
	PriorOpenHistory PriorOpenPolicy = "history"

	priorOpenScoreThreshold = 60
	pastScheduleDelay       = 5 * time.Minute
)

func ParsePriorOpenPolicy(s string) (PriorOpenPolicy, error) {
	switch p := PriorOpenPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorOpenScoreHeuristic, nil
	case PriorOpenScoreHeuristic, PriorOpenHistory:
		return p, nil
	}
	return "", fmt.Errorf("%w: invalid prior open policy %q", domain.ErrValidation, s)
}

// entryNamespace seeds deterministic schedule entry ids.
var entryNamespace = uuid.MustParse("6f1c9a52-3b7e-5d0a-9c4e-2a8b1f7d3e60")

// Planner turns templates into a personalized, time-ordered schedule for one profile.
type Planner struct {
	priorOpen PriorOpenPolicy
	logger    *zap.Logger
	now       func() time.Time
}

func NewPlanner(priorOpen PriorOpenPolicy, logger *zap.Logger) (*Planner, error) {
	policy, err := ParsePriorOpenPolicy(string(priorOpen))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == PriorOpenHistory {
		logger.Info("prior open targeting uses recorded open history instead of the score heuristic")
	}

	return &Planner{priorOpen: policy, logger: logger, now: time.Now}, nil
}

// GenerateSchedule builds the entries of every matching template. Entry ids
// are derived from event, profile and template, so repeated calls with the
// same inputs produce the same entries as long as no time falls in the past.
func (p *Planner) GenerateSchedule(
	event *domain.Event,
	profile *domain.EngagementProfile,
	recipient domain.Recipient,
	templates []domain.Template,
) ([]domain.ScheduleEntry, error) {
	if event == nil || profile == nil {
		return nil, fmt.Errorf("%w: event and profile are required", domain.ErrValidation)
	}
	for i := range templates {
		if err := templates[i].Validate(); err != nil {
			return nil, err
		}
	}
	loc, err := event.Location()
	if err != nil {
		return nil, err
	}

	now := p.now()
	vars := eventPlaceholders(event, recipient, loc)
	entries := make([]domain.ScheduleEntry, 0, len(templates))

	for i := range templates {
		tpl := &templates[i]
		if tpl.Group != "" && tpl.Group != domain.GroupAttendance {
			continue
		}
		if !p.matches(tpl, profile) {
			continue
		}

		channel, ok := selectChannel(tpl, profile, recipient)
		if !ok {
			p.logger.Debug("template skipped, recipient unreachable on allowed channels",
				zap.String("templateId", tpl.ID),
				zap.String("profileId", profile.ID),
			)
			continue
		}

		entry := domain.ScheduleEntry{
			ID:          entryID(event.ID, profile.ID, tpl.ID),
			EventID:     event.ID,
			ProfileID:   profile.ID,
			RecipientID: profile.RecipientID,
			TemplateID:  tpl.ID,
			Kind:        domain.EntryKindTemplate,
			Channel:     channel,
			ScheduledAt: scheduledAt(event, tpl, profile, loc, now),
			Status:      domain.StatusScheduled,
			Subject:     render(tpl.Subject, withIncentive(vars, tpl.Incentive)),
			Content:     render(tpl.Content, withIncentive(vars, tpl.Incentive)),
		}
		if err := entry.Validate(); err != nil {
			p.logger.Warn("template skipped, rendered entry invalid",
				zap.String("templateId", tpl.ID),
				zap.String("profileId", profile.ID),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ScheduledAt.Equal(entries[j].ScheduledAt) {
			return entries[i].ScheduledAt.Before(entries[j].ScheduledAt)
		}
		return entries[i].TemplateID < entries[j].TemplateID
	})
	return entries, nil
}

func (p *Planner) matches(tpl *domain.Template, profile *domain.EngagementProfile) bool {
	t := tpl.Targeting
	if len(t.States) > 0 {
		found := false
		for _, st := range t.States {
			if st == profile.AttendanceState {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if profile.EngagementScore < t.MinScore {
		return false
	}
	if t.MaxScore != nil && profile.EngagementScore > *t.MaxScore {
		return false
	}
	if t.RequiresPriorOpen && !p.hasPriorOpen(profile) {
		return false
	}
	return true
}

func (p *Planner) hasPriorOpen(profile *domain.EngagementProfile) bool {
	if p.priorOpen == PriorOpenHistory {
		return profile.OpenCount > 0
	}
	return profile.EngagementScore >= priorOpenScoreThreshold
}

// scheduledAt applies the template offset, moves the time of day to the
// profile's best contact hour unless the template pins it, and pushes past
// times to now+5m. The override never moves a send to or past event start.
func scheduledAt(event *domain.Event, tpl *domain.Template, profile *domain.EngagementProfile, loc *time.Location, now time.Time) time.Time {
	baseline := event.StartsAt.Add(tpl.Offset.Duration()).In(loc)
	at := baseline

	if !tpl.PinTime {
		y, m, d := baseline.Date()
		override := time.Date(y, m, d, profile.Patterns.BestContactHour, 0, 0, 0, loc)
		if override.Before(event.StartsAt) {
			at = override
		}
	}

	if at.Before(now) {
		at = now.Add(pastScheduleDelay)
	}
	return at.UTC()
}

// selectChannel picks the delivery channel. Urgent templates prefer SMS when
// the profile has any SMS affinity; engaged profiles (score >= 80) use their
// preferred channel; everyone else gets email. A choice the template does not
// allow or the recipient cannot receive falls back to the template's channels
// in listed order.
func selectChannel(tpl *domain.Template, profile *domain.EngagementProfile, recipient domain.Recipient) (domain.Channel, bool) {
	var choice domain.Channel
	switch {
	case tpl.Urgent && profile.Affinity(domain.ChannelSMS) > 0:
		choice = domain.ChannelSMS
	case tpl.Urgent:
		choice = ""
	case profile.EngagementScore >= 80:
		choice = profile.PreferredChannel
	default:
		choice = domain.ChannelEmail
	}

	if choice != "" && tpl.Allows(choice) && recipient.Destination(choice) != "" {
		return choice, true
	}

	candidates := tpl.Channels
	if len(candidates) == 0 {
		candidates = domain.SupportedChannels
	}
	for _, ch := range candidates {
		if recipient.Destination(ch) == "" {
			continue
		}
		if ch.UsesPhone() && profile.Affinity(ch) <= 0 {
			continue
		}
		return ch, true
	}
	if tpl.Allows(domain.ChannelEmail) && recipient.Destination(domain.ChannelEmail) != "" {
		return domain.ChannelEmail, true
	}
	return "", false
}

func withIncentive(vars placeholders, incentive *domain.Incentive) placeholders {
	if incentive == nil {
		return vars
	}
	out := make(placeholders, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out["incentive"] = incentive.Label()
	return out
}

func entryID(eventID, profileID, templateID string) string {
	return uuid.NewSHA1(entryNamespace, []byte(eventID+"/"+profileID+"/"+templateID)).String()
}
