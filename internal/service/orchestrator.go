package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/observability"
	"github.com/kursadbilgin/attendance-engine/internal/queue"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"github.com/kursadbilgin/attendance-engine/internal/scoring"
	"github.com/kursadbilgin/attendance-engine/internal/template"
	"go.uber.org/zap"
)

const (
	defaultTickInterval = 30 * time.Second
	defaultTickLimit    = 500

	likelihoodNoIntervention = 0.7
	likelihoodHighRisk       = 0.3
	highRiskDelay            = 30 * time.Minute
	mediumRiskDelay          = 2 * time.Hour

	InterventionHighTemplate   = "intervention-high"
	InterventionMediumTemplate = "intervention-medium"
)

// RiskLevel classifies predicted attendance.
type RiskLevel string

const (
	RiskNone   RiskLevel = "NONE"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Intervention is the outcome of RecommendIntervention. Entry is nil for RiskNone.
type Intervention struct {
	Risk       RiskLevel
	Likelihood float64
	Entry      *domain.ScheduleEntry
}

// Registration is the outcome of RegisterRecipient.
type Registration struct {
	Profile *domain.EngagementProfile
	Entries []domain.ScheduleEntry
	Created bool
}

// AttemptFeedbackApplier receives webhook events that resolved to a recovery attempt.
type AttemptFeedbackApplier interface {
	ApplyAttemptFeedback(ctx context.Context, sessionID, attemptID string, status domain.Status, at time.Time, errMsg string) error
}

type OrchestratorDeps struct {
	Events      repository.EventRepository
	Recipients  repository.RecipientRepository
	Profiles    repository.ProfileRepository
	Schedules   repository.ScheduleRepository
	Templates   template.Provider
	Builder     *ProfileBuilder
	Planner     *Planner
	Dispatcher  *Dispatcher
	Analytics   *Analytics
	Transitions queue.TransitionPublisher
	Attempts    AttemptFeedbackApplier
	Weights     scoring.Weights
}

// Orchestrator owns the event lifecycle, the dispatch tick and feedback handling.
type Orchestrator struct {
	events      repository.EventRepository
	recipients  repository.RecipientRepository
	profiles    repository.ProfileRepository
	schedules   repository.ScheduleRepository
	templates   template.Provider
	builder     *ProfileBuilder
	planner     *Planner
	dispatcher  *Dispatcher
	analytics   *Analytics
	attempts    AttemptFeedbackApplier
	weights     scoring.Weights
	transitions transitionEmitter
	metrics     *observability.Metrics
	logger      *zap.Logger
	interval    time.Duration
	limit       int
	now         func() time.Time

	interventionMu sync.Mutex
}

func NewOrchestrator(deps OrchestratorDeps, interval time.Duration, limit int, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Events == nil, deps.Recipients == nil, deps.Profiles == nil, deps.Schedules == nil:
		return nil, fmt.Errorf("%w: orchestrator repositories are required", domain.ErrConfiguration)
	case deps.Templates == nil, deps.Builder == nil, deps.Planner == nil, deps.Dispatcher == nil:
		return nil, fmt.Errorf("%w: orchestrator collaborators are required", domain.ErrConfiguration)
	}
	if err := deps.Weights.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if limit <= 0 {
		limit = defaultTickLimit
	}
	if deps.Analytics == nil {
		deps.Analytics = NewAnalytics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		events:      deps.Events,
		recipients:  deps.Recipients,
		profiles:    deps.Profiles,
		schedules:   deps.Schedules,
		templates:   deps.Templates,
		builder:     deps.Builder,
		planner:     deps.Planner,
		dispatcher:  deps.Dispatcher,
		analytics:   deps.Analytics,
		attempts:    deps.Attempts,
		weights:     deps.Weights,
		transitions: newTransitionEmitter(deps.Transitions, logger),
		logger:      logger,
		interval:    interval,
		limit:       limit,
		now:         time.Now,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
	o.transitions.metrics = metrics
}

// SetAttemptFeedback wires the recovery ladder after construction.
func (o *Orchestrator) SetAttemptFeedback(applier AttemptFeedbackApplier) {
	o.attempts = applier
}

func (o *Orchestrator) Analytics(eventID string) domain.CampaignMetrics {
	return o.analytics.Snapshot(eventID)
}

func (o *Orchestrator) CreateEvent(ctx context.Context, event *domain.Event) (*domain.Event, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event is required", domain.ErrValidation)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	event.Status = domain.EventDraft
	event.RegisteredCount = 0
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := o.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	o.transitions.emit(ctx, queue.TransitionMessage{
		Kind:     queue.KindEvent,
		EntityID: event.ID,
		EventID:  event.ID,
		To:       domain.EventDraft.String(),
	}, now)
	return event, nil
}

func (o *Orchestrator) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	return o.events.GetByID(ctx, id)
}

// ActivateEvent moves a draft event to active. Activating an active event is a no-op.
func (o *Orchestrator) ActivateEvent(ctx context.Context, id string) (*domain.Event, error) {
	return o.moveEvent(ctx, id, domain.EventActive, domain.EventDraft)
}

// CompleteEvent closes an active event, cancels its pending entries and marks
// recipients who never joined as no-shows.
func (o *Orchestrator) CompleteEvent(ctx context.Context, id string) (*domain.Event, error) {
	event, err := o.moveEvent(ctx, id, domain.EventCompleted, domain.EventActive)
	if err != nil {
		return nil, err
	}

	entries, err := o.schedules.ListByEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list event entries: %w", err)
	}
	for i := range entries {
		if entries[i].Status != domain.StatusScheduled {
			continue
		}
		if _, err := o.CancelEntry(ctx, entries[i].ID); err != nil && !errors.Is(err, domain.ErrConflict) {
			o.logger.Error("failed to cancel entry on event completion",
				zap.String("entryId", entries[i].ID),
				zap.Error(err),
			)
		}
	}

	profiles, err := o.profiles.ListByEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list event profiles: %w", err)
	}
	for i := range profiles {
		if !profiles[i].AttendanceState.IsOpen() {
			continue
		}
		if _, err := o.RecordInteraction(ctx, profiles[i].ID, domain.InteractionNoShow, ""); err != nil {
			o.logger.Error("failed to mark no-show",
				zap.String("profileId", profiles[i].ID),
				zap.Error(err),
			)
		}
	}

	return event, nil
}

func (o *Orchestrator) moveEvent(ctx context.Context, id string, to, from domain.EventStatus) (*domain.Event, error) {
	now := o.now().UTC()
	var previous domain.EventStatus

	event, err := o.events.Update(ctx, id, func(e *domain.Event) error {
		previous = e.Status
		if e.Status == to {
			return nil
		}
		if e.Status != from {
			return fmt.Errorf("%w: event %s is %s, cannot become %s", domain.ErrConflict, id, e.Status, to)
		}
		e.Status = to
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != to {
		o.transitions.emit(ctx, queue.TransitionMessage{
			Kind:     queue.KindEvent,
			EntityID: id,
			EventID:  id,
			From:     previous.String(),
			To:       to.String(),
		}, now)
		o.logger.Info("event status changed",
			zap.String("eventId", id),
			zap.String("from", previous.String()),
			zap.String("to", to.String()),
		)
	}
	return event, nil
}

// RegisterRecipient builds the recipient's profile and plans its schedule.
// Registering the same recipient twice returns the existing profile and
// does not duplicate entries.
func (o *Orchestrator) RegisterRecipient(ctx context.Context, eventID string, recipient domain.Recipient) (*Registration, error) {
	event, err := o.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status == domain.EventCompleted {
		return nil, fmt.Errorf("%w: event %s is completed", domain.ErrConflict, eventID)
	}
	if err := recipient.Validate(); err != nil {
		return nil, err
	}
	if err := o.recipients.Save(ctx, &recipient); err != nil {
		return nil, fmt.Errorf("failed to save recipient: %w", err)
	}

	profile, created, err := o.builder.InitializeProfile(ctx, recipient, eventID)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	if created {
		event, err = o.events.Update(ctx, eventID, func(e *domain.Event) error {
			e.RegisteredCount++
			e.UpdatedAt = now
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to count registration: %w", err)
		}
		o.analytics.RecordRegistration(eventID)
		o.transitions.emit(ctx, queue.TransitionMessage{
			Kind:        queue.KindProfile,
			EntityID:    profile.ID,
			EventID:     eventID,
			RecipientID: recipient.ID,
			To:          profile.AttendanceState.String(),
		}, now)
	}

	templates, err := o.templates.GetTemplates(ctx, template.Filter{Group: domain.GroupAttendance})
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	entries, err := o.planner.GenerateSchedule(event, profile, recipient, templates)
	if err != nil {
		return nil, err
	}

	batch := make([]*domain.ScheduleEntry, 0, len(entries))
	for i := range entries {
		entries[i].CreatedAt = now
		entries[i].UpdatedAt = now
		batch = append(batch, &entries[i])
	}
	inserted, err := o.schedules.CreateBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to store schedule: %w", err)
	}

	if created {
		for i := range entries {
			o.metrics.IncEntriesPlanned(entries[i].Channel.String(), 1)
			o.emitEntry(ctx, &entries[i], "")
		}
	}

	observability.WithContextLogger(ctx, o.logger).Info("recipient registered",
		zap.String("eventId", eventID),
		zap.String("profileId", profile.ID),
		zap.Int("score", profile.EngagementScore),
		zap.Int("entries", len(entries)),
		zap.Int("inserted", inserted),
	)

	return &Registration{Profile: profile, Entries: entries, Created: created}, nil
}

func (o *Orchestrator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := o.Tick(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("orchestrator initial tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := o.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				o.logger.Error("orchestrator tick failed", zap.Error(err))
			}
		}
	}
}

// Tick dispatches due entries of active events and returns how many were sent
// to providers.
func (o *Orchestrator) Tick(ctx context.Context) (int, error) {
	start := o.now()
	active, err := o.events.ListByStatus(ctx, domain.EventActive)
	if err != nil {
		return 0, fmt.Errorf("failed to list active events: %w", err)
	}
	eventIDs := make([]string, 0, len(active))
	for _, event := range active {
		eventIDs = append(eventIDs, event.ID)
	}

	due, err := o.schedules.ListDue(ctx, start, eventIDs, o.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due entries: %w", err)
	}
	defer func() { o.metrics.ObserveLoopTick("orchestrator", len(due), o.now().Sub(start)) }()

	items := make([]BatchItem, 0, len(due))
	for i := range due {
		entry := &due[i]

		recipient, err := o.recipients.GetByID(ctx, entry.RecipientID)
		if err != nil {
			o.failEntry(ctx, entry.ID, fmt.Sprintf("recipient unavailable: %v", err))
			continue
		}
		items = append(items, BatchItem{Entry: entry, Contact: *recipient})
	}

	if len(items) == 0 {
		return 0, nil
	}

	results := o.dispatcher.SendBatch(ctx, items)
	for _, item := range items {
		res, ok := results[item.Entry.ID]
		if !ok {
			continue
		}
		o.applyResult(ctx, item.Entry, res)
	}
	return len(items), nil
}

func (o *Orchestrator) applyResult(ctx context.Context, entry *domain.ScheduleEntry, res DeliveryResult) {
	now := o.now().UTC()
	to := domain.StatusSent
	if !res.Success {
		to = domain.StatusFailed
	}

	var from domain.Status
	updated, err := o.schedules.Update(ctx, entry.ID, func(e *domain.ScheduleEntry) error {
		from = e.Status
		if !e.Transition(to, now, res.Error) {
			return fmt.Errorf("%w: entry %s is %s", domain.ErrConflict, e.ID, e.Status)
		}
		if res.Success {
			e.ProviderMessageID = res.MessageID
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			o.logger.Info("entry changed during dispatch, result dropped",
				zap.String("entryId", entry.ID),
				zap.Bool("success", res.Success),
			)
			return
		}
		o.logger.Error("failed to record dispatch result", zap.String("entryId", entry.ID), zap.Error(err))
		return
	}

	o.emitEntry(ctx, updated, from.String())
	if !res.Success {
		o.analytics.RecordFailed(updated.EventID, updated.Channel, updated.TemplateID)
		return
	}
	o.analytics.RecordSent(updated.EventID, updated.Channel, updated.TemplateID)

	_, err = o.profiles.Update(ctx, updated.ProfileID, func(p *domain.EngagementProfile) error {
		if p.AttendanceState != domain.AttendanceRegistered {
			return domain.ErrConflict
		}
		p.AttendanceState = domain.AttendanceReminded
		p.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		o.logger.Error("failed to mark profile reminded", zap.String("profileId", updated.ProfileID), zap.Error(err))
	}
}

func (o *Orchestrator) failEntry(ctx context.Context, id, reason string) {
	now := o.now().UTC()
	updated, err := o.schedules.Update(ctx, id, func(e *domain.ScheduleEntry) error {
		if !e.Transition(domain.StatusFailed, now, reason) {
			return domain.ErrConflict
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			o.logger.Error("failed to mark entry failed", zap.String("entryId", id), zap.Error(err))
		}
		return
	}
	o.analytics.RecordFailed(updated.EventID, updated.Channel, updated.TemplateID)
	o.emitEntry(ctx, updated, domain.StatusScheduled.String())
}

// ApplyWebhook normalizes a provider callback and applies every resolved event.
func (o *Orchestrator) ApplyWebhook(ctx context.Context, providerName, channel string, payload []byte) ([]WebhookEvent, error) {
	events, err := o.dispatcher.ProcessWebhook(ctx, providerName, channel, payload)
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		switch {
		case ev.ScheduleID != "":
			if _, err := o.ApplyFeedback(ctx, ev.ScheduleID, ev.Status, ev.Timestamp, ev.Error); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
		case ev.AttemptID != "" && o.attempts != nil:
			if err := o.attempts.ApplyAttemptFeedback(ctx, ev.SessionID, ev.AttemptID, ev.Status, ev.Timestamp, ev.Error); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
		}
	}
	return events, nil
}

// ApplyFeedback applies a delivery status to an entry. Terminal entries keep
// their status; a late open or click still records its timestamp and counts
// as an interaction.
func (o *Orchestrator) ApplyFeedback(ctx context.Context, entryID string, status domain.Status, at time.Time, errMsg string) (*domain.ScheduleEntry, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}
	if at.IsZero() {
		at = o.now()
	}
	at = at.UTC()

	var (
		from              domain.Status
		changed           bool
		opened, clicked   bool
		hadOpen, hadClick bool
	)
	entry, err := o.schedules.Update(ctx, entryID, func(e *domain.ScheduleEntry) error {
		from = e.Status
		hadOpen = e.Metrics.OpenedAt != nil
		hadClick = e.Metrics.ClickedAt != nil
		changed = e.Transition(status, at, errMsg)
		opened = !hadOpen && e.Metrics.OpenedAt != nil
		clicked = !hadClick && e.Metrics.ClickedAt != nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		o.emitEntry(ctx, entry, from.String())
		if status == domain.StatusFailed {
			o.analytics.RecordFailed(entry.EventID, entry.Channel, entry.TemplateID)
		}
	}
	if opened {
		o.analytics.RecordOpened(entry.EventID, entry.Channel, entry.TemplateID)
		o.forwardInteraction(ctx, entry, domain.InteractionOpen)
	}
	if clicked {
		o.analytics.RecordClicked(entry.EventID, entry.Channel, entry.TemplateID)
		o.forwardInteraction(ctx, entry, domain.InteractionClick)
	}
	return entry, nil
}

func (o *Orchestrator) forwardInteraction(ctx context.Context, entry *domain.ScheduleEntry, kind domain.InteractionType) {
	if _, err := o.builder.UpdateFromInteraction(ctx, entry.ProfileID, kind, entry.Channel); err != nil {
		o.logger.Error("failed to apply interaction to profile",
			zap.String("profileId", entry.ProfileID),
			zap.String("interaction", string(kind)),
			zap.Error(err),
		)
	}
}

// RecordInteraction applies a direct recipient interaction (e.g. joining the event).
func (o *Orchestrator) RecordInteraction(ctx context.Context, profileID string, kind domain.InteractionType, channel domain.Channel) (*domain.EngagementProfile, error) {
	before, err := o.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}

	profile, err := o.builder.UpdateFromInteraction(ctx, profileID, kind, channel)
	if err != nil {
		return nil, err
	}

	if kind == domain.InteractionJoin && before.AttendanceState != domain.AttendanceAttended {
		o.analytics.RecordAttended(profile.EventID, channel)
	}
	if before.AttendanceState != profile.AttendanceState {
		o.transitions.emit(ctx, queue.TransitionMessage{
			Kind:        queue.KindProfile,
			EntityID:    profile.ID,
			EventID:     profile.EventID,
			RecipientID: profile.RecipientID,
			Channel:     channel,
			From:        before.AttendanceState.String(),
			To:          profile.AttendanceState.String(),
		}, profile.UpdatedAt)
	}
	return profile, nil
}

// PredictAttendance returns the attendance likelihood of a profile at now.
func (o *Orchestrator) PredictAttendance(profile *domain.EngagementProfile, now time.Time) float64 {
	days := now.Sub(profile.RegisteredAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return scoring.AttendanceLikelihood(
		o.weights,
		profile.EngagementScore,
		profile.Patterns.HistoricalAttendanceRate,
		profile.Patterns.UrgencyResponsiveness,
		days,
	)
}

// RecommendIntervention schedules a high or medium risk intervention when the
// predicted likelihood is below 0.7. A recipient has at most one active
// (scheduled or sent) intervention per event; a second request returns
// ErrConflict.
func (o *Orchestrator) RecommendIntervention(ctx context.Context, eventID, profileID string) (*Intervention, error) {
	profile, err := o.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile.EventID != eventID {
		return nil, fmt.Errorf("%w: profile %s is not registered for event %s", domain.ErrNotFound, profileID, eventID)
	}

	now := o.now()
	likelihood := o.PredictAttendance(profile, now)
	result := &Intervention{Risk: RiskNone, Likelihood: likelihood}
	if likelihood >= likelihoodNoIntervention || !profile.AttendanceState.IsOpen() {
		return result, nil
	}

	risk, delay, templateID := RiskMedium, mediumRiskDelay, InterventionMediumTemplate
	if likelihood < likelihoodHighRisk {
		risk, delay, templateID = RiskHigh, highRiskDelay, InterventionHighTemplate
	}
	result.Risk = risk

	event, err := o.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status == domain.EventCompleted {
		return nil, fmt.Errorf("%w: event %s is completed", domain.ErrConflict, eventID)
	}
	recipient, err := o.recipients.GetByID(ctx, profile.RecipientID)
	if err != nil {
		return nil, err
	}
	tpl, err := o.interventionTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	loc, err := event.Location()
	if err != nil {
		return nil, err
	}

	channel := profile.PreferredChannel
	if risk == RiskHigh && profile.Affinity(domain.ChannelSMS) > 0 && recipient.Destination(domain.ChannelSMS) != "" {
		channel = domain.ChannelSMS
	}
	if recipient.Destination(channel) == "" {
		channel = domain.ChannelEmail
	}

	vars := withIncentive(eventPlaceholders(event, *recipient, loc), tpl.Incentive)
	entry := &domain.ScheduleEntry{
		ID:          uuid.NewString(),
		EventID:     eventID,
		ProfileID:   profile.ID,
		RecipientID: profile.RecipientID,
		TemplateID:  tpl.ID,
		Kind:        domain.EntryKindIntervention,
		Channel:     channel,
		ScheduledAt: now.Add(delay).UTC(),
		Status:      domain.StatusScheduled,
		Subject:     render(tpl.Subject, vars),
		Content:     render(tpl.Content, vars),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	o.interventionMu.Lock()
	defer o.interventionMu.Unlock()

	existing, err := o.schedules.ListByProfile(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile entries: %w", err)
	}
	for i := range existing {
		e := existing[i]
		if e.Kind == domain.EntryKindIntervention && (e.Status == domain.StatusScheduled || e.Status == domain.StatusSent) {
			return nil, fmt.Errorf("%w: profile %s already has active intervention %s", domain.ErrConflict, profile.ID, e.ID)
		}
	}

	if _, err := o.schedules.CreateBatch(ctx, []*domain.ScheduleEntry{entry}); err != nil {
		return nil, fmt.Errorf("failed to store intervention: %w", err)
	}

	o.metrics.IncIntervention(string(risk))
	o.emitEntry(ctx, entry, "")
	observability.WithContextLogger(ctx, o.logger).Info("intervention scheduled",
		zap.String("profileId", profile.ID),
		zap.String("risk", string(risk)),
		zap.Float64("likelihood", likelihood),
		zap.String("channel", channel.String()),
		zap.Time("scheduledAt", entry.ScheduledAt),
	)

	result.Entry = entry
	return result, nil
}

func (o *Orchestrator) interventionTemplate(ctx context.Context, id string) (*domain.Template, error) {
	templates, err := o.templates.GetTemplates(ctx, template.Filter{Group: domain.GroupIntervention, IDs: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to load intervention template: %w", err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: intervention template %s missing from catalog", domain.ErrConfiguration, id)
	}
	return &templates[0], nil
}

// CancelEntry cancels a scheduled entry. The tick skips it from then on.
func (o *Orchestrator) CancelEntry(ctx context.Context, id string) (*domain.ScheduleEntry, error) {
	now := o.now().UTC()
	var from domain.Status
	entry, err := o.schedules.Update(ctx, id, func(e *domain.ScheduleEntry) error {
		from = e.Status
		if !e.Transition(domain.StatusCancelled, now, "") {
			return fmt.Errorf("%w: entry %s is %s", domain.ErrConflict, id, e.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.emitEntry(ctx, entry, from.String())
	return entry, nil
}

func (o *Orchestrator) GetEntry(ctx context.Context, id string) (*domain.ScheduleEntry, error) {
	return o.schedules.GetByID(ctx, id)
}

func (o *Orchestrator) emitEntry(ctx context.Context, e *domain.ScheduleEntry, from string) {
	o.transitions.emit(ctx, queue.TransitionMessage{
		Kind:        queue.KindScheduleEntry,
		EntityID:    e.ID,
		EventID:     e.EventID,
		RecipientID: e.RecipientID,
		Channel:     e.Channel,
		From:        from,
		To:          e.Status.String(),
		Error:       e.Metrics.ErrorMessage,
	}, o.now())
}
