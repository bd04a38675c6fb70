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
	"github.com/kursadbilgin/attendance-engine/internal/provider"
	"github.com/kursadbilgin/attendance-engine/internal/queue"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"github.com/kursadbilgin/attendance-engine/internal/template"
	"go.uber.org/zap"
)

const (
	defaultRecoveryInterval = 30 * time.Second
	defaultRecoveryLimit    = 200

	// MaxAttemptsPerTemplate bounds successful sends of one recovery template per session.
	MaxAttemptsPerTemplate = 1

	recoveryTimeBlend      = 0.1
	recoveryIntentSMSFloor = 70
)

var (
	jobNamespace      = uuid.MustParse("0b4d8e7a-91c2-5f36-8a1d-5c2e9f04b7a3")
	errAlreadyHandled = errors.New("already handled")
)

// Rung is one step of a recovery ladder.
type Rung struct {
	Delay      time.Duration
	TemplateID string
	MinValue   float64
	Incentive  *domain.Incentive
}

func discount(percent float64) *domain.Incentive {
	return &domain.Incentive{Kind: domain.IncentiveDiscount, Percent: percent}
}

func bonus(description string) *domain.Incentive {
	return &domain.Incentive{Kind: domain.IncentiveBonus, Description: description}
}

func cloneIncentive(i *domain.Incentive) *domain.Incentive {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

// DefaultLadders maps each abandonment stage to its ordered rungs.
var DefaultLadders = map[domain.Stage][]Rung{
	domain.StageCartAbandoned: {
		{Delay: 15 * time.Minute, TemplateID: "recovery-cart-1"},
		{Delay: time.Hour, TemplateID: "recovery-cart-2", MinValue: 50, Incentive: discount(10)},
		{Delay: 24 * time.Hour, TemplateID: "recovery-cart-3", MinValue: 100, Incentive: discount(20)},
	},
	domain.StageCheckoutStarted: {
		{Delay: 30 * time.Minute, TemplateID: "recovery-checkout-1"},
		{Delay: 2 * time.Hour, TemplateID: "recovery-checkout-2", MinValue: 50, Incentive: discount(10)},
		{Delay: 24 * time.Hour, TemplateID: "recovery-checkout-3", MinValue: 100, Incentive: discount(15)},
	},
	domain.StagePaymentFailed: {
		{Delay: 10 * time.Minute, TemplateID: "recovery-payment-1"},
		{Delay: time.Hour, TemplateID: "recovery-payment-2"},
		{Delay: 24 * time.Hour, TemplateID: "recovery-payment-3", MinValue: 50, Incentive: discount(10)},
	},
	domain.StageRegistrationIncomplete: {
		{Delay: time.Hour, TemplateID: "recovery-registration-1"},
		{Delay: 24 * time.Hour, TemplateID: "recovery-registration-2", Incentive: bonus("a free bonus session")},
		{Delay: 72 * time.Hour, TemplateID: "recovery-registration-3", Incentive: bonus("a free bonus session and priority seating")},
	},
}

// StageData describes an abandoned flow as reported by the checkout layer.
type StageData struct {
	SessionID       string
	EventID         string
	Stage           domain.Stage
	AbandonedAt     time.Time
	LastInteraction time.Time
	TotalValue      float64
	Currency        string
}

// RecoveryStats are the global recovery aggregates.
type RecoveryStats struct {
	TotalAbandoned      int64
	TotalRecovered      int64
	RecoveryRate        float64
	RevenueRecovered    float64
	AverageRecoveryTime time.Duration
}

type RecoveryDeps struct {
	Sessions    repository.SessionRepository
	Jobs        repository.JobRepository
	Recipients  repository.RecipientRepository
	Profiles    repository.ProfileRepository
	Templates   template.Provider
	Dispatcher  *Dispatcher
	Analytics   *Analytics
	Transitions queue.TransitionPublisher
}

// RecoveryService runs staged recovery ladders for abandoned sessions. Every
// rung is a due-time job; firing re-checks the session so a recovered session
// never receives another message.
type RecoveryService struct {
	sessions    repository.SessionRepository
	jobs        repository.JobRepository
	recipients  repository.RecipientRepository
	profiles    repository.ProfileRepository
	templates   template.Provider
	dispatcher  *Dispatcher
	analytics   *Analytics
	transitions transitionEmitter
	ladders     map[domain.Stage][]Rung
	metrics     *observability.Metrics
	logger      *zap.Logger
	interval    time.Duration
	limit       int
	now         func() time.Time

	mu    sync.Mutex
	stats RecoveryStats
}

func NewRecoveryService(deps RecoveryDeps, interval time.Duration, limit int, logger *zap.Logger) (*RecoveryService, error) {
	switch {
	case deps.Sessions == nil, deps.Jobs == nil, deps.Recipients == nil, deps.Profiles == nil:
		return nil, fmt.Errorf("%w: recovery repositories are required", domain.ErrConfiguration)
	case deps.Templates == nil, deps.Dispatcher == nil:
		return nil, fmt.Errorf("%w: recovery collaborators are required", domain.ErrConfiguration)
	}
	if interval <= 0 {
		interval = defaultRecoveryInterval
	}
	if limit <= 0 {
		limit = defaultRecoveryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecoveryService{
		sessions:    deps.Sessions,
		jobs:        deps.Jobs,
		recipients:  deps.Recipients,
		profiles:    deps.Profiles,
		templates:   deps.Templates,
		dispatcher:  deps.Dispatcher,
		analytics:   deps.Analytics,
		transitions: newTransitionEmitter(deps.Transitions, logger),
		ladders:     DefaultLadders,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		now:         time.Now,
	}, nil
}

func (s *RecoveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
	s.transitions.metrics = metrics
}

// TrackAbandonedSession stores the session and arms one job per eligible
// rung. Rungs whose minimum value exceeds the session value are not armed.
// Tracking the same session id again returns the stored session.
func (s *RecoveryService) TrackAbandonedSession(ctx context.Context, recipient domain.Recipient, data StageData) (*domain.AbandonedSession, error) {
	if err := recipient.Validate(); err != nil {
		return nil, err
	}
	ladder, ok := s.ladders[data.Stage]
	if !ok {
		return nil, fmt.Errorf("%w: invalid abandonment stage %q", domain.ErrValidation, data.Stage)
	}
	if data.TotalValue < 0 {
		return nil, fmt.Errorf("%w: session value cannot be negative", domain.ErrValidation)
	}

	now := s.now().UTC()
	session := &domain.AbandonedSession{
		ID:              strings.TrimSpace(data.SessionID),
		RecipientID:     recipient.ID,
		EventID:         data.EventID,
		Stage:           data.Stage,
		AbandonedAt:     data.AbandonedAt.UTC(),
		LastInteraction: data.LastInteraction.UTC(),
		TotalValue:      data.TotalValue,
		Currency:        strings.ToUpper(strings.TrimSpace(data.Currency)),
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if data.AbandonedAt.IsZero() {
		session.AbandonedAt = now
	}
	if data.LastInteraction.IsZero() {
		session.LastInteraction = session.AbandonedAt
	}

	if err := s.recipients.Save(ctx, &recipient); err != nil {
		return nil, fmt.Errorf("failed to save recipient: %w", err)
	}

	err := s.sessions.Create(ctx, session)
	if errors.Is(err, domain.ErrConflict) {
		return s.sessions.GetByID(ctx, session.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	jobs := make([]*domain.RecoveryJob, 0, len(ladder))
	for i, rung := range ladder {
		if session.TotalValue < rung.MinValue {
			continue
		}
		jobs = append(jobs, &domain.RecoveryJob{
			ID:         uuid.NewSHA1(jobNamespace, []byte(fmt.Sprintf("%s/%d", session.ID, i+1))).String(),
			SessionID:  session.ID,
			Rung:       i + 1,
			TemplateID: rung.TemplateID,
			DueAt:      session.AbandonedAt.Add(rung.Delay),
			Status:     domain.JobPending,
		})
	}
	if err := s.jobs.CreateBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to arm recovery jobs: %w", err)
	}

	s.mu.Lock()
	s.stats.TotalAbandoned++
	s.mu.Unlock()
	s.metrics.IncSessionTracked()

	s.transitions.emit(ctx, queue.TransitionMessage{
		Kind:        queue.KindSession,
		EntityID:    session.ID,
		EventID:     session.EventID,
		RecipientID: session.RecipientID,
		To:          session.Stage.String(),
	}, now)
	observability.WithContextLogger(ctx, s.logger).Info("abandoned session tracked",
		zap.String("sessionId", session.ID),
		zap.String("stage", session.Stage.String()),
		zap.Float64("value", session.TotalValue),
		zap.Int("rungs", len(jobs)),
	)
	return session, nil
}

// HandleAbandonment adapts queued abandonment events to TrackAbandonedSession.
func (s *RecoveryService) HandleAbandonment(ctx context.Context, msg queue.AbandonmentMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	stage, err := domain.ParseStageFromString(msg.Stage)
	if err != nil {
		return err
	}

	_, err = s.TrackAbandonedSession(ctx, msg.Recipient(), StageData{
		SessionID:       msg.SessionID,
		EventID:         msg.EventID,
		Stage:           stage,
		AbandonedAt:     msg.AbandonedAt,
		LastInteraction: msg.LastInteraction,
		TotalValue:      msg.TotalValue,
		Currency:        msg.Currency,
	})
	return err
}

func (s *RecoveryService) GetSession(ctx context.Context, id string) (*domain.AbandonedSession, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *RecoveryService) ListJobs(ctx context.Context, sessionID string) ([]domain.RecoveryJob, error) {
	return s.jobs.ListBySession(ctx, sessionID)
}

func (s *RecoveryService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.FireDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("recovery initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.FireDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("recovery scan failed", zap.Error(err))
			}
		}
	}
}

// FireDue fires every pending job whose due time has passed and returns the
// number of jobs processed (fired or skipped).
func (s *RecoveryService) FireDue(ctx context.Context) (int, error) {
	start := s.now()
	due, err := s.jobs.ListDue(ctx, start, s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due recovery jobs: %w", err)
	}
	defer func() { s.metrics.ObserveLoopTick("recovery", len(due), s.now().Sub(start)) }()

	processed := 0
	for i := range due {
		if ctx.Err() != nil {
			return processed, nil
		}
		if err := s.fire(ctx, &due[i]); err != nil {
			s.logger.Error("recovery job failed",
				zap.String("jobId", due[i].ID),
				zap.String("sessionId", due[i].SessionID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *RecoveryService) fire(ctx context.Context, job *domain.RecoveryJob) error {
	session, err := s.sessions.GetByID(ctx, job.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.settle(ctx, job, domain.JobSkipped, "session not found", "")
		}
		return err
	}
	if session.IsRecovered {
		return s.settle(ctx, job, domain.JobSkipped, "session recovered", session.Stage.String())
	}
	if session.AttemptsForTemplate(job.TemplateID) >= MaxAttemptsPerTemplate {
		return s.settle(ctx, job, domain.JobSkipped, "max attempts reached", session.Stage.String())
	}

	rung, err := s.rungFor(session.Stage, job.Rung)
	if err != nil {
		return s.settle(ctx, job, domain.JobSkipped, err.Error(), session.Stage.String())
	}
	tpl, err := s.recoveryTemplate(ctx, job.TemplateID)
	if err != nil {
		return err
	}
	recipient, err := s.recipients.GetByID(ctx, session.RecipientID)
	if err != nil {
		return err
	}

	// Claim the job before sending so a concurrent scanner cannot fire it twice.
	// The claim runs under the session lock so it orders against MarkAsRecovered.
	claimed := false
	_, err = s.sessions.Update(ctx, session.ID, func(cur *domain.AbandonedSession) error {
		if cur.IsRecovered {
			return nil
		}
		if err := s.settle(ctx, job, domain.JobFired, "", ""); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !claimed {
		return s.settle(ctx, job, domain.JobSkipped, "session recovered", session.Stage.String())
	}

	channel := s.chooseChannel(ctx, recipient)
	vars := withIncentive(placeholders{
		"firstName": recipient.FirstName(),
		"name":      recipient.Name,
		"cartValue": formatMoney(session.TotalValue, session.Currency),
	}, rung.Incentive)
	attemptID := uuid.NewString()

	result := s.dispatcher.Deliver(ctx, provider.Message{
		Reference:   attemptID,
		Channel:     channel,
		Destination: recipient.Destination(channel),
		Subject:     render(tpl.Subject, vars),
		Content:     render(tpl.Content, vars),
	})

	now := s.now().UTC()
	var attempt domain.RecoveryAttempt
	_, err = s.sessions.Update(ctx, session.ID, func(cur *domain.AbandonedSession) error {
		attempt = domain.RecoveryAttempt{
			ID:                attemptID,
			AttemptNumber:     len(cur.Attempts) + 1,
			Channel:           channel,
			TemplateID:        tpl.ID,
			SentAt:            now,
			Incentive:         cloneIncentive(rung.Incentive),
			ProviderMessageID: result.MessageID,
			Error:             result.Error,
		}
		cur.Attempts = append(cur.Attempts, attempt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record recovery attempt: %w", err)
	}

	outcome := "sent"
	if !result.Success {
		outcome = "failed"
		s.analytics.RecordFailed(session.EventID, channel, tpl.ID)
	} else {
		s.analytics.RecordSent(session.EventID, channel, tpl.ID)
	}
	s.metrics.IncRecoveryAttempt(session.Stage.String(), outcome)
	s.transitions.emit(ctx, queue.TransitionMessage{
		Kind:        queue.KindRecoveryAttempt,
		EntityID:    attempt.ID,
		EventID:     session.EventID,
		RecipientID: session.RecipientID,
		Channel:     channel,
		To:          strings.ToUpper(outcome),
		Error:       result.Error,
	}, now)
	return nil
}

// settle moves a pending job to its final status. A job that is no longer
// pending was handled by someone else and yields ErrConflict.
func (s *RecoveryService) settle(ctx context.Context, job *domain.RecoveryJob, status domain.JobStatus, reason, stage string) error {
	_, err := s.jobs.Update(ctx, job.ID, func(j *domain.RecoveryJob) error {
		if j.Status != domain.JobPending {
			return fmt.Errorf("%w: recovery job %s is %s", domain.ErrConflict, j.ID, j.Status)
		}
		j.Status = status
		j.Reason = reason
		return nil
	})
	if err != nil {
		return err
	}

	if status == domain.JobSkipped {
		s.metrics.IncRecoveryAttempt(stage, "skipped")
		s.logger.Info("recovery job skipped",
			zap.String("jobId", job.ID),
			zap.String("sessionId", job.SessionID),
			zap.Int("rung", job.Rung),
			zap.String("reason", reason),
		)
	}
	return nil
}

func (s *RecoveryService) rungFor(stage domain.Stage, n int) (Rung, error) {
	ladder := s.ladders[stage]
	if n < 1 || n > len(ladder) {
		return Rung{}, fmt.Errorf("%w: stage %s has no rung %d", domain.ErrValidation, stage, n)
	}
	return ladder[n-1], nil
}

func (s *RecoveryService) recoveryTemplate(ctx context.Context, id string) (*domain.Template, error) {
	templates, err := s.templates.GetTemplates(ctx, template.Filter{Group: domain.GroupRecovery, IDs: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery template: %w", err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: recovery template %s missing from catalog", domain.ErrConfiguration, id)
	}
	return &templates[0], nil
}

// chooseChannel uses the recipient's strongest reachable channel affinity.
// Without a profile, a phone number and intent of 70 or more select SMS.
func (s *RecoveryService) chooseChannel(ctx context.Context, recipient *domain.Recipient) domain.Channel {
	profile, err := s.profiles.LatestByRecipient(ctx, recipient.ID)
	if err == nil {
		best, bestAffinity := domain.Channel(""), 0.0
		for _, ch := range domain.SupportedChannels {
			if a := profile.Affinity(ch); a > bestAffinity && recipient.Destination(ch) != "" {
				best, bestAffinity = ch, a
			}
		}
		if best != "" {
			return best
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("profile lookup failed, using contact heuristic",
			zap.String("recipientId", recipient.ID),
			zap.Error(err),
		)
	}

	if recipient.Destination(domain.ChannelSMS) != "" && recipient.IntentScore >= recoveryIntentSMSFloor {
		return domain.ChannelSMS
	}
	return domain.ChannelEmail
}

// MarkAsRecovered flags a session as recovered with the given value, or the
// session value when nil. Repeated calls leave the aggregates unchanged.
func (s *RecoveryService) MarkAsRecovered(ctx context.Context, sessionID string, value *float64) (*domain.AbandonedSession, error) {
	if value != nil && *value < 0 {
		return nil, fmt.Errorf("%w: recovered value cannot be negative", domain.ErrValidation)
	}

	now := s.now().UTC()
	session, err := s.sessions.Update(ctx, sessionID, func(cur *domain.AbandonedSession) error {
		if cur.IsRecovered {
			return errAlreadyHandled
		}
		cur.IsRecovered = true
		cur.RecoveredAt = &now
		cur.RecoveredValue = cur.TotalValue
		if value != nil {
			cur.RecoveredValue = *value
		}
		if n := len(cur.Attempts); n > 0 {
			last := &cur.Attempts[n-1]
			last.Result.Recovered = true
			last.Result.RecoveredAt = &now
		}
		return nil
	})
	if errors.Is(err, errAlreadyHandled) {
		return s.sessions.GetByID(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	elapsed := now.Sub(session.AbandonedAt)
	s.mu.Lock()
	s.stats.TotalRecovered++
	s.stats.RevenueRecovered += session.RecoveredValue
	if s.stats.TotalRecovered == 1 {
		s.stats.AverageRecoveryTime = elapsed
	} else {
		s.stats.AverageRecoveryTime = time.Duration(
			recoveryTimeBlend*float64(elapsed) + (1-recoveryTimeBlend)*float64(s.stats.AverageRecoveryTime),
		)
	}
	s.mu.Unlock()

	s.metrics.IncSessionRecovered(session.RecoveredValue)
	s.transitions.emit(ctx, queue.TransitionMessage{
		Kind:        queue.KindSession,
		EntityID:    session.ID,
		EventID:     session.EventID,
		RecipientID: session.RecipientID,
		From:        session.Stage.String(),
		To:          "RECOVERED",
	}, now)
	observability.WithContextLogger(ctx, s.logger).Info("session recovered",
		zap.String("sessionId", session.ID),
		zap.Float64("value", session.RecoveredValue),
		zap.Duration("elapsed", elapsed),
	)
	return session, nil
}

// RecordAttemptInteraction marks a recovery attempt as opened or clicked.
func (s *RecoveryService) RecordAttemptInteraction(ctx context.Context, sessionID, attemptID string, kind domain.InteractionType) (*domain.AbandonedSession, error) {
	var status domain.Status
	switch kind {
	case domain.InteractionOpen:
		status = domain.StatusOpened
	case domain.InteractionClick:
		status = domain.StatusClicked
	default:
		return nil, fmt.Errorf("%w: attempts only record open and click, got %q", domain.ErrValidation, kind)
	}
	return s.applyAttempt(ctx, sessionID, attemptID, status, s.now().UTC(), "")
}

// ApplyAttemptFeedback applies a resolved webhook event to a recovery attempt.
func (s *RecoveryService) ApplyAttemptFeedback(ctx context.Context, sessionID, attemptID string, status domain.Status, at time.Time, errMsg string) error {
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.applyAttempt(ctx, sessionID, attemptID, status, at.UTC(), errMsg)
	return err
}

func (s *RecoveryService) applyAttempt(ctx context.Context, sessionID, attemptID string, status domain.Status, at time.Time, errMsg string) (*domain.AbandonedSession, error) {
	var (
		eventID, templateID string
		channel             domain.Channel
		opened, clicked     bool
	)
	session, err := s.sessions.Update(ctx, sessionID, func(cur *domain.AbandonedSession) error {
		for i := range cur.Attempts {
			a := &cur.Attempts[i]
			if a.ID != attemptID {
				continue
			}
			eventID, templateID, channel = cur.EventID, a.TemplateID, a.Channel
			switch status {
			case domain.StatusOpened, domain.StatusClicked:
				if !a.Result.Opened {
					a.Result.Opened = true
					a.Result.OpenedAt = &at
					opened = true
				}
				if status == domain.StatusClicked && !a.Result.Clicked {
					a.Result.Clicked = true
					a.Result.ClickedAt = &at
					clicked = true
				}
			case domain.StatusFailed:
				if a.Error == "" {
					a.Error = errMsg
					if a.Error == "" {
						a.Error = "provider reported failure"
					}
				}
			}
			return nil
		}
		return fmt.Errorf("%w: attempt %s not found in session %s", domain.ErrNotFound, attemptID, sessionID)
	})
	if err != nil {
		return nil, err
	}

	if opened {
		s.analytics.RecordOpened(eventID, channel, templateID)
	}
	if clicked {
		s.analytics.RecordClicked(eventID, channel, templateID)
	}
	return session, nil
}

// Stats returns a copy of the global aggregates.
func (s *RecoveryService) Stats() RecoveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.RecoveryRate = domain.Ratio(out.TotalRecovered, out.TotalAbandoned)
	return out
}
