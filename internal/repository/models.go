package repository

import (
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// EventModel is the persistence model for the events table.
type EventModel struct {
	ID              string             `gorm:"type:uuid;primaryKey"`
	Title           string             `gorm:"type:varchar(255);not null"`
	Host            string             `gorm:"type:varchar(255)"`
	StartsAt        time.Time          `gorm:"type:timestamptz;not null"`
	DurationSeconds int64              `gorm:"not null;default:0"`
	Timezone        string             `gorm:"type:varchar(64)"`
	JoinURL         string             `gorm:"type:text"`
	Capacity        int                `gorm:"not null;default:0"`
	RegisteredCount int                `gorm:"not null;default:0"`
	Status          domain.EventStatus `gorm:"type:varchar(20);not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (EventModel) TableName() string {
	return "events"
}

// RecipientModel stores contact details and consent supplied at registration.
type RecipientModel struct {
	ID                string         `gorm:"type:varchar(64);primaryKey"`
	Name              string         `gorm:"type:varchar(255)"`
	Email             string         `gorm:"type:varchar(255)"`
	Phone             string         `gorm:"type:varchar(32)"`
	PushToken         string         `gorm:"type:text"`
	IntentScore       float64        `gorm:"not null;default:0"`
	EngagementMinutes float64        `gorm:"not null;default:0"`
	PageViews         int            `gorm:"not null;default:0"`
	Interactions      int            `gorm:"not null;default:0"`
	ScrollDepth       float64        `gorm:"not null;default:0"`
	Consent           domain.Consent `gorm:"type:jsonb;serializer:json"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (RecipientModel) TableName() string {
	return "recipients"
}

// ProfileModel is the persistence model for engagement_profiles.
type ProfileModel struct {
	ID                       string                     `gorm:"type:uuid;primaryKey"`
	RecipientID              string                     `gorm:"type:varchar(64);not null"`
	EventID                  string                     `gorm:"type:uuid;not null"`
	RegisteredAt             time.Time                  `gorm:"type:timestamptz;not null"`
	AttendanceState          domain.AttendanceState     `gorm:"type:varchar(20);not null"`
	EngagementScore          int                        `gorm:"not null"`
	PreferredChannel         domain.Channel             `gorm:"type:varchar(10);not null"`
	BestContactHour          int                        `gorm:"not null"`
	AverageResponseMinutes   int                        `gorm:"not null"`
	ChannelAffinity          map[domain.Channel]float64 `gorm:"type:jsonb;serializer:json"`
	HistoricalAttendanceRate float64                    `gorm:"not null"`
	UrgencyResponsiveness    float64                    `gorm:"not null"`
	IncentiveResponsiveness  float64                    `gorm:"not null"`
	OpenCount                int                        `gorm:"not null;default:0"`
	UpdatedAt                time.Time
}

func (ProfileModel) TableName() string {
	return "engagement_profiles"
}

// ScheduleEntryModel is the persistence model for schedule_entries.
type ScheduleEntryModel struct {
	ID                string           `gorm:"type:uuid;primaryKey"`
	EventID           string           `gorm:"type:uuid;not null"`
	ProfileID         string           `gorm:"type:uuid;not null"`
	RecipientID       string           `gorm:"type:varchar(64);not null"`
	TemplateID        string           `gorm:"type:varchar(128);not null"`
	Kind              domain.EntryKind `gorm:"type:varchar(20);not null"`
	Channel           domain.Channel   `gorm:"type:varchar(10);not null"`
	ScheduledAt       time.Time        `gorm:"type:timestamptz;not null"`
	Status            domain.Status    `gorm:"type:varchar(20);not null"`
	Subject           string           `gorm:"type:text"`
	Content           string           `gorm:"type:text;not null"`
	ProviderMessageID *string          `gorm:"type:varchar(255)"`
	SentAt            *time.Time
	DeliveredAt       *time.Time
	OpenedAt          *time.Time
	ClickedAt         *time.Time
	ErrorMessage      *string `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (ScheduleEntryModel) TableName() string {
	return "schedule_entries"
}

// AbandonedSessionModel is the persistence model for abandoned_sessions.
type AbandonedSessionModel struct {
	ID              string                   `gorm:"type:uuid;primaryKey"`
	RecipientID     string                   `gorm:"type:varchar(64);not null"`
	EventID         string                   `gorm:"type:varchar(64)"`
	Stage           domain.Stage             `gorm:"type:varchar(32);not null"`
	AbandonedAt     time.Time                `gorm:"type:timestamptz;not null"`
	LastInteraction time.Time                `gorm:"type:timestamptz;not null"`
	TotalValue      float64                  `gorm:"not null;default:0"`
	Currency        string                   `gorm:"type:varchar(3)"`
	Attempts        []domain.RecoveryAttempt `gorm:"type:jsonb;serializer:json"`
	IsRecovered     bool                     `gorm:"not null;default:false"`
	RecoveredAt     *time.Time
	RecoveredValue  float64 `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (AbandonedSessionModel) TableName() string {
	return "abandoned_sessions"
}

// RecoveryJobModel is the due-time index for recovery ladder rungs.
type RecoveryJobModel struct {
	ID         string           `gorm:"type:uuid;primaryKey"`
	SessionID  string           `gorm:"type:uuid;not null"`
	Rung       int              `gorm:"not null"`
	TemplateID string           `gorm:"type:varchar(128);not null"`
	DueAt      time.Time        `gorm:"type:timestamptz;not null"`
	Status     domain.JobStatus `gorm:"type:varchar(20);not null"`
	Reason     string           `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (RecoveryJobModel) TableName() string {
	return "recovery_jobs"
}

func eventModelFromDomain(e *domain.Event) *EventModel {
	if e == nil {
		return nil
	}

	return &EventModel{
		ID:              e.ID,
		Title:           e.Title,
		Host:            e.Host,
		StartsAt:        e.StartsAt,
		DurationSeconds: int64(e.Duration / time.Second),
		Timezone:        e.Timezone,
		JoinURL:         e.JoinURL,
		Capacity:        e.Capacity,
		RegisteredCount: e.RegisteredCount,
		Status:          e.Status,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func eventModelToDomain(m *EventModel) *domain.Event {
	if m == nil {
		return nil
	}

	return &domain.Event{
		ID:              m.ID,
		Title:           m.Title,
		Host:            m.Host,
		StartsAt:        m.StartsAt,
		Duration:        time.Duration(m.DurationSeconds) * time.Second,
		Timezone:        m.Timezone,
		JoinURL:         m.JoinURL,
		Capacity:        m.Capacity,
		RegisteredCount: m.RegisteredCount,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		ID:                r.ID,
		Name:              r.Name,
		Email:             r.Email,
		Phone:             r.Phone,
		PushToken:         r.PushToken,
		IntentScore:       r.IntentScore,
		EngagementMinutes: r.EngagementMinutes,
		PageViews:         r.PageViews,
		Interactions:      r.Interactions,
		ScrollDepth:       r.ScrollDepth,
		Consent:           r.Consent,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:                m.ID,
		Name:              m.Name,
		Email:             m.Email,
		Phone:             m.Phone,
		PushToken:         m.PushToken,
		IntentScore:       m.IntentScore,
		EngagementMinutes: m.EngagementMinutes,
		PageViews:         m.PageViews,
		Interactions:      m.Interactions,
		ScrollDepth:       m.ScrollDepth,
		Consent:           m.Consent,
	}
}

func profileModelFromDomain(p *domain.EngagementProfile) *ProfileModel {
	if p == nil {
		return nil
	}

	return &ProfileModel{
		ID:                       p.ID,
		RecipientID:              p.RecipientID,
		EventID:                  p.EventID,
		RegisteredAt:             p.RegisteredAt,
		AttendanceState:          p.AttendanceState,
		EngagementScore:          p.EngagementScore,
		PreferredChannel:         p.PreferredChannel,
		BestContactHour:          p.Patterns.BestContactHour,
		AverageResponseMinutes:   p.Patterns.AverageResponseMinutes,
		ChannelAffinity:          p.Patterns.ChannelAffinity,
		HistoricalAttendanceRate: p.Patterns.HistoricalAttendanceRate,
		UrgencyResponsiveness:    p.Patterns.UrgencyResponsiveness,
		IncentiveResponsiveness:  p.Patterns.IncentiveResponsiveness,
		OpenCount:                p.OpenCount,
		UpdatedAt:                p.UpdatedAt,
	}
}

func profileModelToDomain(m *ProfileModel) *domain.EngagementProfile {
	if m == nil {
		return nil
	}

	return &domain.EngagementProfile{
		ID:               m.ID,
		RecipientID:      m.RecipientID,
		EventID:          m.EventID,
		RegisteredAt:     m.RegisteredAt,
		AttendanceState:  m.AttendanceState,
		EngagementScore:  m.EngagementScore,
		PreferredChannel: m.PreferredChannel,
		Patterns: domain.BehaviorPatterns{
			BestContactHour:          m.BestContactHour,
			AverageResponseMinutes:   m.AverageResponseMinutes,
			ChannelAffinity:          m.ChannelAffinity,
			HistoricalAttendanceRate: m.HistoricalAttendanceRate,
			UrgencyResponsiveness:    m.UrgencyResponsiveness,
			IncentiveResponsiveness:  m.IncentiveResponsiveness,
		},
		OpenCount: m.OpenCount,
		UpdatedAt: m.UpdatedAt,
	}
}

func entryModelFromDomain(e *domain.ScheduleEntry) *ScheduleEntryModel {
	if e == nil {
		return nil
	}

	return &ScheduleEntryModel{
		ID:                e.ID,
		EventID:           e.EventID,
		ProfileID:         e.ProfileID,
		RecipientID:       e.RecipientID,
		TemplateID:        e.TemplateID,
		Kind:              e.Kind,
		Channel:           e.Channel,
		ScheduledAt:       e.ScheduledAt,
		Status:            e.Status,
		Subject:           e.Subject,
		Content:           e.Content,
		ProviderMessageID: optionalString(e.ProviderMessageID),
		SentAt:            e.Metrics.SentAt,
		DeliveredAt:       e.Metrics.DeliveredAt,
		OpenedAt:          e.Metrics.OpenedAt,
		ClickedAt:         e.Metrics.ClickedAt,
		ErrorMessage:      optionalString(e.Metrics.ErrorMessage),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func entryModelToDomain(m *ScheduleEntryModel) *domain.ScheduleEntry {
	if m == nil {
		return nil
	}

	return &domain.ScheduleEntry{
		ID:                m.ID,
		EventID:           m.EventID,
		ProfileID:         m.ProfileID,
		RecipientID:       m.RecipientID,
		TemplateID:        m.TemplateID,
		Kind:              m.Kind,
		Channel:           m.Channel,
		ScheduledAt:       m.ScheduledAt,
		Status:            m.Status,
		Subject:           m.Subject,
		Content:           m.Content,
		ProviderMessageID: derefString(m.ProviderMessageID),
		Metrics: domain.DeliveryMetrics{
			SentAt:       m.SentAt,
			DeliveredAt:  m.DeliveredAt,
			OpenedAt:     m.OpenedAt,
			ClickedAt:    m.ClickedAt,
			ErrorMessage: derefString(m.ErrorMessage),
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func sessionModelFromDomain(s *domain.AbandonedSession) *AbandonedSessionModel {
	if s == nil {
		return nil
	}

	return &AbandonedSessionModel{
		ID:              s.ID,
		RecipientID:     s.RecipientID,
		EventID:         s.EventID,
		Stage:           s.Stage,
		AbandonedAt:     s.AbandonedAt,
		LastInteraction: s.LastInteraction,
		TotalValue:      s.TotalValue,
		Currency:        s.Currency,
		Attempts:        s.Attempts,
		IsRecovered:     s.IsRecovered,
		RecoveredAt:     s.RecoveredAt,
		RecoveredValue:  s.RecoveredValue,
	}
}

func sessionModelToDomain(m *AbandonedSessionModel) *domain.AbandonedSession {
	if m == nil {
		return nil
	}

	return &domain.AbandonedSession{
		ID:              m.ID,
		RecipientID:     m.RecipientID,
		EventID:         m.EventID,
		Stage:           m.Stage,
		AbandonedAt:     m.AbandonedAt,
		LastInteraction: m.LastInteraction,
		TotalValue:      m.TotalValue,
		Currency:        m.Currency,
		Attempts:        m.Attempts,
		IsRecovered:     m.IsRecovered,
		RecoveredAt:     m.RecoveredAt,
		RecoveredValue:  m.RecoveredValue,
	}
}

func jobModelFromDomain(j *domain.RecoveryJob) *RecoveryJobModel {
	if j == nil {
		return nil
	}

	return &RecoveryJobModel{
		ID:         j.ID,
		SessionID:  j.SessionID,
		Rung:       j.Rung,
		TemplateID: j.TemplateID,
		DueAt:      j.DueAt,
		Status:     j.Status,
		Reason:     j.Reason,
	}
}

func jobModelToDomain(m *RecoveryJobModel) *domain.RecoveryJob {
	if m == nil {
		return nil
	}

	return &domain.RecoveryJob{
		ID:         m.ID,
		SessionID:  m.SessionID,
		Rung:       m.Rung,
		TemplateID: m.TemplateID,
		DueAt:      m.DueAt,
		Status:     m.Status,
		Reason:     m.Reason,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
