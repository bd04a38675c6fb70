package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/repository"
	"github.com/kursadbilgin/attendance-engine/internal/scoring"
	"go.uber.org/zap"
)

// ProfileBuilder creates engagement profiles and folds interactions back into them.
type ProfileBuilder struct {
	profiles repository.ProfileRepository
	weights  scoring.Weights
	logger   *zap.Logger
	now      func() time.Time
}

func NewProfileBuilder(profiles repository.ProfileRepository, weights scoring.Weights, logger *zap.Logger) (*ProfileBuilder, error) {
	if profiles == nil {
		return nil, fmt.Errorf("%w: profile repository is required", domain.ErrConfiguration)
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProfileBuilder{
		profiles: profiles,
		weights:  weights,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Build computes a fresh profile without persisting it.
func (b *ProfileBuilder) Build(recipient domain.Recipient, eventID string, registeredAt time.Time) *domain.EngagementProfile {
	signals := scoring.SignalsFromRecipient(recipient)
	score := scoring.EngagementScore(b.weights, signals)

	profile := &domain.EngagementProfile{
		ID:               uuid.NewString(),
		RecipientID:      recipient.ID,
		EventID:          eventID,
		RegisteredAt:     registeredAt,
		AttendanceState:  domain.AttendanceRegistered,
		EngagementScore:  score,
		PreferredChannel: scoring.PreferredChannel(score, signals.HasPhone),
		Patterns: domain.BehaviorPatterns{
			BestContactHour:          scoring.BestContactHour(score),
			AverageResponseMinutes:   scoring.AverageResponseMinutes(score),
			ChannelAffinity:          scoring.ChannelAffinity(score, signals.HasPhone),
			HistoricalAttendanceRate: scoring.HistoricalAttendanceRate(score, signals.EngagementMinutes),
			UrgencyResponsiveness:    scoring.UrgencyResponsiveness(score),
			IncentiveResponsiveness:  scoring.IncentiveResponsiveness(score),
		},
		UpdatedAt: registeredAt,
	}
	profile.Normalize()
	return profile
}

// InitializeProfile creates the profile for a recipient's registration. A
// second registration for the same event returns the existing profile and
// created=false.
func (b *ProfileBuilder) InitializeProfile(ctx context.Context, recipient domain.Recipient, eventID string) (*domain.EngagementProfile, bool, error) {
	if err := recipient.Validate(); err != nil {
		return nil, false, err
	}
	if eventID == "" {
		return nil, false, fmt.Errorf("%w: event id is required", domain.ErrValidation)
	}

	profile := b.Build(recipient, eventID, b.now().UTC())
	err := b.profiles.Create(ctx, profile)
	if errors.Is(err, domain.ErrConflict) {
		existing, getErr := b.profiles.GetByEventAndRecipient(ctx, eventID, recipient.ID)
		if getErr != nil {
			return nil, false, fmt.Errorf("failed to load existing profile: %w", getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create profile: %w", err)
	}

	b.logger.Debug("engagement profile initialized",
		zap.String("profileId", profile.ID),
		zap.String("eventId", eventID),
		zap.Int("score", profile.EngagementScore),
		zap.String("preferredChannel", profile.PreferredChannel.String()),
	)
	return profile, true, nil
}

// UpdateFromInteraction applies one recipient interaction to a stored profile.
func (b *ProfileBuilder) UpdateFromInteraction(
	ctx context.Context,
	profileID string,
	kind domain.InteractionType,
	channel domain.Channel,
) (*domain.EngagementProfile, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: invalid interaction type %q", domain.ErrValidation, kind)
	}
	if channel != "" && !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	now := b.now().UTC()
	return b.profiles.Update(ctx, profileID, func(p *domain.EngagementProfile) error {
		applyInteraction(p, kind, channel)
		p.UpdatedAt = now
		return nil
	})
}

func applyInteraction(p *domain.EngagementProfile, kind domain.InteractionType, channel domain.Channel) {
	p.EngagementScore += scoring.InteractionScoreDelta(kind, channel)

	switch kind {
	case domain.InteractionOpen, domain.InteractionClick:
		p.OpenCount++
	case domain.InteractionJoin:
		p.AttendanceState = domain.AttendanceAttended
		p.Patterns.HistoricalAttendanceRate += scoring.AttendanceRateJoinBoost
	case domain.InteractionNoShow:
		p.AttendanceState = domain.AttendanceNoShow
		p.Patterns.HistoricalAttendanceRate -= scoring.AttendanceRateNoShowPenalty
	}

	if (kind == domain.InteractionClick || kind == domain.InteractionJoin) && channel.IsValid() {
		if p.Patterns.ChannelAffinity == nil {
			p.Patterns.ChannelAffinity = make(map[domain.Channel]float64)
		}
		p.Patterns.ChannelAffinity[channel] += scoring.AffinityInteractionBoost
	}

	p.Normalize()
}
