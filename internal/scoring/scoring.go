// Package scoring holds the pure heuristics behind engagement profiles and
// attendance prediction. Every weight lives in Weights so deployments can tune
// them without touching call sites.
package scoring

import (
	"fmt"
	"math"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

const weightTolerance = 1e-6

// Weights are the linear blend coefficients used by the engine.
type Weights struct {
	Intent      float64
	Time        float64
	Interaction float64

	LikelihoodScore   float64
	LikelihoodHistory float64
	LikelihoodRecency float64
	LikelihoodUrgency float64

	RecencyWindowDays float64
}

func DefaultWeights() Weights {
	return Weights{
		Intent:            0.4,
		Time:              0.3,
		Interaction:       0.3,
		LikelihoodScore:   0.4,
		LikelihoodHistory: 0.3,
		LikelihoodRecency: 0.2,
		LikelihoodUrgency: 0.1,
		RecencyWindowDays: 14,
	}
}

// Validate rejects negative weights and blends that do not sum to one.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"intent":             w.Intent,
		"time":               w.Time,
		"interaction":        w.Interaction,
		"likelihood score":   w.LikelihoodScore,
		"likelihood history": w.LikelihoodHistory,
		"likelihood recency": w.LikelihoodRecency,
		"likelihood urgency": w.LikelihoodUrgency,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s weight cannot be negative", domain.ErrValidation, name)
		}
	}
	if sum := w.Intent + w.Time + w.Interaction; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: engagement weights sum to %.3f, want 1", domain.ErrValidation, sum)
	}
	if sum := w.LikelihoodScore + w.LikelihoodHistory + w.LikelihoodRecency + w.LikelihoodUrgency; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: likelihood weights sum to %.3f, want 1", domain.ErrValidation, sum)
	}
	if w.RecencyWindowDays <= 0 {
		return fmt.Errorf("%w: recency window must be positive", domain.ErrValidation)
	}
	return nil
}

// Signals are the raw registration-time behaviour inputs.
type Signals struct {
	IntentScore       float64
	EngagementMinutes float64
	PageViews         int
	Interactions      int
	ScrollDepth       float64
	HasPhone          bool
}

func SignalsFromRecipient(r domain.Recipient) Signals {
	return Signals{
		IntentScore:       r.IntentScore,
		EngagementMinutes: r.EngagementMinutes,
		PageViews:         r.PageViews,
		Interactions:      r.Interactions,
		ScrollDepth:       r.ScrollDepth,
		HasPhone:          r.HasPhone(),
	}
}

// EngagementScore blends intent, time-on-page and interaction depth into 0..100.
func EngagementScore(w Weights, s Signals) int {
	timeComponent := math.Min(s.EngagementMinutes/10, 1) * 30
	interactionComponent := math.Min(
		float64(s.PageViews)/10*10+float64(s.Interactions)/20*10+s.ScrollDepth*10,
		30,
	)
	raw := w.Intent*s.IntentScore + w.Time*timeComponent + w.Interaction*interactionComponent
	return domain.ClampInt(int(math.Round(raw)), 0, 100)
}

func PreferredChannel(score int, hasPhone bool) domain.Channel {
	if score >= 80 && hasPhone {
		return domain.ChannelSMS
	}
	return domain.ChannelEmail
}

func BestContactHour(score int) int {
	switch {
	case score >= 80:
		return 9
	case score >= 60:
		return 19
	default:
		return 12
	}
}

func AverageResponseMinutes(score int) int {
	switch {
	case score >= 80:
		return 30
	case score >= 60:
		return 120
	default:
		return 480
	}
}

func ChannelAffinity(score int, hasPhone bool) map[domain.Channel]float64 {
	affinity := map[domain.Channel]float64{
		domain.ChannelEmail:    1.0,
		domain.ChannelSMS:      0,
		domain.ChannelWhatsApp: 0,
		domain.ChannelPush:     0.4,
	}
	if hasPhone && score >= 70 {
		affinity[domain.ChannelSMS] = 0.8
	}
	if hasPhone && score >= 60 {
		affinity[domain.ChannelWhatsApp] = 0.6
	}
	return affinity
}

func HistoricalAttendanceRate(score int, engagementMinutes float64) float64 {
	switch {
	case score >= 80 && engagementMinutes >= 5:
		return 0.85
	case score >= 60:
		return 0.70
	case score >= 40:
		return 0.50
	default:
		return 0.30
	}
}

func UrgencyResponsiveness(score int) float64 {
	return domain.ClampFloat(float64(score)/100, 0, 1)
}

// IncentiveResponsiveness is inversely related to score: highly engaged
// recipients need less of a push.
func IncentiveResponsiveness(score int) float64 {
	switch {
	case score >= 90:
		return 0.6
	case score >= 70:
		return 0.8
	default:
		return 0.9
	}
}

// InteractionScoreDelta is the engagement score change for an interaction.
func InteractionScoreDelta(kind domain.InteractionType, channel domain.Channel) int {
	switch kind {
	case domain.InteractionOpen:
		return 5
	case domain.InteractionClick:
		if channel == domain.ChannelSMS {
			return 15
		}
		return 10
	}
	return 0
}

const (
	AttendanceRateJoinBoost     = 0.1
	AttendanceRateNoShowPenalty = 0.2
	AffinityInteractionBoost    = 0.1
)

// AttendanceLikelihood predicts the probability that a profile attends.
func AttendanceLikelihood(w Weights, score int, historicalRate, urgency, daysSinceRegistration float64) float64 {
	recency := math.Max(0, 1-daysSinceRegistration/w.RecencyWindowDays)
	v := w.LikelihoodScore*(float64(score)/100) +
		w.LikelihoodHistory*historicalRate +
		w.LikelihoodRecency*recency +
		w.LikelihoodUrgency*urgency
	return domain.ClampFloat(v, 0, 1)
}
