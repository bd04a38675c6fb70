package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/service"
)

type RecoveryService interface {
	TrackAbandonedSession(ctx context.Context, recipient domain.Recipient, data service.StageData) (*domain.AbandonedSession, error)
	MarkAsRecovered(ctx context.Context, sessionID string, value *float64) (*domain.AbandonedSession, error)
	GetSession(ctx context.Context, id string) (*domain.AbandonedSession, error)
	RecordAttemptInteraction(ctx context.Context, sessionID, attemptID string, kind domain.InteractionType) (*domain.AbandonedSession, error)
	Stats() service.RecoveryStats
}

type RecoveryHandler struct {
	service RecoveryService
}

func NewRecoveryHandler(service RecoveryService) (*RecoveryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("recovery service is required")
	}
	return &RecoveryHandler{service: service}, nil
}

func RegisterRecoveryRoutes(router fiber.Router, service RecoveryService) error {
	h, err := NewRecoveryHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/sessions", h.TrackSession)
	v1.Get("/sessions/:id", h.GetSession)
	v1.Post("/sessions/:id/recover", h.MarkRecovered)
	v1.Post("/sessions/:id/attempts/:attemptId/interactions", h.RecordAttemptInteraction)
	v1.Get("/recovery/stats", h.Stats)

	return nil
}

type trackSessionRequest struct {
	SessionID       string           `json:"sessionId"`
	EventID         string           `json:"eventId"`
	Stage           string           `json:"stage"`
	AbandonedAt     time.Time        `json:"abandonedAt"`
	LastInteraction time.Time        `json:"lastInteraction"`
	TotalValue      float64          `json:"totalValue"`
	Currency        string           `json:"currency"`
	Recipient       recipientRequest `json:"recipient"`
}

type recoverRequest struct {
	Value *float64 `json:"value"`
}

type attemptInteractionRequest struct {
	Type string `json:"type"`
}

type attemptResponse struct {
	ID                string     `json:"id"`
	AttemptNumber     int        `json:"attemptNumber"`
	Channel           string     `json:"channel"`
	TemplateID        string     `json:"templateId"`
	SentAt            time.Time  `json:"sentAt"`
	Incentive         string     `json:"incentive,omitempty"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	Error             string     `json:"error,omitempty"`
	Opened            bool       `json:"opened"`
	Clicked           bool       `json:"clicked"`
	Recovered         bool       `json:"recovered"`
	OpenedAt          *time.Time `json:"openedAt,omitempty"`
	ClickedAt         *time.Time `json:"clickedAt,omitempty"`
}

type sessionResponse struct {
	ID              string            `json:"id"`
	RecipientID     string            `json:"recipientId"`
	EventID         string            `json:"eventId,omitempty"`
	Stage           string            `json:"stage"`
	AbandonedAt     time.Time         `json:"abandonedAt"`
	LastInteraction time.Time         `json:"lastInteraction"`
	TotalValue      float64           `json:"totalValue"`
	Currency        string            `json:"currency,omitempty"`
	Attempts        []attemptResponse `json:"attempts"`
	IsRecovered     bool              `json:"isRecovered"`
	RecoveredAt     *time.Time        `json:"recoveredAt,omitempty"`
	RecoveredValue  float64           `json:"recoveredValue"`
}

type recoveryStatsResponse struct {
	TotalAbandoned             int64   `json:"totalAbandoned"`
	TotalRecovered             int64   `json:"totalRecovered"`
	RecoveryRate               float64 `json:"recoveryRate"`
	RevenueRecovered           float64 `json:"revenueRecovered"`
	AverageRecoveryTimeSeconds float64 `json:"averageRecoveryTimeSeconds"`
}

func (h *RecoveryHandler) TrackSession(c *fiber.Ctx) error {
	var req trackSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	stage, err := domain.ParseStageFromString(req.Stage)
	if err != nil {
		return toHTTPError(err)
	}

	session, err := h.service.TrackAbandonedSession(c.UserContext(), requestToDomainRecipient(req.Recipient), service.StageData{
		SessionID:       strings.TrimSpace(req.SessionID),
		EventID:         strings.TrimSpace(req.EventID),
		Stage:           stage,
		AbandonedAt:     req.AbandonedAt,
		LastInteraction: req.LastInteraction,
		TotalValue:      req.TotalValue,
		Currency:        req.Currency,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toSessionResponse(session))
}

func (h *RecoveryHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.service.GetSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSessionResponse(session))
}

// MarkRecovered accepts an optional {"value": n}; an empty body recovers the
// full session value.
func (h *RecoveryHandler) MarkRecovered(c *fiber.Ctx) error {
	var req recoverRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	session, err := h.service.MarkAsRecovered(c.UserContext(), c.Params("id"), req.Value)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSessionResponse(session))
}

func (h *RecoveryHandler) RecordAttemptInteraction(c *fiber.Ctx) error {
	var req attemptInteractionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	kind, err := domain.ParseInteractionTypeFromString(req.Type)
	if err != nil {
		return toHTTPError(err)
	}

	session, err := h.service.RecordAttemptInteraction(c.UserContext(), c.Params("id"), c.Params("attemptId"), kind)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSessionResponse(session))
}

func (h *RecoveryHandler) Stats(c *fiber.Ctx) error {
	stats := h.service.Stats()
	return c.Status(fiber.StatusOK).JSON(recoveryStatsResponse{
		TotalAbandoned:             stats.TotalAbandoned,
		TotalRecovered:             stats.TotalRecovered,
		RecoveryRate:               stats.RecoveryRate,
		RevenueRecovered:           stats.RevenueRecovered,
		AverageRecoveryTimeSeconds: stats.AverageRecoveryTime.Seconds(),
	})
}

func toSessionResponse(s *domain.AbandonedSession) sessionResponse {
	if s == nil {
		return sessionResponse{}
	}

	attempts := make([]attemptResponse, 0, len(s.Attempts))
	for _, a := range s.Attempts {
		attempts = append(attempts, attemptResponse{
			ID:                a.ID,
			AttemptNumber:     a.AttemptNumber,
			Channel:           a.Channel.String(),
			TemplateID:        a.TemplateID,
			SentAt:            a.SentAt,
			Incentive:         a.Incentive.Label(),
			ProviderMessageID: a.ProviderMessageID,
			Error:             a.Error,
			Opened:            a.Result.Opened,
			Clicked:           a.Result.Clicked,
			Recovered:         a.Result.Recovered,
			OpenedAt:          a.Result.OpenedAt,
			ClickedAt:         a.Result.ClickedAt,
		})
	}

	return sessionResponse{
		ID:              s.ID,
		RecipientID:     s.RecipientID,
		EventID:         s.EventID,
		Stage:           s.Stage.String(),
		AbandonedAt:     s.AbandonedAt,
		LastInteraction: s.LastInteraction,
		TotalValue:      s.TotalValue,
		Currency:        s.Currency,
		Attempts:        attempts,
		IsRecovered:     s.IsRecovered,
		RecoveredAt:     s.RecoveredAt,
		RecoveredValue:  s.RecoveredValue,
	}
}
