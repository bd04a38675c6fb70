package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/kursadbilgin/attendance-engine/internal/service"
)

type AttendanceService interface {
	CreateEvent(ctx context.Context, event *domain.Event) (*domain.Event, error)
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ActivateEvent(ctx context.Context, id string) (*domain.Event, error)
	CompleteEvent(ctx context.Context, id string) (*domain.Event, error)
	RegisterRecipient(ctx context.Context, eventID string, recipient domain.Recipient) (*service.Registration, error)
	Analytics(eventID string) domain.CampaignMetrics
	RecommendIntervention(ctx context.Context, eventID, profileID string) (*service.Intervention, error)
	RecordInteraction(ctx context.Context, profileID string, kind domain.InteractionType, channel domain.Channel) (*domain.EngagementProfile, error)
	GetEntry(ctx context.Context, id string) (*domain.ScheduleEntry, error)
	CancelEntry(ctx context.Context, id string) (*domain.ScheduleEntry, error)
	ApplyWebhook(ctx context.Context, providerName, channel string, payload []byte) ([]service.WebhookEvent, error)
}

type DispatchService interface {
	Metrics() []service.ProviderStats
	TestConfiguration(ctx context.Context) service.ConfigurationReport
}

type AttendanceHandler struct {
	service  AttendanceService
	dispatch DispatchService
}

func NewAttendanceHandler(service AttendanceService, dispatch DispatchService) (*AttendanceHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("attendance service is required")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &AttendanceHandler{service: service, dispatch: dispatch}, nil
}

func RegisterAttendanceRoutes(router fiber.Router, service AttendanceService, dispatch DispatchService) error {
	h, err := NewAttendanceHandler(service, dispatch)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/events", h.CreateEvent)
	v1.Get("/events/:id", h.GetEvent)
	v1.Post("/events/:id/activate", h.ActivateEvent)
	v1.Post("/events/:id/complete", h.CompleteEvent)
	v1.Post("/events/:id/recipients", h.RegisterRecipient)
	v1.Get("/events/:id/analytics", h.GetAnalytics)
	v1.Post("/events/:id/profiles/:profileId/intervention", h.RecommendIntervention)
	v1.Post("/interactions", h.RecordInteraction)
	v1.Get("/entries/:id", h.GetEntry)
	v1.Post("/entries/:id/cancel", h.CancelEntry)
	v1.Post("/webhooks/:provider/:channel", h.ReceiveWebhook)
	v1.Get("/dispatch/metrics", h.DispatchMetrics)
	v1.Get("/dispatch/configuration", h.DispatchConfiguration)

	return nil
}

type createEventRequest struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Host            string    `json:"host"`
	StartsAt        time.Time `json:"startsAt"`
	DurationMinutes int       `json:"durationMinutes"`
	Timezone        string    `json:"timezone"`
	JoinURL         string    `json:"joinUrl"`
	Capacity        int       `json:"capacity"`
}

type consentRequest struct {
	Email    *bool `json:"email,omitempty"`
	SMS      *bool `json:"sms,omitempty"`
	WhatsApp *bool `json:"whatsapp,omitempty"`
	Push     *bool `json:"push,omitempty"`
}

type recipientRequest struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Email             string         `json:"email"`
	Phone             string         `json:"phone"`
	PushToken         string         `json:"pushToken"`
	IntentScore       float64        `json:"intentScore"`
	EngagementMinutes float64        `json:"engagementMinutes"`
	PageViews         int            `json:"pageViews"`
	Interactions      int            `json:"interactions"`
	ScrollDepth       float64        `json:"scrollDepth"`
	Consent           consentRequest `json:"consent"`
}

type interactionRequest struct {
	ProfileID string `json:"profileId"`
	Type      string `json:"type"`
	Channel   string `json:"channel"`
}

type eventResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Host            string    `json:"host,omitempty"`
	StartsAt        time.Time `json:"startsAt"`
	DurationMinutes int       `json:"durationMinutes"`
	Timezone        string    `json:"timezone,omitempty"`
	JoinURL         string    `json:"joinUrl,omitempty"`
	Capacity        int       `json:"capacity"`
	RegisteredCount int       `json:"registeredCount"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type patternsResponse struct {
	BestContactHour          int                `json:"bestContactHour"`
	AverageResponseMinutes   int                `json:"averageResponseMinutes"`
	ChannelAffinity          map[string]float64 `json:"channelAffinity"`
	HistoricalAttendanceRate float64            `json:"historicalAttendanceRate"`
	UrgencyResponsiveness    float64            `json:"urgencyResponsiveness"`
	IncentiveResponsiveness  float64            `json:"incentiveResponsiveness"`
}

type profileResponse struct {
	ID               string           `json:"id"`
	RecipientID      string           `json:"recipientId"`
	EventID          string           `json:"eventId"`
	RegisteredAt     time.Time        `json:"registeredAt"`
	AttendanceState  string           `json:"attendanceState"`
	EngagementScore  int              `json:"engagementScore"`
	PreferredChannel string           `json:"preferredChannel"`
	Patterns         patternsResponse `json:"patterns"`
	OpenCount        int              `json:"openCount"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

type entryResponse struct {
	ID                string     `json:"id"`
	EventID           string     `json:"eventId"`
	ProfileID         string     `json:"profileId"`
	RecipientID       string     `json:"recipientId"`
	TemplateID        string     `json:"templateId"`
	Kind              string     `json:"kind"`
	Channel           string     `json:"channel"`
	ScheduledAt       time.Time  `json:"scheduledAt"`
	Status            string     `json:"status"`
	Subject           string     `json:"subject,omitempty"`
	Content           string     `json:"content"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	OpenedAt          *time.Time `json:"openedAt,omitempty"`
	ClickedAt         *time.Time `json:"clickedAt,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
}

type registrationResponse struct {
	Profile profileResponse `json:"profile"`
	Entries []entryResponse `json:"entries"`
	Created bool            `json:"created"`
}

type interventionResponse struct {
	Risk       string         `json:"risk"`
	Likelihood float64        `json:"likelihood"`
	Entry      *entryResponse `json:"entry,omitempty"`
}

type countersResponse struct {
	Sent            int64   `json:"sent"`
	Failed          int64   `json:"failed"`
	Opened          int64   `json:"opened"`
	Clicked         int64   `json:"clicked"`
	Attended        int64   `json:"attended"`
	OpenRate        float64 `json:"openRate"`
	ClickRate       float64 `json:"clickRate"`
	ClickToOpenRate float64 `json:"clickToOpenRate"`
	FailureRate     float64 `json:"failureRate"`
}

type analyticsResponse struct {
	EventID         string                      `json:"eventId"`
	Registered      int64                       `json:"registered"`
	Totals          countersResponse            `json:"totals"`
	OpenRate        float64                     `json:"openRate"`
	ClickRate       float64                     `json:"clickRate"`
	ClickToOpenRate float64                     `json:"clickToOpenRate"`
	FailureRate     float64                     `json:"failureRate"`
	AttendanceRate  float64                     `json:"attendanceRate"`
	ByChannel       map[string]countersResponse `json:"byChannel"`
	ByTemplate      map[string]countersResponse `json:"byTemplate"`
}

type webhookEventResponse struct {
	ScheduleID string    `json:"scheduleId,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	AttemptID  string    `json:"attemptId,omitempty"`
	MessageID  string    `json:"messageId"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

type providerStatsResponse struct {
	Channel          string           `json:"channel"`
	Provider         string           `json:"provider"`
	Sent             int64            `json:"sent"`
	Delivered        int64            `json:"delivered"`
	Failed           int64            `json:"failed"`
	Errors           map[string]int64 `json:"errors,omitempty"`
	AverageLatencyMs int64            `json:"averageLatencyMs"`
}

func (h *AttendanceHandler) CreateEvent(c *fiber.Ctx) error {
	var req createEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.DurationMinutes < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "durationMinutes cannot be negative")
	}

	created, err := h.service.CreateEvent(c.UserContext(), &domain.Event{
		ID:       strings.TrimSpace(req.ID),
		Title:    req.Title,
		Host:     req.Host,
		StartsAt: req.StartsAt,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		Timezone: req.Timezone,
		JoinURL:  req.JoinURL,
		Capacity: req.Capacity,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toEventResponse(created))
}

func (h *AttendanceHandler) GetEvent(c *fiber.Ctx) error {
	event, err := h.service.GetEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toEventResponse(event))
}

func (h *AttendanceHandler) ActivateEvent(c *fiber.Ctx) error {
	event, err := h.service.ActivateEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toEventResponse(event))
}

func (h *AttendanceHandler) CompleteEvent(c *fiber.Ctx) error {
	event, err := h.service.CompleteEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toEventResponse(event))
}

func (h *AttendanceHandler) RegisterRecipient(c *fiber.Ctx) error {
	var req recipientRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	reg, err := h.service.RegisterRecipient(c.UserContext(), c.Params("id"), requestToDomainRecipient(req))
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusOK
	if reg.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(registrationResponse{
		Profile: toProfileResponse(reg.Profile),
		Entries: toEntryResponses(reg.Entries),
		Created: reg.Created,
	})
}

func (h *AttendanceHandler) GetAnalytics(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.service.GetEvent(c.UserContext(), id); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toAnalyticsResponse(h.service.Analytics(id)))
}

func (h *AttendanceHandler) RecommendIntervention(c *fiber.Ctx) error {
	result, err := h.service.RecommendIntervention(c.UserContext(), c.Params("id"), c.Params("profileId"))
	if err != nil {
		return toHTTPError(err)
	}

	resp := interventionResponse{
		Risk:       string(result.Risk),
		Likelihood: result.Likelihood,
	}
	status := fiber.StatusOK
	if result.Entry != nil {
		entry := toEntryResponse(result.Entry)
		resp.Entry = &entry
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(resp)
}

func (h *AttendanceHandler) RecordInteraction(c *fiber.Ctx) error {
	var req interactionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ProfileID) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "profileId is required")
	}

	kind, err := domain.ParseInteractionTypeFromString(req.Type)
	if err != nil {
		return toHTTPError(err)
	}
	var channel domain.Channel
	if strings.TrimSpace(req.Channel) != "" {
		if channel, err = domain.ParseChannelFromString(req.Channel); err != nil {
			return toHTTPError(err)
		}
	}

	profile, err := h.service.RecordInteraction(c.UserContext(), req.ProfileID, kind, channel)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toProfileResponse(profile))
}

func (h *AttendanceHandler) GetEntry(c *fiber.Ctx) error {
	entry, err := h.service.GetEntry(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toEntryResponse(entry))
}

func (h *AttendanceHandler) CancelEntry(c *fiber.Ctx) error {
	entry, err := h.service.CancelEntry(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toEntryResponse(entry))
}

// ReceiveWebhook accepts raw provider callbacks. Unresolvable message ids are
// reported back but never fail the request.
func (h *AttendanceHandler) ReceiveWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	if len(payload) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty webhook payload")
	}

	events, err := h.service.ApplyWebhook(c.UserContext(), c.Params("provider"), c.Params("channel"), payload)
	if err != nil {
		return toHTTPError(err)
	}

	resp := make([]webhookEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, webhookEventResponse{
			ScheduleID: ev.ScheduleID,
			SessionID:  ev.SessionID,
			AttemptID:  ev.AttemptID,
			MessageID:  ev.MessageID,
			Status:     ev.Status.String(),
			Timestamp:  ev.Timestamp,
			Error:      ev.Error,
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"events": resp,
	})
}

func (h *AttendanceHandler) DispatchMetrics(c *fiber.Ctx) error {
	stats := h.dispatch.Metrics()
	resp := make([]providerStatsResponse, 0, len(stats))
	for _, s := range stats {
		resp = append(resp, providerStatsResponse{
			Channel:          s.Channel.String(),
			Provider:         s.Provider,
			Sent:             s.Sent,
			Delivered:        s.Delivered,
			Failed:           s.Failed,
			Errors:           s.Errors,
			AverageLatencyMs: s.AverageLatency.Milliseconds(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"providers": resp,
	})
}

func (h *AttendanceHandler) DispatchConfiguration(c *fiber.Ctx) error {
	report := h.dispatch.TestConfiguration(c.UserContext())

	channels := make(map[string]bool, len(report.Channels))
	for ch, ok := range report.Channels {
		channels[ch.String()] = ok
	}
	errs := report.Errors
	if errs == nil {
		errs = []string{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"channels": channels,
		"errors":   errs,
	})
}

func requestToDomainRecipient(req recipientRequest) domain.Recipient {
	return domain.Recipient{
		ID:                strings.TrimSpace(req.ID),
		Name:              req.Name,
		Email:             req.Email,
		Phone:             req.Phone,
		PushToken:         req.PushToken,
		IntentScore:       req.IntentScore,
		EngagementMinutes: req.EngagementMinutes,
		PageViews:         req.PageViews,
		Interactions:      req.Interactions,
		ScrollDepth:       req.ScrollDepth,
		Consent: domain.Consent{
			Email:    req.Consent.Email,
			SMS:      req.Consent.SMS,
			WhatsApp: req.Consent.WhatsApp,
			Push:     req.Consent.Push,
		},
	}
}

func toEventResponse(e *domain.Event) eventResponse {
	if e == nil {
		return eventResponse{}
	}

	return eventResponse{
		ID:              e.ID,
		Title:           e.Title,
		Host:            e.Host,
		StartsAt:        e.StartsAt,
		DurationMinutes: int(e.Duration / time.Minute),
		Timezone:        e.Timezone,
		JoinURL:         e.JoinURL,
		Capacity:        e.Capacity,
		RegisteredCount: e.RegisteredCount,
		Status:          e.Status.String(),
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toProfileResponse(p *domain.EngagementProfile) profileResponse {
	if p == nil {
		return profileResponse{}
	}

	affinity := make(map[string]float64, len(p.Patterns.ChannelAffinity))
	for ch, v := range p.Patterns.ChannelAffinity {
		affinity[ch.String()] = v
	}
	return profileResponse{
		ID:               p.ID,
		RecipientID:      p.RecipientID,
		EventID:          p.EventID,
		RegisteredAt:     p.RegisteredAt,
		AttendanceState:  p.AttendanceState.String(),
		EngagementScore:  p.EngagementScore,
		PreferredChannel: p.PreferredChannel.String(),
		Patterns: patternsResponse{
			BestContactHour:          p.Patterns.BestContactHour,
			AverageResponseMinutes:   p.Patterns.AverageResponseMinutes,
			ChannelAffinity:          affinity,
			HistoricalAttendanceRate: p.Patterns.HistoricalAttendanceRate,
			UrgencyResponsiveness:    p.Patterns.UrgencyResponsiveness,
			IncentiveResponsiveness:  p.Patterns.IncentiveResponsiveness,
		},
		OpenCount: p.OpenCount,
		UpdatedAt: p.UpdatedAt,
	}
}

func toEntryResponses(entries []domain.ScheduleEntry) []entryResponse {
	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		e := entry
		responses = append(responses, toEntryResponse(&e))
	}
	return responses
}

func toEntryResponse(e *domain.ScheduleEntry) entryResponse {
	if e == nil {
		return entryResponse{}
	}

	return entryResponse{
		ID:                e.ID,
		EventID:           e.EventID,
		ProfileID:         e.ProfileID,
		RecipientID:       e.RecipientID,
		TemplateID:        e.TemplateID,
		Kind:              string(e.Kind),
		Channel:           e.Channel.String(),
		ScheduledAt:       e.ScheduledAt,
		Status:            e.Status.String(),
		Subject:           e.Subject,
		Content:           e.Content,
		ProviderMessageID: e.ProviderMessageID,
		SentAt:            e.Metrics.SentAt,
		DeliveredAt:       e.Metrics.DeliveredAt,
		OpenedAt:          e.Metrics.OpenedAt,
		ClickedAt:         e.Metrics.ClickedAt,
		ErrorMessage:      e.Metrics.ErrorMessage,
	}
}

func toCountersResponse(c domain.Counters) countersResponse {
	rates := c.Rates()
	return countersResponse{
		Sent:            c.Sent,
		Failed:          c.Failed,
		Opened:          c.Opened,
		Clicked:         c.Clicked,
		Attended:        c.Attended,
		OpenRate:        rates.OpenRate,
		ClickRate:       rates.ClickRate,
		ClickToOpenRate: rates.ClickToOpenRate,
		FailureRate:     rates.FailureRate,
	}
}

func toAnalyticsResponse(m domain.CampaignMetrics) analyticsResponse {
	byChannel := make(map[string]countersResponse, len(m.ByChannel))
	for ch, c := range m.ByChannel {
		byChannel[ch.String()] = toCountersResponse(c)
	}
	byTemplate := make(map[string]countersResponse, len(m.ByTemplate))
	for id, c := range m.ByTemplate {
		byTemplate[id] = toCountersResponse(c)
	}

	return analyticsResponse{
		EventID:         m.EventID,
		Registered:      m.Registered,
		Totals:          toCountersResponse(m.Totals),
		OpenRate:        m.TotalRates.OpenRate,
		ClickRate:       m.TotalRates.ClickRate,
		ClickToOpenRate: m.TotalRates.ClickToOpenRate,
		FailureRate:     m.TotalRates.FailureRate,
		AttendanceRate:  m.AttendanceRate,
		ByChannel:       byChannel,
		ByTemplate:      byTemplate,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
