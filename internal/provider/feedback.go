package provider

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/tidwall/gjson"
)

// Feedback formats understood by ParseFeedback.
const (
	FormatSendGrid = "sendgrid"
	FormatTwilio   = "twilio"
	FormatWhatsApp = "whatsapp"
	FormatGeneric  = "generic"
)

// FeedbackEvent is a provider delivery callback normalized to schedule status vocabulary.
// ScheduleID is filled when the provider echoes our reference; otherwise the
// caller resolves MessageID.
type FeedbackEvent struct {
	MessageID  string
	ScheduleID string
	Channel    domain.Channel
	Status     domain.Status
	Timestamp  time.Time
	Error      string
}

type normalizer func(payload []byte, now time.Time) ([]FeedbackEvent, error)

var normalizers = map[string]normalizer{
	FormatSendGrid: parseSendGrid,
	FormatTwilio:   parseTwilio,
	FormatWhatsApp: parseWhatsApp,
	FormatGeneric:  parseGeneric,
}

// ParseFeedback normalizes a webhook payload. Callbacks that carry no
// schedule-relevant status (queued, processed, deferred) are dropped.
func ParseFeedback(format string, channel domain.Channel, payload []byte, now time.Time) ([]FeedbackEvent, error) {
	parse, ok := normalizers[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported webhook provider %q", domain.ErrValidation, format)
	}

	events, err := parse(payload, now)
	if err != nil {
		return nil, err
	}

	out := events[:0]
	for _, ev := range events {
		if ev.Status == "" || (ev.MessageID == "" && ev.ScheduleID == "") {
			continue
		}
		ev.Channel = channel
		out = append(out, ev)
	}
	return out, nil
}

func parseSendGrid(payload []byte, now time.Time) ([]FeedbackEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: sendgrid payload is not valid json", domain.ErrValidation)
	}

	root := gjson.ParseBytes(payload)
	items := root.Array()
	if !root.IsArray() {
		items = []gjson.Result{root}
	}

	events := make([]FeedbackEvent, 0, len(items))
	for _, item := range items {
		// sg_message_id carries a ".filter..." suffix the send response does not.
		msgID, _, _ := strings.Cut(item.Get("sg_message_id").String(), ".")
		events = append(events, FeedbackEvent{
			MessageID:  msgID,
			ScheduleID: item.Get("schedule_id").String(),
			Status: mapStatus(item.Get("event").String(), map[string]domain.Status{
				"delivered": domain.StatusDelivered,
				"open":      domain.StatusOpened,
				"click":     domain.StatusClicked,
				"bounce":    domain.StatusFailed,
				"dropped":   domain.StatusFailed,
				"blocked":   domain.StatusFailed,
				"rejected":  domain.StatusFailed,
			}),
			Timestamp: timestamp(item.Get("timestamp"), now),
			Error:     item.Get("reason").String(),
		})
	}
	return events, nil
}

var twilioStatuses = map[string]domain.Status{
	"sent":        domain.StatusSent,
	"delivered":   domain.StatusDelivered,
	"read":        domain.StatusOpened,
	"undelivered": domain.StatusFailed,
	"failed":      domain.StatusFailed,
	"canceled":    domain.StatusFailed,
}

// Twilio posts form-encoded callbacks; JSON bridges are accepted too.
func parseTwilio(payload []byte, now time.Time) ([]FeedbackEvent, error) {
	if gjson.ValidBytes(payload) {
		root := gjson.ParseBytes(payload)
		return []FeedbackEvent{{
			MessageID: root.Get("MessageSid").String(),
			Status:    mapStatus(root.Get("MessageStatus").String(), twilioStatuses),
			Timestamp: now,
			Error:     twilioError(root.Get("ErrorCode").String(), root.Get("ErrorMessage").String()),
		}}, nil
	}

	form, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: twilio payload: %v", domain.ErrValidation, err)
	}
	return []FeedbackEvent{{
		MessageID: form.Get("MessageSid"),
		Status:    mapStatus(form.Get("MessageStatus"), twilioStatuses),
		Timestamp: now,
		Error:     twilioError(form.Get("ErrorCode"), form.Get("ErrorMessage")),
	}}, nil
}

func twilioError(code, message string) string {
	switch {
	case code != "" && message != "":
		return code + ": " + message
	case code != "":
		return "twilio error " + code
	default:
		return message
	}
}

func parseWhatsApp(payload []byte, now time.Time) ([]FeedbackEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: whatsapp payload is not valid json", domain.ErrValidation)
	}

	events := make([]FeedbackEvent, 0)
	appendStatus := func(_, st gjson.Result) bool {
		events = append(events, FeedbackEvent{
			MessageID: st.Get("id").String(),
			Status: mapStatus(st.Get("status").String(), map[string]domain.Status{
				"sent":      domain.StatusSent,
				"delivered": domain.StatusDelivered,
				"read":      domain.StatusOpened,
				"failed":    domain.StatusFailed,
			}),
			Timestamp: timestamp(st.Get("timestamp"), now),
			Error:     st.Get("errors.0.title").String(),
		})
		return true
	}

	gjson.GetBytes(payload, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			change.Get("value.statuses").ForEach(appendStatus)
			return true
		})
		return true
	})
	return events, nil
}

func parseGeneric(payload []byte, now time.Time) ([]FeedbackEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: webhook payload is not valid json", domain.ErrValidation)
	}

	root := gjson.ParseBytes(payload)
	items := []gjson.Result{root}
	if root.IsArray() {
		items = root.Array()
	}

	events := make([]FeedbackEvent, 0, len(items))
	for _, item := range items {
		events = append(events, FeedbackEvent{
			MessageID:  firstString(item, "message_id", "messageId", "id"),
			ScheduleID: firstString(item, "schedule_id", "scheduleId", "reference"),
			Status: mapStatus(item.Get("status").String(), map[string]domain.Status{
				"sent":      domain.StatusSent,
				"delivered": domain.StatusDelivered,
				"opened":    domain.StatusOpened,
				"open":      domain.StatusOpened,
				"read":      domain.StatusOpened,
				"clicked":   domain.StatusClicked,
				"click":     domain.StatusClicked,
				"failed":    domain.StatusFailed,
				"bounced":   domain.StatusFailed,
				"rejected":  domain.StatusFailed,
			}),
			Timestamp: timestamp(item.Get("timestamp"), now),
			Error:     firstString(item, "error", "reason"),
		})
	}
	return events, nil
}

func mapStatus(raw string, table map[string]domain.Status) domain.Status {
	return table[strings.ToLower(strings.TrimSpace(raw))]
}

func firstString(item gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := item.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

// timestamp accepts unix seconds (number or numeric string) or RFC3339.
func timestamp(v gjson.Result, fallback time.Time) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.Unix(v.Int(), 0).UTC()
	case gjson.String:
		if secs, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
		if ts, err := time.Parse(time.RFC3339, v.Str); err == nil {
			return ts.UTC()
		}
	}
	return fallback
}
