package domain

import (
	"fmt"
	"strings"
)

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelPush     Channel = "PUSH"
)

// SupportedChannels lists every channel in dispatch preference order.
var SupportedChannels = []Channel{ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelPush}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush:
		return true
	}
	return false
}

// UsesPhone reports whether the channel is addressed by phone number.
func (c Channel) UsesPhone() bool {
	return c == ChannelSMS || c == ChannelWhatsApp
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Content limits per channel (in characters).
const (
	MaxSMSContent      = 480
	MaxWhatsAppContent = 4096
	MaxPushContent     = 240
	MaxEmailContent    = 100000
)

// MaxContentLength returns the rune limit for a channel, or 0 when unknown.
func MaxContentLength(c Channel) int {
	switch c {
	case ChannelSMS:
		return MaxSMSContent
	case ChannelWhatsApp:
		return MaxWhatsAppContent
	case ChannelPush:
		return MaxPushContent
	case ChannelEmail:
		return MaxEmailContent
	}
	return 0
}

// Recipient is the registration-layer view of an attendee: contact details,
// consent flags and the behavioural signals captured during sign-up.
type Recipient struct {
	ID                string
	Name              string
	Email             string
	Phone             string
	PushToken         string
	IntentScore       float64
	EngagementMinutes float64
	PageViews         int
	Interactions      int
	ScrollDepth       float64
	Consent           Consent
}

// Consent captures per-channel opt-ins. A nil map entry means "not asked";
// only an explicit false blocks a channel.
type Consent struct {
	Email    *bool
	SMS      *bool
	WhatsApp *bool
	Push     *bool
}

func (c Consent) allows(ch Channel) bool {
	var flag *bool
	switch ch {
	case ChannelEmail:
		flag = c.Email
	case ChannelSMS:
		flag = c.SMS
	case ChannelWhatsApp:
		flag = c.WhatsApp
	case ChannelPush:
		flag = c.Push
	}
	return flag == nil || *flag
}

func (r Recipient) HasPhone() bool {
	return strings.TrimSpace(r.Phone) != ""
}

// FirstName returns the first word of the recipient name, or "there".
func (r Recipient) FirstName() string {
	fields := strings.Fields(r.Name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// Destination resolves the address used for a channel. An empty string means
// the recipient cannot be reached on that channel.
func (r Recipient) Destination(ch Channel) string {
	if !r.Consent.allows(ch) {
		return ""
	}
	switch ch {
	case ChannelEmail:
		return strings.TrimSpace(r.Email)
	case ChannelSMS, ChannelWhatsApp:
		return strings.TrimSpace(r.Phone)
	case ChannelPush:
		return strings.TrimSpace(r.PushToken)
	}
	return ""
}

func (r Recipient) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: recipient id is required", ErrValidation)
	}
	if strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Phone) == "" {
		return fmt.Errorf("%w: recipient %s needs an email or a phone", ErrValidation, r.ID)
	}
	if r.IntentScore < 0 || r.IntentScore > 100 {
		return fmt.Errorf("%w: intent score must be between 0 and 100", ErrValidation)
	}
	if r.ScrollDepth < 0 || r.ScrollDepth > 1 {
		return fmt.Errorf("%w: scroll depth must be between 0 and 1", ErrValidation)
	}
	return nil
}
