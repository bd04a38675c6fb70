package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/attendance-engine/internal/domain"
	"github.com/tidwall/gjson"
)

const defaultHTTPTimeout = 10 * time.Second

type sendRequest struct {
	Reference string `json:"reference"`
	To        string `json:"to"`
	Channel   string `json:"channel"`
	Subject   string `json:"subject,omitempty"`
	Content   string `json:"content"`
}

// HTTPConfig describes a JSON-over-HTTP channel gateway.
type HTTPConfig struct {
	Name     string
	Channel  domain.Channel
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPProvider posts messages to a channel gateway (SendGrid relay, Twilio
// bridge, WhatsApp Cloud proxy or any webhook-compatible endpoint).
type HTTPProvider struct {
	client   *resty.Client
	name     string
	channel  domain.Channel
	endpoint string
}

func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	return NewHTTPProviderWithClient(cfg, resty.New())
}

func NewHTTPProviderWithClient(cfg HTTPConfig, client *resty.Client) (*HTTPProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		return nil, fmt.Errorf("%w: provider name is required", domain.ErrConfiguration)
	}
	if !cfg.Channel.IsValid() {
		return nil, fmt.Errorf("%w: provider %s has invalid channel %q", domain.ErrConfiguration, name, cfg.Channel)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: provider %s endpoint is required", domain.ErrConfiguration, name)
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint for provider %s: %v", domain.ErrConfiguration, name, err)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: resty client is required", domain.ErrConfiguration)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTPProvider{
		client:   client,
		name:     name,
		channel:  cfg.Channel,
		endpoint: endpoint,
	}, nil
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Channel() domain.Channel { return p.channel }

func (p *HTTPProvider) Send(ctx context.Context, msg Message) (*Response, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("%w: provider is not initialized", domain.ErrConfiguration)
	}
	if msg.Channel != p.channel {
		return nil, fmt.Errorf("%w: provider %s cannot send %s messages", domain.ErrValidation, p.name, msg.Channel)
	}
	if strings.TrimSpace(msg.Destination) == "" {
		return nil, fmt.Errorf("%w: destination is required", domain.ErrValidation)
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", msg.Reference).
		SetBody(sendRequest{
			Reference: msg.Reference,
			To:        msg.Destination,
			Channel:   strings.ToLower(msg.Channel.String()),
			Subject:   msg.Subject,
			Content:   msg.Content,
		}).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Response{
			StatusCode: statusCode,
			Body:       body,
			MessageID:  messageID(response.Header(), body),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, body),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (p *HTTPProvider) TestConfiguration(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("%w: provider is not initialized", domain.ErrConfiguration)
	}

	response, err := p.client.R().SetContext(ctx).Head(p.endpoint)
	if err != nil {
		return &ProviderError{Message: "endpoint unreachable", Transient: true, Cause: err}
	}

	switch code := response.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &ProviderError{StatusCode: code, Message: "credentials rejected"}
	case code >= http.StatusInternalServerError:
		return &ProviderError{StatusCode: code, Message: "endpoint unhealthy", Transient: true}
	}
	return nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if detail := gjson.Get(body, "error.message"); detail.Exists() {
		return fmt.Sprintf("%s: %s", base, detail.String())
	}
	if detail := gjson.Get(body, "message"); detail.Exists() {
		return fmt.Sprintf("%s: %s", base, detail.String())
	}
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// messageID prefers an explicit header, then common gateway body fields.
func messageID(header http.Header, body string) string {
	for _, key := range []string{"X-Message-Id", "X-Request-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(header.Get(key)); value != "" {
			return value
		}
	}

	if !gjson.Valid(body) {
		return ""
	}
	for _, path := range []string{"message_id", "messageId", "sid", "messages.0.id", "id"} {
		if value := gjson.Get(body, path).String(); value != "" {
			return value
		}
	}
	return ""
}
