package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

func newTestProvider(t *testing.T, url string, channel domain.Channel) *HTTPProvider {
	t.Helper()

	p, err := NewHTTPProvider(HTTPConfig{Name: "Gateway", Channel: channel, Endpoint: url, APIKey: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPProvider() error = %v", err)
	}
	return p
}

func TestHTTPProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody sendRequest
	var gotAuth, gotKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer server.Close()

	p := newTestProvider(t, server.URL, domain.ChannelSMS)
	if p.Name() != "gateway" {
		t.Fatalf("Name() = %q, want gateway", p.Name())
	}

	resp, err := p.Send(context.Background(), Message{
		Reference:   "entry-1",
		Channel:     domain.ChannelSMS,
		Destination: "+905551112233",
		Content:     "See you at 19:00",
	})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if resp.MessageID != "SM123" {
		t.Fatalf("MessageID = %q, want SM123", resp.MessageID)
	}
	if gotBody.To != "+905551112233" || gotBody.Channel != "sms" || gotBody.Reference != "entry-1" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotKey != "entry-1" {
		t.Fatalf("Idempotency-Key = %q", gotKey)
	}
}

func TestHTTPProviderSendMessageIDFromHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Message-Id", "sg-abc")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := newTestProvider(t, server.URL, domain.ChannelEmail)
	resp, err := p.Send(context.Background(), Message{Channel: domain.ChannelEmail, Destination: "ada@example.com", Content: "hi"})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if resp.MessageID != "sg-abc" {
		t.Fatalf("MessageID = %q, want sg-abc", resp.MessageID)
	}
}

func TestHTTPProviderSendErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
		wantMessage   string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantTransient: true},
		{name: "server error", status: http.StatusBadGateway, wantTransient: true},
		{
			name:        "bad request with error body",
			status:      http.StatusBadRequest,
			body:        `{"error":{"message":"invalid number"}}`,
			wantMessage: "provider returned status 400: invalid number",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := newTestProvider(t, server.URL, domain.ChannelSMS)
			_, err := p.Send(context.Background(), Message{Channel: domain.ChannelSMS, Destination: "+1555", Content: "x"})

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("Send() error = %v, want ProviderError", err)
			}
			if providerErr.StatusCode != tt.status {
				t.Fatalf("StatusCode = %d, want %d", providerErr.StatusCode, tt.status)
			}
			if providerErr.Transient != tt.wantTransient {
				t.Fatalf("Transient = %v, want %v", providerErr.Transient, tt.wantTransient)
			}
			if tt.wantMessage != "" && providerErr.Message != tt.wantMessage {
				t.Fatalf("Message = %q, want %q", providerErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestHTTPProviderSendRejectsWrongChannel(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, "http://127.0.0.1:1", domain.ChannelSMS)
	_, err := p.Send(context.Background(), Message{Channel: domain.ChannelEmail, Destination: "a@b.c", Content: "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send() error = %v, want ErrValidation", err)
	}
}

func TestHTTPProviderSendTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := newTestProvider(t, server.URL, domain.ChannelPush)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := p.Send(ctx, Message{Channel: domain.ChannelPush, Destination: "token", Content: "x"})
	if err == nil {
		t.Fatal("Send() expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("timeout should be transient, got %v", err)
	}
}

func TestHTTPProviderTestConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK},
		{name: "method not allowed still reachable", status: http.StatusMethodNotAllowed},
		{name: "bad credentials", status: http.StatusUnauthorized, wantErr: true},
		{name: "unhealthy", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("method = %s, want HEAD", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := newTestProvider(t, server.URL, domain.ChannelEmail).TestConfiguration(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("TestConfiguration() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewHTTPProviderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  HTTPConfig
	}{
		{name: "missing name", cfg: HTTPConfig{Channel: domain.ChannelSMS, Endpoint: "http://x"}},
		{name: "invalid channel", cfg: HTTPConfig{Name: "x", Channel: "FAX", Endpoint: "http://x"}},
		{name: "missing endpoint", cfg: HTTPConfig{Name: "x", Channel: domain.ChannelSMS}},
		{name: "relative endpoint", cfg: HTTPConfig{Name: "x", Channel: domain.ChannelSMS, Endpoint: "not a url"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewHTTPProvider(tt.cfg); !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("NewHTTPProvider() error = %v, want ErrConfiguration", err)
			}
		})
	}
}
