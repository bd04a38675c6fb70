package provider

import (
	"context"

	"github.com/kursadbilgin/attendance-engine/internal/domain"
)

// Message is one outbound notification handed to a channel provider.
type Message struct {
	// Reference identifies the schedule entry or recovery attempt being sent.
	Reference   string
	Channel     domain.Channel
	Destination string
	Subject     string
	Content     string
}

// Provider is the outbound delivery port. One provider serves one channel.
type Provider interface {
	Name() string
	Channel() domain.Channel
	Send(ctx context.Context, msg Message) (*Response, error)
	// TestConfiguration checks endpoint and credentials without delivering anything.
	TestConfiguration(ctx context.Context) error
}

// Response stores provider call metadata.
type Response struct {
	StatusCode int
	Body       string
	MessageID  string
}
