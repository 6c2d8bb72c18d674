package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/sigil/ports"
)

// Topics for auth lifecycle events.
const (
	LoginTopic    = "sigil.login"
	LogoutTopic   = "sigil.logout"
	VerifiedTopic = "sigil.verified"
)

// LoginEvent is published when a session is committed.
type LoginEvent struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Verified bool   `json:"verified"`
}

// LogoutEvent is published when a session is destroyed.
type LogoutEvent struct {
	Address string `json:"address"`
}

// VerifiedEvent is published when deferred verification completes.
type VerifiedEvent struct {
	Address        string `json:"address"`
	VerificationID string `json:"verification_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher.
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// PublishLogin publishes a login event.
func (p *WatermillPublisher) PublishLogin(ctx context.Context, address, username string, verified bool) error {
	return p.publish(LoginTopic, LoginEvent{Address: address, Username: username, Verified: verified})
}

// PublishLogout publishes a logout event.
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string) error {
	return p.publish(LogoutTopic, LogoutEvent{Address: address})
}

// PublishVerified publishes a verification-complete event.
func (p *WatermillPublisher) PublishVerified(ctx context.Context, address, verificationID string) error {
	return p.publish(VerifiedTopic, VerifiedEvent{Address: address, VerificationID: verificationID})
}
