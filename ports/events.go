package ports

import "context"

// EventPublisher publishes auth lifecycle events to notify other services.
type EventPublisher interface {
	PublishLogin(ctx context.Context, address, username string, verified bool) error
	PublishLogout(ctx context.Context, address string) error
	PublishVerified(ctx context.Context, address, verificationID string) error
}
