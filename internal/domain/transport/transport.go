// Package transport declares the chat-transport contract the Job Queue
// delivers messages through. Session pairing, reconnect and browser
// internals are an external collaborator; this package
// only names the interface the rest of the service depends on.
package transport

import "context"

// ChatTransport sends a rendered message to a phone number over a single,
// shared chat session.
type ChatTransport interface {
	// Send delivers text to phone. Implementations classify the returned
	// error against resilience.StopRetryer where the failure is permanent
	// (e.g. invalid recipient) rather than transient (network blip).
	Send(ctx context.Context, phone, text string) error

	// IsOnline reports whether the session is currently reachable. The
	// Automation Engine and Job Queue skip work while offline rather than
	// spending retries against a known-dead session.
	IsOnline() bool
}
