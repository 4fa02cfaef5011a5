// Package stream owns the server-push transport: a subscription keyed by
// URL that delivers a sequence of text payloads terminated by a reserved
// sentinel token.
package stream

import "context"

// Wire sentinels of the push stream.
const (
	// DoneToken is the literal payload that signals normal termination.
	DoneToken = "[DONE]"
	// NewlineToken is the reserved marker rewritten to an actual line break
	// before a fragment is appended to a message.
	NewlineToken = "[NEWLINE]"
)

// Subscription is one live push connection. Messages delivers payloads in
// the order the transport received them; Err delivers at most one transport
// error. Close is idempotent and stops further delivery.
type Subscription interface {
	Messages() <-chan string
	Err() <-chan error
	Close()
}

// Opener opens a push subscription for a fully built stream URL. The URL
// carries all parameters; the transport supports no custom headers.
type Opener interface {
	Open(ctx context.Context, rawURL string) (Subscription, error)
}
