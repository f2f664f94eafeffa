// Package notify implements the Hub's Notifiers (C8): pluggable outbound
// transports constructed from a URI. Ported from
// original_source/lynx-core/src/notify/services.rs, which models the same
// closed set (Discord | Email) as a URI-dispatched tagged variant (§9
// design notes: "Dynamic dispatch over notifiers ... is modeled as a closed
// tagged variant ... constructed from a URI").
package notify

import (
	"context"
	"fmt"
	"net/url"
)

// Notifier sends a short text alert message through one outbound transport.
type Notifier interface {
	// Send delivers title/message. Send errors are returned to the caller;
	// the AlertEngine logs and continues (§4.8, §7).
	Send(ctx context.Context, title, message string) error
}

// New constructs a Notifier from uri, dispatching on URL scheme. Unsupported
// schemes return a configuration error at construction (§4.8).
func New(rawURI string) (Notifier, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("notify: invalid notifier uri: %w", err)
	}

	switch u.Scheme {
	case "discord":
		return newDiscordService(u)
	case "smtp":
		return newEmailService(u)
	default:
		return nil, fmt.Errorf("notify: unsupported notifier scheme %q", u.Scheme)
	}
}
