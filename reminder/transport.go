package reminder

import (
	"context"
)

// OutboundMessage is a reminder delivery request for the Transport.
type OutboundMessage struct {
	// Content is the message text shown to the recipient.
	Content string

	// ReminderID tags the outbound message so inbound responses can be
	// correlated back to the reminder. Transports encode it into the
	// interactive acknowledge/decline affordances.
	ReminderID string
}

// Transport is the pluggable abstraction over the external chat platform's
// outbound-message API. Implementations: the real chat-platform REST client
// and a test mock. Failures are reported as *TransportError so callers can
// distinguish transient from permanent ones.
type Transport interface {
	// SendReminder delivers a reminder to userID with acknowledge/decline
	// affordances and returns the platform message id.
	SendReminder(ctx context.Context, userID string, msg OutboundMessage) (string, error)

	// SendEscalation delivers a plain escalation notice to userID and
	// returns the platform message id.
	SendEscalation(ctx context.Context, userID string, content string) (string, error)
}
