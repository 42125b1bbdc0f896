// Package discord implements the reminder Transport over the Discord REST
// API: direct-message delivery with acknowledge/decline buttons, and plain
// escalation messages to the secondary contact.
package discord

// Component type and style constants from the REST message contract.
const (
	componentActionRow = 1
	componentButton    = 2

	buttonStyleSuccess = 3
	buttonStyleDanger  = 4
)

// createDMRequest opens (or reuses) a DM channel with a user.
type createDMRequest struct {
	RecipientID string `json:"recipient_id"`
}

// channel is the subset of the channel object the transport needs.
type channel struct {
	ID string `json:"id"`
}

// button is an interactive message button.
type button struct {
	Type     int    `json:"type"`
	Style    int    `json:"style"`
	Label    string `json:"label"`
	CustomID string `json:"custom_id"`
}

// actionRow groups buttons on a message.
type actionRow struct {
	Type       int      `json:"type"`
	Components []button `json:"components"`
}

// createMessageRequest posts a message to a channel.
type createMessageRequest struct {
	Content    string      `json:"content"`
	Components []actionRow `json:"components,omitempty"`
}

// message is the subset of the created message object the transport needs.
type message struct {
	ID string `json:"id"`
}

// apiError is the REST error envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// RetryAfter is present on 429 bodies, in seconds.
	RetryAfter float64 `json:"retry_after"`
}
