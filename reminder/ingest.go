package reminder

import (
	"regexp"
	"strings"
)

// customIDRe matches component custom ids of the form
// "<action>_reminder_<id>". The legacy form without an id suffix is also
// accepted and resolved against the message it arrived on.
var customIDRe = regexp.MustCompile(`^(acknowledge|decline)_reminder(?:_(.+))?$`)

// ParsedResponse is the outcome of decoding an interaction custom id.
type ParsedResponse struct {
	// Type is acknowledged or declined.
	Type ResponseType
	// ReminderID is empty for the legacy id-less custom id form.
	ReminderID string
}

// ParseCustomID decodes a button custom id into a response. Unknown ids
// return ok=false; they belong to some other component and are not an error.
func ParseCustomID(customID string) (ParsedResponse, bool) {
	m := customIDRe.FindStringSubmatch(strings.TrimSpace(customID))
	if m == nil {
		return ParsedResponse{}, false
	}
	parsed := ParsedResponse{ReminderID: m[2]}
	switch m[1] {
	case "acknowledge":
		parsed.Type = ResponseAcknowledged
	case "decline":
		parsed.Type = ResponseDeclined
	}
	return parsed, true
}

// NormalizeResponseType maps free-form inbound action strings onto the
// enumerated response types. Unknown strings are rejected at the boundary so
// only enumerated values ever reach the log.
func NormalizeResponseType(raw string) (ResponseType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "acknowledge", "acknowledged", "ack":
		return ResponseAcknowledged, true
	case "decline", "declined":
		return ResponseDeclined, true
	}
	return "", false
}
