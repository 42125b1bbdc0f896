package reminder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
		want   ParsedResponse
	}{
		{"acknowledge_reminder_abc-123", true, ParsedResponse{Type: ResponseAcknowledged, ReminderID: "abc-123"}},
		{"decline_reminder_abc-123", true, ParsedResponse{Type: ResponseDeclined, ReminderID: "abc-123"}},
		{"acknowledge_reminder", true, ParsedResponse{Type: ResponseAcknowledged}},
		{"decline_reminder", true, ParsedResponse{Type: ResponseDeclined}},
		{"acknowledge_reminder_", false, ParsedResponse{}},
		{"snooze_reminder_abc", false, ParsedResponse{}},
		{"acknowledge_something_abc", false, ParsedResponse{}},
		{"", false, ParsedResponse{}},
		{"  decline_reminder_xyz  ", true, ParsedResponse{Type: ResponseDeclined, ReminderID: "xyz"}},
	}
	for _, tt := range tests {
		got, ok := ParseCustomID(tt.in)
		assert.Equal(t, tt.wantOK, ok, "ParseCustomID(%q)", tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, "ParseCustomID(%q)", tt.in)
		}
	}
}

func TestNormalizeResponseType(t *testing.T) {
	tests := []struct {
		in     string
		want   ResponseType
		wantOK bool
	}{
		{"acknowledge", ResponseAcknowledged, true},
		{"Acknowledged", ResponseAcknowledged, true},
		{"ACK", ResponseAcknowledged, true},
		{"decline", ResponseDeclined, true},
		{"declined ", ResponseDeclined, true},
		{"snooze", "", false},
		{"delivered", "", false}, // machine-only type, not accepted from users
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeResponseType(tt.in)
		assert.Equal(t, tt.wantOK, ok, "NormalizeResponseType(%q)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}
