package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindlab/remind/reminder"
)

type fakeDiscord struct {
	dmCalls       atomic.Int32
	messageStatus int
	retryAfter    float64

	lastMessage createMessageRequest
}

func newFakeDiscordServer(t *testing.T, f *fakeDiscord) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me/channels", func(w http.ResponseWriter, r *http.Request) {
		f.dmCalls.Add(1)
		var req createDMRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(channel{ID: "dm-" + req.RecipientID})
	})
	mux.HandleFunc("/channels/", func(w http.ResponseWriter, r *http.Request) {
		if f.messageStatus != 0 && f.messageStatus != http.StatusOK {
			w.WriteHeader(f.messageStatus)
			json.NewEncoder(w).Encode(apiError{Code: 0, Message: "nope", RetryAfter: f.retryAfter})
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastMessage))
		json.NewEncoder(w).Encode(message{ID: "m-1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTransport(t *testing.T, srv *httptest.Server, opts ...TransportOption) *Transport {
	t.Helper()
	opts = append([]TransportOption{WithTransportBaseURL(srv.URL)}, opts...)
	tr, err := NewTransport("test-token", "app-1", opts...)
	require.NoError(t, err)
	return tr
}

func TestTransportSendReminder(t *testing.T) {
	f := &fakeDiscord{}
	srv := newFakeDiscordServer(t, f)
	tr := newTestTransport(t, srv)

	id, err := tr.SendReminder(context.Background(), "user-1", reminder.OutboundMessage{
		Content:    "water the plants",
		ReminderID: "r-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", id)

	assert.Equal(t, "water the plants", f.lastMessage.Content)
	require.Len(t, f.lastMessage.Components, 1)
	row := f.lastMessage.Components[0]
	require.Len(t, row.Components, 2)
	assert.Equal(t, "acknowledge_reminder_r-42", row.Components[0].CustomID)
	assert.Equal(t, "decline_reminder_r-42", row.Components[1].CustomID)
	assert.Equal(t, "Acknowledge", row.Components[0].Label)
	assert.Equal(t, "Decline", row.Components[1].Label)
}

func TestTransportCachesDMChannel(t *testing.T) {
	f := &fakeDiscord{}
	srv := newFakeDiscordServer(t, f)
	tr := newTestTransport(t, srv)

	for i := 0; i < 3; i++ {
		_, err := tr.SendReminder(context.Background(), "user-1", reminder.OutboundMessage{ReminderID: "r", Content: "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.dmCalls.Load())

	_, err := tr.SendEscalation(context.Background(), "user-2", "escalated")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.dmCalls.Load())
}

func TestTransportSendEscalationHasNoButtons(t *testing.T) {
	f := &fakeDiscord{}
	srv := newFakeDiscordServer(t, f)
	tr := newTestTransport(t, srv)

	_, err := tr.SendEscalation(context.Background(), "user-2", "no response received")
	require.NoError(t, err)
	assert.Equal(t, "no response received", f.lastMessage.Content)
	assert.Empty(t, f.lastMessage.Components)
}

func TestTransportAckLinks(t *testing.T) {
	f := &fakeDiscord{}
	srv := newFakeDiscordServer(t, f)
	signer, err := reminder.NewAckLinkSigner("secret")
	require.NoError(t, err)
	tr := newTestTransport(t, srv, WithAckLinks(signer, "https://remind.example.com"))

	_, err = tr.SendReminder(context.Background(), "user-1", reminder.OutboundMessage{
		Content:    "water the plants",
		ReminderID: "r-42",
	})
	require.NoError(t, err)
	assert.Contains(t, f.lastMessage.Content, "https://remind.example.com/ack/r-42?action=acknowledged&token=")
}

func TestTransportClassifiesFailures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		retryAfter    float64
		wantTransient bool
		wantRetry     time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, 2.5, true, 2500 * time.Millisecond},
		{"server error", http.StatusBadGateway, 0, true, 0},
		{"forbidden", http.StatusForbidden, 0, false, 0},
		{"not found", http.StatusNotFound, 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDiscord{messageStatus: tt.status, retryAfter: tt.retryAfter}
			srv := newFakeDiscordServer(t, f)
			tr := newTestTransport(t, srv)

			_, err := tr.SendReminder(context.Background(), "user-1", reminder.OutboundMessage{ReminderID: "r", Content: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, reminder.IsTransientTransport(err))
			assert.Equal(t, tt.wantRetry, reminder.TransportRetryAfter(err))
		})
	}
}

func TestTransportNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse all connections
	tr, err := NewTransport("test-token", "", WithTransportBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = tr.SendReminder(context.Background(), "user-1", reminder.OutboundMessage{ReminderID: "r", Content: "x"})
	require.Error(t, err)
	assert.True(t, reminder.IsTransientTransport(err))
	assert.True(t, reminder.IsTransport(err))
}

func TestTransportRequiresToken(t *testing.T) {
	_, err := NewTransport("", "app")
	assert.Error(t, err)
}
