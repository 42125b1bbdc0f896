package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/reminder"
	"github.com/remindlab/remind/telemetry"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Transport sends reminders over Discord DMs. DM channel ids are cached per
// recipient for the life of the transport.
type Transport struct {
	token   string
	appID   string
	baseURL string

	httpClient *http.Client
	logger     core.Logger
	signer     *reminder.AckLinkSigner
	linkBase   string

	mu       sync.Mutex
	channels map[string]string // user id -> DM channel id
}

// TransportOption configures the transport.
type TransportOption func(*Transport)

// WithTransportLogger sets the logger. Defaults to NoOp.
func WithTransportLogger(logger core.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTransportBaseURL overrides the API base URL. Used by tests.
func WithTransportBaseURL(baseURL string) TransportOption {
	return func(t *Transport) { t.baseURL = baseURL }
}

// WithTransportHTTPClient overrides the HTTP client.
func WithTransportHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithAckLinks enables fallback response links in reminder messages, built
// from the signer and the externally reachable base URL of the API.
func WithAckLinks(signer *reminder.AckLinkSigner, linkBase string) TransportOption {
	return func(t *Transport) {
		t.signer = signer
		t.linkBase = linkBase
	}
}

// NewTransport creates the Discord transport.
// Returns concrete type per Go idiom "return structs, accept interfaces".
func NewTransport(token, appID string, opts ...TransportOption) (*Transport, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: bot token is empty (set DISCORD_BOT_TOKEN)", core.ErrMissingConfiguration)
	}
	t := &Transport{
		token:      token,
		appID:      appID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     &core.NoOpLogger{},
		channels:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SendReminder delivers a reminder DM with acknowledge and decline buttons
// and returns the created message id.
func (t *Transport) SendReminder(ctx context.Context, userID string, msg reminder.OutboundMessage) (string, error) {
	channelID, err := t.dmChannel(ctx, userID)
	if err != nil {
		return "", err
	}

	content := msg.Content
	if t.signer != nil && t.linkBase != "" {
		content = fmt.Sprintf("%s\n\nNo buttons? Acknowledge: %s%s",
			msg.Content, t.linkBase, t.signer.Path(msg.ReminderID, reminder.ResponseAcknowledged))
	}

	req := createMessageRequest{
		Content: content,
		Components: []actionRow{{
			Type: componentActionRow,
			Components: []button{
				{
					Type:     componentButton,
					Style:    buttonStyleSuccess,
					Label:    "Acknowledge",
					CustomID: fmt.Sprintf("acknowledge_reminder_%s", msg.ReminderID),
				},
				{
					Type:     componentButton,
					Style:    buttonStyleDanger,
					Label:    "Decline",
					CustomID: fmt.Sprintf("decline_reminder_%s", msg.ReminderID),
				},
			},
		}},
	}

	var created message
	if err := t.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), req, &created); err != nil {
		return "", err
	}

	telemetry.Counter("discord.message_sent", "kind", "reminder")
	t.logger.Debug("Reminder message sent", map[string]interface{}{
		"operation":   "discord_send_reminder",
		"reminder_id": msg.ReminderID,
		"message_id":  created.ID,
	})
	return created.ID, nil
}

// SendEscalation delivers a plain escalation DM to the secondary contact.
func (t *Transport) SendEscalation(ctx context.Context, userID string, content string) (string, error) {
	channelID, err := t.dmChannel(ctx, userID)
	if err != nil {
		return "", err
	}

	var created message
	if err := t.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), createMessageRequest{Content: content}, &created); err != nil {
		return "", err
	}

	telemetry.Counter("discord.message_sent", "kind", "escalation")
	return created.ID, nil
}

// dmChannel resolves and caches the DM channel for a user.
func (t *Transport) dmChannel(ctx context.Context, userID string) (string, error) {
	t.mu.Lock()
	if id, ok := t.channels[userID]; ok {
		t.mu.Unlock()
		return id, nil
	}
	t.mu.Unlock()

	var ch channel
	if err := t.do(ctx, http.MethodPost, "/users/@me/channels", createDMRequest{RecipientID: userID}, &ch); err != nil {
		return "", fmt.Errorf("failed to open DM with %s: %w", userID, err)
	}

	t.mu.Lock()
	t.channels[userID] = ch.ID
	t.mu.Unlock()
	return ch.ID, nil
}

// do executes one REST call and decodes the response into out.
func (t *Transport) do(ctx context.Context, method, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+t.token)
	req.Header.Set("Content-Type", "application/json")
	if t.appID != "" {
		req.Header.Set("X-Remind-App", t.appID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		telemetry.Counter("discord.request_failed", "kind", "network")
		return networkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return networkError("decode response", err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope apiError
	_ = json.Unmarshal(raw, &envelope)

	telemetry.Counter("discord.request_failed", "kind", "http", "status", resp.Status)
	t.logger.Warn("Discord API request failed", map[string]interface{}{
		"operation": "discord_request",
		"method":    method,
		"path":      path,
		"status":    resp.StatusCode,
		"message":   envelope.Message,
	})
	return classifyStatus(resp.StatusCode, &envelope,
		fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, envelope.Message))
}

var _ reminder.Transport = (*Transport)(nil)
