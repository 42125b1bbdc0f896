package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interactionBody(customID, userID string) string {
	return fmt.Sprintf(`{
		"type": 3,
		"data": {"custom_id": %q},
		"member": {"user": {"id": %q}}
	}`, customID, userID)
}

func postInteraction(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/interactions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookPing(t *testing.T) {
	env := newTestEnv(t)
	handler := NewWebhookHandler(env.service, nil)

	rec := postInteraction(t, handler, `{"type": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["type"])
}

func TestWebhookAcknowledge(t *testing.T) {
	env := newTestEnv(t)
	handler := NewWebhookHandler(env.service, nil)
	r := env.createReminder(t)
	_, err := env.service.MarkAsDelivered(context.Background(), r.ID, "msg-1")
	require.NoError(t, err)

	rec := postInteraction(t, handler, interactionBody("acknowledge_reminder_"+r.ID, testTarget))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, stored.Status)
	require.NotEmpty(t, stored.Responses)
	last := stored.Responses[len(stored.Responses)-1]
	assert.Equal(t, testTarget, last.UserID)
}

func TestWebhookDeclineEscalates(t *testing.T) {
	env := newTestEnv(t)
	handler := NewWebhookHandler(env.service, nil)
	r := env.createReminder(t, withEscalation(TriggerDecline))
	_, err := env.service.MarkAsDelivered(context.Background(), r.ID, "msg-1")
	require.NoError(t, err)

	rec := postInteraction(t, handler, interactionBody("decline_reminder_"+r.ID, testTarget))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "escalation contact")

	stored, err := env.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, stored.Status)
}

func TestWebhookDMUserField(t *testing.T) {
	env := newTestEnv(t)
	handler := NewWebhookHandler(env.service, nil)
	r := env.createReminder(t)
	_, err := env.service.MarkAsDelivered(context.Background(), r.ID, "msg-1")
	require.NoError(t, err)

	// DM interactions carry the user at the top level, not under member.
	body := fmt.Sprintf(`{"type": 3, "data": {"custom_id": %q}, "user": {"id": %q}}`,
		"acknowledge_reminder_"+r.ID, testTarget)
	rec := postInteraction(t, handler, body)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, stored.Status)
}

func TestWebhookUnknownCustomID(t *testing.T) {
	env := newTestEnv(t)
	handler := NewWebhookHandler(env.service, nil)

	rec := postInteraction(t, handler, interactionBody("open_settings_menu", testTarget))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookStaleButton(t *testing.T) {
	env := newTestEnv(t)
	handler := NewWebhookHandler(env.service, nil)

	rec := postInteraction(t, handler, interactionBody("acknowledge_reminder_gone", testTarget))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no longer exists")
}

func TestWebhookRejectsMalformed(t *testing.T) {
	env := newTestEnv(t)
	handler := NewWebhookHandler(env.service, nil)

	rec := postInteraction(t, handler, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing actor.
	rec = postInteraction(t, handler, `{"type": 3, "data": {"custom_id": "acknowledge_reminder_x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/webhook/interactions", nil)
	get := httptest.NewRecorder()
	handler.ServeHTTP(get, req)
	assert.Equal(t, http.StatusMethodNotAllowed, get.Code)
}
