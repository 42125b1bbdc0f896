package reminder

import (
	"encoding/json"
	"net/http"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/telemetry"
)

// Interaction payload types and response types from the Discord gateway
// webhook contract. Only ping and message components are handled here.
const (
	interactionPing             = 1
	interactionMessageComponent = 3

	responsePong          = 1
	responseUpdateMessage = 7
)

// interactionPayload is the subset of the inbound interaction body the
// ingestion path needs.
type interactionPayload struct {
	Type int `json:"type"`
	Data struct {
		CustomID string `json:"custom_id"`
	} `json:"data"`
	Member *struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"member"`
	User *struct {
		ID string `json:"id"`
	} `json:"user"`
	Message *struct {
		ID string `json:"id"`
	} `json:"message"`
}

// actorID resolves the responding user: guild interactions carry the user
// under member, DM interactions at the top level.
func (p *interactionPayload) actorID() string {
	if p.Member != nil && p.Member.User.ID != "" {
		return p.Member.User.ID
	}
	if p.User != nil {
		return p.User.ID
	}
	return ""
}

// WebhookHandler ingests component interactions and maps them onto reminder
// responses through the service.
type WebhookHandler struct {
	service *Service
	logger  core.Logger
}

// NewWebhookHandler creates the interaction webhook handler.
func NewWebhookHandler(service *Service, logger core.Logger) *WebhookHandler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WebhookHandler{service: service, logger: logger}
}

// ServeHTTP handles POST /webhook/interactions.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload interactionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("Malformed interaction payload", map[string]interface{}{
			"operation": "webhook_ingest",
			"error":     err.Error(),
		})
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if payload.Type == interactionPing {
		writeInteractionResponse(w, responsePong, "")
		return
	}
	if payload.Type != interactionMessageComponent {
		// Not ours. Acknowledge so the gateway does not retry.
		writeInteractionResponse(w, responsePong, "")
		return
	}

	parsed, ok := ParseCustomID(payload.Data.CustomID)
	if !ok {
		h.logger.Debug("Ignoring unrelated component interaction", map[string]interface{}{
			"operation": "webhook_ingest",
			"custom_id": payload.Data.CustomID,
		})
		writeInteractionResponse(w, responsePong, "")
		return
	}

	actor := payload.actorID()
	if actor == "" {
		http.Error(w, "missing interaction user", http.StatusBadRequest)
		return
	}

	id := parsed.ReminderID
	if id == "" {
		// Legacy id-less custom id. Without a reminder id there is nothing to
		// transition; record the fact and acknowledge.
		telemetry.Counter("reminder.response_unresolved")
		h.logger.Warn("Interaction custom id carries no reminder id", map[string]interface{}{
			"operation": "webhook_ingest",
			"custom_id": payload.Data.CustomID,
			"actor":     actor,
		})
		writeInteractionResponse(w, responseUpdateMessage, "")
		return
	}

	updated, err := h.service.RecordResponse(r.Context(), id, actor, parsed.Type)
	if err != nil {
		if IsNotFound(err) {
			// Stale button on a deleted reminder.
			writeInteractionResponse(w, responseUpdateMessage, "This reminder no longer exists.")
			return
		}
		h.logger.Error("Failed to record interaction response", map[string]interface{}{
			"operation":   "webhook_ingest",
			"reminder_id": id,
			"error":       err.Error(),
		})
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeInteractionResponse(w, responseUpdateMessage, responseConfirmation(updated.Status, parsed.Type))
}

// responseConfirmation renders the in-channel confirmation text.
func responseConfirmation(status Status, t ResponseType) string {
	switch {
	case t == ResponseAcknowledged:
		return "Reminder acknowledged."
	case status == StatusEscalated:
		return "Reminder declined. The escalation contact has been notified."
	default:
		return "Reminder declined."
	}
}

func writeInteractionResponse(w http.ResponseWriter, responseType int, content string) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]interface{}{"type": responseType}
	if content != "" {
		body["data"] = map[string]interface{}{"content": content}
	}
	// Headers are already out; an encode failure here has no recovery.
	_ = json.NewEncoder(w).Encode(body)
}
