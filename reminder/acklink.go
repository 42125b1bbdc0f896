package reminder

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/remindlab/remind/core"
)

// AckLinkSigner mints and verifies the signed one-click response links
// embedded in reminder messages as a fallback for clients without component
// support. A token is bound to one (reminder, action) pair.
type AckLinkSigner struct {
	secret []byte
}

// NewAckLinkSigner creates a signer. The secret must be non-empty.
func NewAckLinkSigner(secret string) (*AckLinkSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: ack link secret is empty (set REMIND_ACK_SECRET)", core.ErrMissingConfiguration)
	}
	return &AckLinkSigner{secret: []byte(secret)}, nil
}

// Token returns the signature for (reminderID, action).
func (s *AckLinkSigner) Token(reminderID string, action ResponseType) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%s", reminderID, action)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token is valid for (reminderID, action).
func (s *AckLinkSigner) Verify(reminderID string, action ResponseType, token string) bool {
	expected := s.Token(reminderID, action)
	return hmac.Equal([]byte(expected), []byte(token))
}

// Path returns the relative ack link path for a reminder action.
func (s *AckLinkSigner) Path(reminderID string, action ResponseType) string {
	return fmt.Sprintf("/ack/%s?action=%s&token=%s", reminderID, action, s.Token(reminderID, action))
}

// AckLinkHandler serves GET /ack/{id}?action=&token= and records the response
// for the reminder's target user.
type AckLinkHandler struct {
	service *Service
	signer  *AckLinkSigner
	logger  core.Logger
}

// NewAckLinkHandler creates the ack link handler.
func NewAckLinkHandler(service *Service, signer *AckLinkSigner, logger core.Logger) *AckLinkHandler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &AckLinkHandler{service: service, signer: signer, logger: logger}
}

// ServeHTTP handles the signed link. The link carries no authenticated user,
// so the response is attributed to the reminder's target.
func (h *AckLinkHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/ack/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	action, ok := NormalizeResponseType(r.URL.Query().Get("action"))
	if !ok {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if !h.signer.Verify(id, action, r.URL.Query().Get("token")) {
		h.logger.Warn("Ack link signature mismatch", map[string]interface{}{
			"operation":   "ack_link",
			"reminder_id": id,
		})
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if _, err := h.service.RecordResponse(r.Context(), id, rec.TargetUserID, action); err != nil {
		h.logger.Error("Failed to record ack link response", map[string]interface{}{
			"operation":   "ack_link",
			"reminder_id": id,
			"error":       err.Error(),
		})
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Response recorded: %s\n", action)
}
