package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/telemetry"
)

// actorHeader carries the caller identity for admin gating. Authentication
// itself happens upstream; the API only enforces the allow-list.
const actorHeader = "X-Remind-Actor"

// API is the JSON HTTP surface over the service. All timestamps on the wire
// are RFC 3339 UTC.
type API struct {
	service *Service
	config  *core.Config
	logger  core.Logger

	webhook *WebhookHandler
	ackLink *AckLinkHandler
}

// NewAPI creates the HTTP API.
func NewAPI(service *Service, config *core.Config, signer *AckLinkSigner, logger core.Logger) *API {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &API{
		service: service,
		config:  config,
		logger:  logger,
		webhook: NewWebhookHandler(service, logger),
		ackLink: NewAckLinkHandler(service, signer, logger),
	}
}

// Handler returns the routed HTTP handler, health endpoint included.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/reminders", a.handleCollection)
	mux.HandleFunc("/api/reminders/", a.handleItem)
	mux.Handle("/webhook/interactions", a.webhook)
	mux.Handle("/ack/", a.ackLink)
	mux.HandleFunc("/health", a.handleHealth)
	return mux
}

// -----------------------------------------------------------------------------
// Wire types
// -----------------------------------------------------------------------------

type escalationDTO struct {
	SecondaryUserID   string     `json:"secondaryUserId"`
	TimeoutMinutes    int        `json:"timeoutMinutes"`
	TriggerConditions []string   `json:"triggerConditions"`
	TimeoutMessage    string     `json:"timeoutMessage,omitempty"`
	DeclineMessage    string     `json:"declineMessage,omitempty"`
	TriggeredAt       *time.Time `json:"triggeredAt,omitempty"`
	TriggerReason     string     `json:"triggerReason,omitempty"`
	IsActive          bool       `json:"isActive"`
}

type repeatRuleDTO struct {
	Frequency         string     `json:"frequency"`
	Interval          int        `json:"interval"`
	EndCondition      string     `json:"endCondition"`
	EndDate           *time.Time `json:"endDate,omitempty"`
	MaxOccurrences    int        `json:"maxOccurrences,omitempty"`
	CurrentOccurrence int        `json:"currentOccurrence"`
	NextScheduledTime time.Time  `json:"nextScheduledTime"`
	IsActive          bool       `json:"isActive"`
}

type responseLogDTO struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	ResponseType string            `json:"responseType"`
	Timestamp    time.Time         `json:"timestamp"`
	MessageID    string            `json:"messageId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type testExecutionDTO struct {
	ID                string    `json:"id"`
	ExecutedBy        string    `json:"executedBy"`
	ExecutedAt        time.Time `json:"executedAt"`
	TestType          string    `json:"testType"`
	Result            string    `json:"result"`
	PreservedSchedule bool      `json:"preservedSchedule"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
}

type reminderDTO struct {
	ID                  string             `json:"id"`
	Content             string             `json:"content"`
	TargetUserID        string             `json:"targetUserId"`
	ScheduledTime       time.Time          `json:"scheduledTime"`
	Timezone            string             `json:"timezone,omitempty"`
	CreatedBy           string             `json:"createdBy"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
	Status              string             `json:"status"`
	DeliveryAttempts    int                `json:"deliveryAttempts"`
	LastDeliveryAttempt *time.Time         `json:"lastDeliveryAttempt,omitempty"`
	LastError           string             `json:"lastError,omitempty"`
	Responses           []responseLogDTO   `json:"responses"`
	TestExecutions      []testExecutionDTO `json:"testExecutions"`
	Escalation          *escalationDTO     `json:"escalation,omitempty"`
	RepeatRule          *repeatRuleDTO     `json:"repeatRule,omitempty"`
}

func toDTO(r *Reminder) reminderDTO {
	dto := reminderDTO{
		ID:                  r.ID,
		Content:             r.Content,
		TargetUserID:        r.TargetUserID,
		ScheduledTime:       r.ScheduledTime.UTC(),
		Timezone:            r.Timezone,
		CreatedBy:           r.CreatedBy,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
		Status:              string(r.Status),
		DeliveryAttempts:    r.DeliveryAttempts,
		LastDeliveryAttempt: r.LastDeliveryAttempt,
		LastError:           r.LastError,
		Responses:           make([]responseLogDTO, 0, len(r.Responses)),
		TestExecutions:      make([]testExecutionDTO, 0, len(r.TestExecutions)),
	}
	for _, entry := range r.Responses {
		dto.Responses = append(dto.Responses, responseLogDTO{
			ID:           entry.ID,
			UserID:       entry.UserID,
			ResponseType: string(entry.ResponseType),
			Timestamp:    entry.Timestamp.UTC(),
			MessageID:    entry.MessageID,
			Metadata:     entry.Metadata,
		})
	}
	for _, exec := range r.TestExecutions {
		dto.TestExecutions = append(dto.TestExecutions, toTestExecutionDTO(exec))
	}
	if r.Escalation != nil {
		esc := escalationDTO{
			SecondaryUserID: r.Escalation.SecondaryUserID,
			TimeoutMinutes:  r.Escalation.TimeoutMinutes,
			TimeoutMessage:  r.Escalation.TimeoutMessage,
			DeclineMessage:  r.Escalation.DeclineMessage,
			TriggeredAt:     r.Escalation.TriggeredAt,
			TriggerReason:   string(r.Escalation.TriggerReason),
			IsActive:        r.Escalation.IsActive,
		}
		for _, c := range r.Escalation.TriggerConditions {
			esc.TriggerConditions = append(esc.TriggerConditions, string(c))
		}
		dto.Escalation = &esc
	}
	if r.RepeatRule != nil {
		dto.RepeatRule = &repeatRuleDTO{
			Frequency:         string(r.RepeatRule.Frequency),
			Interval:          r.RepeatRule.Interval,
			EndCondition:      string(r.RepeatRule.EndCondition),
			EndDate:           r.RepeatRule.EndDate,
			MaxOccurrences:    r.RepeatRule.MaxOccurrences,
			CurrentOccurrence: r.RepeatRule.CurrentOccurrence,
			NextScheduledTime: r.RepeatRule.NextScheduledTime.UTC(),
			IsActive:          r.RepeatRule.IsActive,
		}
	}
	return dto
}

func toTestExecutionDTO(exec TestExecution) testExecutionDTO {
	return testExecutionDTO{
		ID:                exec.ID,
		ExecutedBy:        exec.ExecutedBy,
		ExecutedAt:        exec.ExecutedAt.UTC(),
		TestType:          string(exec.TestType),
		Result:            string(exec.Result),
		PreservedSchedule: exec.PreservedSchedule,
		ErrorMessage:      exec.ErrorMessage,
	}
}

type reminderRequest struct {
	Content       *string        `json:"content"`
	TargetUserID  *string        `json:"targetUserId"`
	ScheduledTime *time.Time     `json:"scheduledTime"`
	Timezone      *string        `json:"timezone"`
	Escalation    *escalationDTO `json:"escalation"`
	RepeatRule    *repeatRuleDTO `json:"repeatRule"`
}

func (req *reminderRequest) escalationRule() *EscalationRule {
	if req.Escalation == nil {
		return nil
	}
	rule := &EscalationRule{
		SecondaryUserID: req.Escalation.SecondaryUserID,
		TimeoutMinutes:  req.Escalation.TimeoutMinutes,
		TimeoutMessage:  req.Escalation.TimeoutMessage,
		DeclineMessage:  req.Escalation.DeclineMessage,
	}
	for _, c := range req.Escalation.TriggerConditions {
		rule.TriggerConditions = append(rule.TriggerConditions, TriggerCondition(c))
	}
	return rule
}

func (req *reminderRequest) repeatRule() *RepeatRule {
	if req.RepeatRule == nil {
		return nil
	}
	return &RepeatRule{
		Frequency:      Frequency(req.RepeatRule.Frequency),
		Interval:       req.RepeatRule.Interval,
		EndCondition:   EndCondition(req.RepeatRule.EndCondition),
		EndDate:        req.RepeatRule.EndDate,
		MaxOccurrences: req.RepeatRule.MaxOccurrences,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// -----------------------------------------------------------------------------
// Routing
// -----------------------------------------------------------------------------

func (a *API) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleList(w, r)
	case http.MethodPost:
		a.handleCreate(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

func (a *API) handleItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/reminders/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "not found", "")
		return
	}

	if id == "flush" && sub == "" {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		a.handleFlush(w, r)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		a.handleGet(w, r, id)
	case sub == "" && r.Method == http.MethodPut:
		a.handleUpdate(w, r, id)
	case sub == "" && r.Method == http.MethodDelete:
		a.handleDelete(w, r, id)
	case sub == "test" && r.Method == http.MethodPost:
		a.handleTest(w, r, id)
	case sub == "reset" && r.Method == http.MethodPost:
		a.handleReset(w, r, id)
	case sub == "responses" && r.Method == http.MethodGet:
		a.handleResponses(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found", "")
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Limit: 50}
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status := Status(strings.ToUpper(raw))
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, "unknown status filter", "VALIDATION")
			return
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,500]", "VALIDATION")
			return
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", "VALIDATION")
			return
		}
		filter.Offset = n
	}

	reminders, total, err := a.service.List(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	dtos := make([]reminderDTO, 0, len(reminders))
	for _, rec := range reminders {
		dtos = append(dtos, toDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": dtos,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}

	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", "VALIDATION")
		return
	}
	if req.Content == nil || req.TargetUserID == nil || req.ScheduledTime == nil {
		writeError(w, http.StatusBadRequest, "content, targetUserId and scheduledTime are required", "VALIDATION")
		return
	}

	opts := CreateOptions{
		Content:       *req.Content,
		TargetUserID:  *req.TargetUserID,
		ScheduledTime: *req.ScheduledTime,
		CreatedBy:     actor,
		Escalation:    req.escalationRule(),
		RepeatRule:    req.repeatRule(),
	}
	if req.Timezone != nil {
		opts.Timezone = *req.Timezone
	}

	created, err := a.service.Create(r.Context(), opts)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(created))
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := a.service.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(rec))
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", "VALIDATION")
		return
	}

	opts := UpdateOptions{
		Content:       req.Content,
		TargetUserID:  req.TargetUserID,
		ScheduledTime: req.ScheduledTime,
		Timezone:      req.Timezone,
		Escalation:    req.escalationRule(),
		RepeatRule:    req.repeatRule(),
	}

	updated, err := a.service.Update(r.Context(), id, opts)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(updated))
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	if err := a.service.Delete(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleTest(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}

	var req struct {
		TestType         string `json:"testType"`
		PreserveSchedule bool   `json:"preserveSchedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body", "VALIDATION")
		return
	}

	exec, err := a.service.ExecuteTest(r.Context(), id, TestType(req.TestType), req.PreserveSchedule, actor)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTestExecutionDTO(*exec))
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	rec, err := a.service.Reset(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(rec))
}

func (a *API) handleResponses(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := a.service.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	dto := toDTO(rec)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reminderId": rec.ID,
		"responses":  dto.Responses,
	})
}

func (a *API) handleFlush(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	if err := a.service.Flush(r.Context()); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	telemetry.Counter("reminder.flushed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.service.Repository().(interface {
		Ping(ctx context.Context) error
	}); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// requireAdmin enforces the allow-list on mutating endpoints and returns the
// caller id.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get(actorHeader))
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "missing "+actorHeader+" header", "UNAUTHORIZED")
		return "", false
	}
	if !a.config.IsAdmin(actor) {
		telemetry.Counter("api.unauthorized")
		a.logger.Warn("Rejected non-admin mutation", map[string]interface{}{
			"operation": "api_auth",
			"actor":     actor,
			"path":      r.URL.Path,
		})
		writeError(w, http.StatusForbidden, "actor is not in the admin allow-list", "UNAUTHORIZED")
		return "", false
	}
	return actor, true
}

// writeServiceError maps domain errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION")
	case IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, ErrImmutableState):
		writeError(w, http.StatusBadRequest, err.Error(), "IMMUTABLE_STATE")
	case IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case IsTransport(err):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "TRANSPORT")
	default:
		a.logger.Error("Internal API error", map[string]interface{}{
			"operation": "api_error",
			"path":      r.URL.Path,
			"error":     err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
