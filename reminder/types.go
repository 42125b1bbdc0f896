// Package reminder implements the reminder scheduling and delivery engine:
// the persistent repository with time-ordered indexes, the dispatch and
// escalation loops, response ingestion, and the service command surface.
package reminder

import (
	"time"
)

// Status is the lifecycle state of a reminder. Transitions are restricted to
// the table in status.go.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSent              Status = "SENT"
	StatusAcknowledged      Status = "ACKNOWLEDGED"
	StatusDeclined          Status = "DECLINED"
	StatusEscalated         Status = "ESCALATED"
	StatusEscalatedAck      Status = "ESCALATED_ACK"
	StatusEscalatedDeclined Status = "ESCALATED_DECLINED"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusExpired           Status = "EXPIRED"
)

// AllStatuses lists every valid status, in declaration order.
var AllStatuses = []Status{
	StatusPending, StatusSent, StatusAcknowledged, StatusDeclined,
	StatusEscalated, StatusEscalatedAck, StatusEscalatedDeclined,
	StatusFailed, StatusCancelled, StatusExpired,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ResponseType classifies entries in a reminder's response log.
type ResponseType string

const (
	ResponseAcknowledged   ResponseType = "acknowledged"
	ResponseDeclined       ResponseType = "declined"
	ResponseDelivered      ResponseType = "delivered"
	ResponseFailedDelivery ResponseType = "failed_delivery"
	ResponseEscalated      ResponseType = "escalated"
	ResponseCancelled      ResponseType = "cancelled"
)

// IsValid reports whether t is a known response type.
func (t ResponseType) IsValid() bool {
	switch t {
	case ResponseAcknowledged, ResponseDeclined, ResponseDelivered,
		ResponseFailedDelivery, ResponseEscalated, ResponseCancelled:
		return true
	}
	return false
}

// TriggerCondition selects which events fire an escalation.
type TriggerCondition string

const (
	TriggerTimeout TriggerCondition = "timeout"
	TriggerDecline TriggerCondition = "decline"
)

// Frequency is the repeat cadence unit.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// EndCondition terminates a repeat series.
type EndCondition string

const (
	EndNever EndCondition = "never"
	EndDate  EndCondition = "date"
	EndCount EndCondition = "count"
)

// TestType identifies a diagnostic execution kind.
type TestType string

const (
	TestImmediateDelivery TestType = "immediate_delivery"
	TestEscalationFlow    TestType = "escalation_flow"
	TestValidation        TestType = "validation"
)

// TestResult is the outcome of a test execution.
type TestResult string

const (
	TestSuccess TestResult = "success"
	TestFailed  TestResult = "failed"
	TestPartial TestResult = "partial"
)

// SystemActor is recorded as the actor on machine-generated log entries.
const SystemActor = "system"

// Reminder is the root entity. The repository exclusively owns the persisted
// form; all mutation goes through the Service.
type Reminder struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	TargetUserID string `json:"target_user_id"`

	// ScheduledTime is the absolute instant of the next intended delivery,
	// always UTC. Timezone only affects parsing/display of local inputs.
	ScheduledTime time.Time `json:"scheduled_time"`
	Timezone      string    `json:"timezone,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status Status `json:"status"`

	DeliveryAttempts    int        `json:"delivery_attempts"`
	LastDeliveryAttempt *time.Time `json:"last_delivery_attempt,omitempty"`
	LastError           string     `json:"last_error,omitempty"`

	Responses      []ResponseLog   `json:"responses"`
	TestExecutions []TestExecution `json:"test_executions"`

	Escalation *EscalationRule `json:"escalation,omitempty"`
	RepeatRule *RepeatRule     `json:"repeat_rule,omitempty"`

	// Version backs the repository's check-version commits. Incremented on
	// every committed update; a commit observing a stale version is rejected.
	Version int64 `json:"version"`
}

// EscalationRule configures delivery to a secondary recipient on timeout or
// decline.
type EscalationRule struct {
	SecondaryUserID   string             `json:"secondary_user_id"`
	TimeoutMinutes    int                `json:"timeout_minutes"`
	TriggerConditions []TriggerCondition `json:"trigger_conditions"`
	TimeoutMessage    string             `json:"timeout_message,omitempty"`
	DeclineMessage    string             `json:"decline_message,omitempty"`
	TriggeredAt       *time.Time         `json:"triggered_at,omitempty"`
	TriggerReason     TriggerCondition   `json:"trigger_reason,omitempty"`
	IsActive          bool               `json:"is_active"`

	// LastError and FailedAttempts track escalation transport failures. After
	// the attempt budget is exhausted the reminder stays SENT and the
	// ack-deadline entry is pushed out before reattempt.
	LastError      string `json:"last_error,omitempty"`
	FailedAttempts int    `json:"failed_attempts,omitempty"`
}

// HasTrigger reports whether the rule fires on the given condition.
func (r *EscalationRule) HasTrigger(c TriggerCondition) bool {
	if r == nil {
		return false
	}
	for _, t := range r.TriggerConditions {
		if t == c {
			return true
		}
	}
	return false
}

// Timeout returns the configured answer window as a duration.
func (r *EscalationRule) Timeout() time.Duration {
	return time.Duration(r.TimeoutMinutes) * time.Minute
}

// RepeatRule configures a recurring series. Each occurrence is an independent
// reminder record; the series is linked only by logical continuity.
type RepeatRule struct {
	Frequency         Frequency    `json:"frequency"`
	Interval          int          `json:"interval"`
	EndCondition      EndCondition `json:"end_condition"`
	EndDate           *time.Time   `json:"end_date,omitempty"`
	MaxOccurrences    int          `json:"max_occurrences,omitempty"`
	CurrentOccurrence int          `json:"current_occurrence"`
	NextScheduledTime time.Time    `json:"next_scheduled_time"`
	IsActive          bool         `json:"is_active"`
}

// ResponseLog is an append-only audit entry. Entries are strictly
// non-decreasing by Timestamp within a reminder.
type ResponseLog struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	ResponseType ResponseType      `json:"response_type"`
	Timestamp    time.Time         `json:"timestamp"`
	MessageID    string            `json:"message_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TestExecution records a diagnostic run against a reminder.
type TestExecution struct {
	ID                string     `json:"id"`
	ExecutedBy        string     `json:"executed_by"`
	ExecutedAt        time.Time  `json:"executed_at"`
	TestType          TestType   `json:"test_type"`
	Result            TestResult `json:"result"`
	PreservedSchedule bool       `json:"preserved_schedule"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

// Clone returns a deep copy of the reminder. The repository hands out clones
// so callers never alias the stored record.
func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	cp := *r
	if r.LastDeliveryAttempt != nil {
		t := *r.LastDeliveryAttempt
		cp.LastDeliveryAttempt = &t
	}
	if r.Escalation != nil {
		esc := *r.Escalation
		esc.TriggerConditions = append([]TriggerCondition(nil), r.Escalation.TriggerConditions...)
		if r.Escalation.TriggeredAt != nil {
			t := *r.Escalation.TriggeredAt
			esc.TriggeredAt = &t
		}
		cp.Escalation = &esc
	}
	if r.RepeatRule != nil {
		rr := *r.RepeatRule
		if r.RepeatRule.EndDate != nil {
			t := *r.RepeatRule.EndDate
			rr.EndDate = &t
		}
		cp.RepeatRule = &rr
	}
	cp.Responses = make([]ResponseLog, len(r.Responses))
	for i, entry := range r.Responses {
		cp.Responses[i] = entry
		if entry.Metadata != nil {
			md := make(map[string]string, len(entry.Metadata))
			for k, v := range entry.Metadata {
				md[k] = v
			}
			cp.Responses[i].Metadata = md
		}
	}
	cp.TestExecutions = append([]TestExecution(nil), r.TestExecutions...)
	return &cp
}

// AnsweredBy reports whether actor already logged the given response type.
// Used to keep RecordResponse idempotent on state while preserving the audit
// trail.
func (r *Reminder) AnsweredBy(actor string, t ResponseType) bool {
	for _, entry := range r.Responses {
		if entry.UserID == actor && entry.ResponseType == t {
			return true
		}
	}
	return false
}

// DeliveredCount returns the number of delivered log entries.
func (r *Reminder) DeliveredCount() int {
	n := 0
	for _, entry := range r.Responses {
		if entry.ResponseType == ResponseDelivered {
			n++
		}
	}
	return n
}
