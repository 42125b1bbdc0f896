package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/resilience"
	"github.com/remindlab/remind/telemetry"
)

// commitRetryConfig bounds re-reads after a version-check rejection before
// the conflict surfaces to the caller. Delays stay short: the loser of a
// concurrent commit only needs the winner's write to become visible.
var commitRetryConfig = &resilience.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  10 * time.Millisecond,
	MaxDelay:      100 * time.Millisecond,
	BackoffFactor: 2.0,
	JitterEnabled: true,
}

// Service is the only entry point for state-changing operations on
// reminders. It orchestrates the repository, transport, clock and escalation
// engine behind the command surface.
type Service struct {
	repo      Repository
	transport Transport
	clock     core.Clock
	policy    RetryPolicy
	logger    core.Logger

	// escalation handles the synchronous decline trigger. Set by the
	// composition root via SetEscalationEngine; nil disables escalation.
	escalation *Engine
}

// ServiceOption configures optional dependencies.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger. Defaults to NoOp.
func WithServiceLogger(logger core.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceClock sets the time source. Defaults to the wall clock.
func WithServiceClock(clock core.Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithServiceRetryPolicy overrides the delivery retry policy.
func WithServiceRetryPolicy(policy RetryPolicy) ServiceOption {
	return func(s *Service) { s.policy = policy }
}

// NewService creates the reminder service.
// Returns concrete type per Go idiom "return structs, accept interfaces".
func NewService(repo Repository, transport Transport, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		transport: transport,
		clock:     core.RealClock{},
		policy:    DefaultRetryPolicy(),
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEscalationEngine wires the escalation engine for synchronous decline
// triggers. Called once at composition time.
func (s *Service) SetEscalationEngine(engine *Engine) {
	s.escalation = engine
}

// Repository exposes the backing repository for read-side collaborators.
func (s *Service) Repository() Repository { return s.repo }

// Clock exposes the time source shared with the loops.
func (s *Service) Clock() core.Clock { return s.clock }

// RetryPolicy exposes the delivery retry policy.
func (s *Service) RetryPolicy() RetryPolicy { return s.policy }

// -----------------------------------------------------------------------------
// Command surface
// -----------------------------------------------------------------------------

// CreateOptions carries the admin-supplied fields for a new reminder.
type CreateOptions struct {
	Content       string
	TargetUserID  string
	ScheduledTime time.Time
	Timezone      string
	CreatedBy     string
	Escalation    *EscalationRule
	RepeatRule    *RepeatRule
}

// Create validates opts, assigns an id and persists a new PENDING reminder.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*Reminder, error) {
	now := s.clock.Now()

	if err := ValidateContent(opts.Content); err != nil {
		return nil, err
	}
	if err := ValidateTargetUser(opts.TargetUserID); err != nil {
		return nil, err
	}
	if err := ValidateScheduledTime(opts.ScheduledTime, now); err != nil {
		return nil, err
	}
	if err := ValidateTimezone(opts.Timezone); err != nil {
		return nil, err
	}
	if err := ValidateEscalation(opts.Escalation, opts.TargetUserID); err != nil {
		return nil, err
	}
	if err := ValidateRepeatRule(opts.RepeatRule); err != nil {
		return nil, err
	}

	r := &Reminder{
		ID:             uuid.NewString(),
		Content:        opts.Content,
		TargetUserID:   opts.TargetUserID,
		ScheduledTime:  opts.ScheduledTime.UTC(),
		Timezone:       opts.Timezone,
		CreatedBy:      opts.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusPending,
		Responses:      []ResponseLog{},
		TestExecutions: []TestExecution{},
	}
	if opts.Escalation != nil {
		rule := *opts.Escalation
		rule.IsActive = true
		rule.TriggeredAt = nil
		rule.TriggerReason = ""
		r.Escalation = &rule
	}
	if opts.RepeatRule != nil {
		rule := *opts.RepeatRule
		rule.IsActive = true
		if rule.CurrentOccurrence < 1 {
			rule.CurrentOccurrence = 1
		}
		rule.NextScheduledTime = r.ScheduledTime
		r.RepeatRule = &rule
	}

	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.created", "has_escalation", boolLabel(r.Escalation != nil))
	s.logger.Info("Reminder created", map[string]interface{}{
		"operation":      "service_create",
		"reminder_id":    r.ID,
		"target_user_id": r.TargetUserID,
		"scheduled_time": r.ScheduledTime.Format(time.RFC3339),
		"created_by":     r.CreatedBy,
	})
	return r.Clone(), nil
}

// UpdateOptions carries a partial edit. Nil pointer fields are unchanged.
type UpdateOptions struct {
	Content       *string
	TargetUserID  *string
	ScheduledTime *time.Time
	Timezone      *string

	Escalation       *EscalationRule
	RemoveEscalation bool
	RepeatRule       *RepeatRule
	RemoveRepeatRule bool
}

// Update edits a reminder. Permitted only while PENDING; an unchanged delta
// still bumps UpdatedAt.
func (s *Service) Update(ctx context.Context, id string, opts UpdateOptions) (*Reminder, error) {
	var updated *Reminder
	err := s.mutate(ctx, id, func(r *Reminder) error {
		if r.Status != StatusPending {
			return &ConflictError{ID: id, Status: r.Status, Message: "IMMUTABLE_STATE: only pending reminders can be edited", Err: ErrImmutableState}
		}
		now := s.clock.Now()

		if opts.Content != nil {
			if err := ValidateContent(*opts.Content); err != nil {
				return err
			}
			r.Content = *opts.Content
		}
		if opts.TargetUserID != nil {
			if err := ValidateTargetUser(*opts.TargetUserID); err != nil {
				return err
			}
			r.TargetUserID = *opts.TargetUserID
		}
		if opts.ScheduledTime != nil {
			if err := ValidateScheduledTime(*opts.ScheduledTime, now); err != nil {
				return err
			}
			r.ScheduledTime = opts.ScheduledTime.UTC()
			if r.RepeatRule != nil {
				r.RepeatRule.NextScheduledTime = r.ScheduledTime
			}
		}
		if opts.Timezone != nil {
			if err := ValidateTimezone(*opts.Timezone); err != nil {
				return err
			}
			r.Timezone = *opts.Timezone
		}
		if opts.RemoveEscalation {
			r.Escalation = nil
		} else if opts.Escalation != nil {
			rule := *opts.Escalation
			rule.IsActive = true
			if err := ValidateEscalation(&rule, r.TargetUserID); err != nil {
				return err
			}
			r.Escalation = &rule
		} else if r.Escalation != nil {
			// Target edits must not leave an escalation pointing at the
			// target itself.
			if err := ValidateEscalation(r.Escalation, r.TargetUserID); err != nil {
				return err
			}
		}
		if opts.RemoveRepeatRule {
			r.RepeatRule = nil
		} else if opts.RepeatRule != nil {
			rule := *opts.RepeatRule
			rule.IsActive = true
			if rule.CurrentOccurrence < 1 {
				rule.CurrentOccurrence = 1
			}
			rule.NextScheduledTime = r.ScheduledTime
			if err := ValidateRepeatRule(&rule); err != nil {
				return err
			}
			r.RepeatRule = &rule
		}

		r.UpdatedAt = now
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// Cancel transitions a PENDING reminder to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*Reminder, error) {
	var cancelled *Reminder
	err := s.mutate(ctx, id, func(r *Reminder) error {
		if r.Status != StatusPending {
			return &ConflictError{ID: id, Status: r.Status, Message: "IMMUTABLE_STATE: only pending reminders can be cancelled", Err: ErrImmutableState}
		}
		now := s.clock.Now()
		r.Status = StatusCancelled
		r.UpdatedAt = now
		s.appendResponse(r, actor, ResponseCancelled, "", nil)
		cancelled = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.cancelled")
	s.logger.Info("Reminder cancelled", map[string]interface{}{
		"operation":   "service_cancel",
		"reminder_id": id,
		"actor":       actor,
	})
	return cancelled.Clone(), nil
}

// Delete hard-deletes a reminder in any state.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	telemetry.Counter("reminder.deleted")
	s.logger.Info("Reminder deleted", map[string]interface{}{
		"operation":   "service_delete",
		"reminder_id": id,
	})
	return nil
}

// Get returns a reminder by id.
func (s *Service) Get(ctx context.Context, id string) (*Reminder, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of reminders plus the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Reminder, int, error) {
	return s.repo.List(ctx, filter)
}

// Flush removes every reminder. Admin destructive.
func (s *Service) Flush(ctx context.Context) error {
	return s.repo.Flush(ctx)
}

// MarkAsDelivered transitions PENDING -> SENT after a successful transport
// send, recording the delivery and arming the ack deadline when an active
// escalation rule has a timeout trigger.
func (s *Service) MarkAsDelivered(ctx context.Context, id, messageID string) (*Reminder, error) {
	var delivered *Reminder
	err := s.mutate(ctx, id, func(r *Reminder) error {
		if r.Status != StatusPending {
			return &ConflictError{ID: id, Status: r.Status, Err: ErrInvalidTransition}
		}
		now := s.clock.Now()
		r.Status = StatusSent
		r.DeliveryAttempts++
		r.LastDeliveryAttempt = &now
		r.LastError = ""
		r.UpdatedAt = now
		s.appendResponse(r, SystemActor, ResponseDelivered, messageID, nil)
		delivered = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.delivered")
	s.logger.Info("Reminder delivered", map[string]interface{}{
		"operation":   "service_mark_delivered",
		"reminder_id": id,
		"message_id":  messageID,
		"attempts":    delivered.DeliveryAttempts,
	})
	return delivered.Clone(), nil
}

// RecordResponse maps an inbound acknowledge/decline onto the state machine.
// The same (id, actor, type) received twice produces one state transition and
// two log entries; it never moves the state backwards. A decline with an
// active decline trigger synchronously invokes the escalation engine after
// the response is durably recorded.
func (s *Service) RecordResponse(ctx context.Context, id, actor string, responseType ResponseType) (*Reminder, error) {
	if responseType != ResponseAcknowledged && responseType != ResponseDeclined {
		return nil, &ValidationError{Field: "response_type", Message: "must be acknowledged or declined"}
	}

	declineEscalates := false
	var recorded *Reminder
	err := s.mutate(ctx, id, func(r *Reminder) error {
		now := s.clock.Now()
		declineEscalates = false

		// A repeated (actor, type) pair is audit-only. The first press owns
		// the transition; without this check a target's duplicate decline
		// after a decline-escalation would consume the ESCALATED_DECLINED
		// transition reserved for the secondary recipient.
		if !r.AnsweredBy(actor, responseType) {
			declineEscalates = responseType == ResponseDeclined &&
				r.Escalation != nil && r.Escalation.IsActive && r.Escalation.HasTrigger(TriggerDecline)

			next := responseStatus(r.Status, responseType, declineEscalates)
			switch next {
			case "":
				// Late response: audit only, no transition.
			case StatusEscalated:
				// The transition happens inside the escalation engine after a
				// successful transport send; the response itself stays durable
				// either way.
			default:
				r.Status = next
			}
		}
		r.UpdatedAt = now
		s.appendResponse(r, actor, responseType, "", nil)
		recorded = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.response", "type", string(responseType))
	telemetry.AddSpanEvent(ctx, "reminder.response.recorded",
		attribute.String("reminder_id", id),
		attribute.String("response_type", string(responseType)),
	)
	s.logger.Info("Response recorded", map[string]interface{}{
		"operation":     "service_record_response",
		"reminder_id":   id,
		"actor":         actor,
		"response_type": string(responseType),
		"status":        string(recorded.Status),
	})

	if declineEscalates && recorded.Status == StatusSent && s.escalation != nil {
		escalated, escErr := s.escalation.Escalate(ctx, id, TriggerDecline)
		if escErr != nil {
			// The decline is durable; the timeout scan retries the send.
			s.logger.Error("Synchronous decline escalation failed", map[string]interface{}{
				"operation":   "service_record_response",
				"reminder_id": id,
				"error":       escErr.Error(),
			})
			return recorded.Clone(), nil
		}
		return escalated, nil
	}
	return recorded.Clone(), nil
}

// Reset returns a reminder to PENDING. Disallowed from the answered terminal
// states; this is an admin override, so it deliberately bypasses the normal
// transition table for the remaining states.
func (s *Service) Reset(ctx context.Context, id string) (*Reminder, error) {
	var reset *Reminder
	err := s.mutate(ctx, id, func(r *Reminder) error {
		if IsAnswered(r.Status) {
			return &ConflictError{ID: id, Status: r.Status, Message: "answered reminders cannot be reset"}
		}
		now := s.clock.Now()
		r.Status = StatusPending
		r.DeliveryAttempts = 0
		r.LastDeliveryAttempt = nil
		r.LastError = ""
		if r.Escalation != nil {
			r.Escalation.TriggeredAt = nil
			r.Escalation.TriggerReason = ""
			r.Escalation.FailedAttempts = 0
			r.Escalation.LastError = ""
			r.Escalation.IsActive = true
		}
		if !r.ScheduledTime.After(now) {
			// A reset of a past-due reminder dispatches on the next tick.
			r.ScheduledTime = now.Add(time.Minute)
		}
		r.UpdatedAt = now
		reset = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.reset")
	s.logger.Info("Reminder reset", map[string]interface{}{
		"operation":   "service_reset",
		"reminder_id": id,
	})
	return reset.Clone(), nil
}

// ExecuteTest runs a diagnostic against a reminder without altering its
// status. The execution record is appended whether or not the test passed.
func (s *Service) ExecuteTest(ctx context.Context, id string, testType TestType, preserveSchedule bool, actor string) (*TestExecution, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	exec := TestExecution{
		ID:                uuid.NewString(),
		ExecutedBy:        actor,
		ExecutedAt:        now,
		TestType:          testType,
		Result:            TestSuccess,
		PreservedSchedule: preserveSchedule,
	}

	switch testType {
	case TestImmediateDelivery:
		if _, sendErr := s.transport.SendReminder(ctx, r.TargetUserID, OutboundMessage{
			Content:    r.Content,
			ReminderID: r.ID,
		}); sendErr != nil {
			exec.Result = TestFailed
			exec.ErrorMessage = sendErr.Error()
		}
	case TestEscalationFlow:
		if r.Escalation == nil {
			exec.Result = TestPartial
			exec.ErrorMessage = "no escalation rule configured"
			break
		}
		text := fmt.Sprintf("[TEST] %s", s.escalationText(r, TriggerTimeout))
		if _, sendErr := s.transport.SendEscalation(ctx, r.Escalation.SecondaryUserID, text); sendErr != nil {
			exec.Result = TestFailed
			exec.ErrorMessage = sendErr.Error()
		}
	case TestValidation:
		if issues := ValidateReminder(r, now); len(issues) > 0 {
			msgs := make([]string, len(issues))
			for i, issue := range issues {
				msgs[i] = issue.Error()
			}
			exec.Result = TestFailed
			exec.ErrorMessage = strings.Join(msgs, "; ")
		}
	default:
		return nil, &ValidationError{Field: "test_type", Message: "must be immediate_delivery, escalation_flow or validation"}
	}

	err = s.mutate(ctx, id, func(r *Reminder) error {
		r.TestExecutions = append(r.TestExecutions, exec)
		r.UpdatedAt = s.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.test_executed", "type", string(testType), "result", string(exec.Result))
	return &exec, nil
}

// ScheduleNextRepeat creates the follow-up occurrence for a delivered
// reminder. Returns nil when the series reached its end condition, in which
// case the rule on the prior occurrence is marked inactive.
func (s *Service) ScheduleNextRepeat(ctx context.Context, prior *Reminder) (*Reminder, error) {
	if prior.RepeatRule == nil || !prior.RepeatRule.IsActive {
		return nil, nil
	}

	next, ok := nextRepeat(prior.RepeatRule)
	if !ok {
		err := s.mutate(ctx, prior.ID, func(r *Reminder) error {
			if r.RepeatRule != nil {
				r.RepeatRule.IsActive = false
			}
			r.UpdatedAt = s.clock.Now()
			return nil
		})
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		telemetry.Counter("reminder.repeat_completed")
		return nil, nil
	}

	now := s.clock.Now()
	rule := *prior.RepeatRule
	rule.CurrentOccurrence++
	rule.NextScheduledTime = next
	rule.IsActive = true

	var escalation *EscalationRule
	if prior.Escalation != nil {
		esc := *prior.Escalation
		esc.TriggeredAt = nil
		esc.TriggerReason = ""
		esc.FailedAttempts = 0
		esc.LastError = ""
		esc.IsActive = true
		esc.TriggerConditions = append([]TriggerCondition(nil), prior.Escalation.TriggerConditions...)
		escalation = &esc
	}

	occurrence := &Reminder{
		ID:             uuid.NewString(),
		Content:        prior.Content,
		TargetUserID:   prior.TargetUserID,
		ScheduledTime:  next.UTC(),
		Timezone:       prior.Timezone,
		CreatedBy:      prior.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusPending,
		Responses:      []ResponseLog{},
		TestExecutions: []TestExecution{},
		Escalation:     escalation,
		RepeatRule:     &rule,
	}

	if err := s.repo.Create(ctx, occurrence); err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.repeat_scheduled")
	s.logger.Info("Next repeat occurrence scheduled", map[string]interface{}{
		"operation":      "service_schedule_repeat",
		"prior_id":       prior.ID,
		"reminder_id":    occurrence.ID,
		"occurrence":     rule.CurrentOccurrence,
		"scheduled_time": next.Format(time.RFC3339),
	})
	return occurrence.Clone(), nil
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// mutate runs a read-modify-write cycle with a version-checked commit,
// re-reading and retrying a bounded number of times on conflict. The ack
// deadline index entry is derived from the record state after fn.
func (s *Service) mutate(ctx context.Context, id string, fn MutateFunc) error {
	return s.mutateWithDeadline(ctx, id, fn, nil)
}

// mutateWithDeadline is mutate with an explicit ack-deadline override.
// deadlineFn == nil derives the deadline from the record state.
func (s *Service) mutateWithDeadline(ctx context.Context, id string, fn MutateFunc, deadlineFn func(*Reminder) time.Time) error {
	err := resilience.RetryIf(ctx, commitRetryConfig, core.IsCommitConflict, func() error {
		r, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}

		deadline := ackDeadlineFor(r)
		if deadlineFn != nil {
			deadline = deadlineFn(r)
		}

		if err := s.repo.Update(ctx, r, deadline); err != nil {
			if core.IsCommitConflict(err) {
				telemetry.Counter("reminder.store_conflict")
			}
			return err
		}
		return nil
	})
	if err != nil && errors.Is(err, core.ErrMaxRetriesExceeded) {
		return &ConflictError{ID: id, Message: "commit kept losing to concurrent writers", Err: err}
	}
	return err
}

// appendResponse appends an audit entry, clamping the timestamp so the log
// stays non-decreasing even if the clock stepped backwards.
func (s *Service) appendResponse(r *Reminder, actor string, t ResponseType, messageID string, metadata map[string]string) {
	ts := s.clock.Now()
	if n := len(r.Responses); n > 0 && ts.Before(r.Responses[n-1].Timestamp) {
		ts = r.Responses[n-1].Timestamp
	}
	r.Responses = append(r.Responses, ResponseLog{
		ID:           uuid.NewString(),
		UserID:       actor,
		ResponseType: t,
		Timestamp:    ts,
		MessageID:    messageID,
		Metadata:     metadata,
	})
}

// escalationText renders the escalation message for a reminder, preferring
// the rule's custom template for the trigger.
func (s *Service) escalationText(r *Reminder, reason TriggerCondition) string {
	template := ""
	if r.Escalation != nil {
		if reason == TriggerDecline {
			template = r.Escalation.DeclineMessage
		} else {
			template = r.Escalation.TimeoutMessage
		}
	}
	if template == "" {
		if reason == TriggerDecline {
			template = "Reminder declined by <@{targetUserId}>: {content}"
		} else {
			template = "No response from <@{targetUserId}> within {timeoutMinutes} minutes: {content}"
		}
	}

	replacer := strings.NewReplacer(
		"{content}", r.Content,
		"{targetUserId}", r.TargetUserID,
		"{scheduledTime}", r.ScheduledTime.Format(time.RFC3339),
		"{timeoutMinutes}", fmt.Sprintf("%d", escalationTimeoutMinutes(r)),
	)
	return replacer.Replace(template)
}

func escalationTimeoutMinutes(r *Reminder) int {
	if r.Escalation == nil {
		return 0
	}
	return r.Escalation.TimeoutMinutes
}

// ackDeadlineFor derives the ack-deadline index entry from record state: a
// SENT reminder with an active timeout-trigger escalation keeps an entry at
// lastDeliveryAttempt + timeout; everything else has none.
func ackDeadlineFor(r *Reminder) time.Time {
	if r.Status != StatusSent || r.Escalation == nil || !r.Escalation.IsActive {
		return time.Time{}
	}
	if !r.Escalation.HasTrigger(TriggerTimeout) {
		return time.Time{}
	}
	if r.LastDeliveryAttempt == nil {
		return time.Time{}
	}
	return r.LastDeliveryAttempt.Add(r.Escalation.Timeout())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
